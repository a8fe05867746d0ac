// Package callbacks ingests orchestrator status callbacks.
//
// Each callback is applied under the job's transaction: it is either a
// replay of an already stored event, a rejected conflict, or a full
// all-or-nothing mutation of the job and its bookkeeping records.
package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"draftplane/internal/apierror"
	"draftplane/internal/fsm"
	"draftplane/internal/logger"
	"draftplane/internal/observability"
	"draftplane/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultActorType is audited when a callback does not name its actor.
const DefaultActorType = store.DefaultActorType

var tracer = otel.Tracer("draftplane/callbacks")

// StatusCallback is a validated status notification for one job.
type StatusCallback struct {
	EventID         string
	Status          fsm.Status
	OccurredAt      time.Time
	CorrelationID   string
	ActorType       *string
	ArtifactUpdates json.RawMessage
	FailureCode     *string
	FailureMessage  *string
	FailedStage     *string
}

// Validate checks the fields every callback must carry.
func (c StatusCallback) Validate() error {
	var missing []string
	if strings.TrimSpace(c.EventID) == "" {
		missing = append(missing, "event_id")
	}
	if !fsm.Valid(c.Status) {
		missing = append(missing, "status")
	}
	if c.OccurredAt.IsZero() {
		missing = append(missing, "occurred_at")
	}
	if strings.TrimSpace(c.CorrelationID) == "" {
		missing = append(missing, "correlation_id")
	}
	if len(bytes.TrimSpace(c.ArtifactUpdates)) > 0 {
		if _, err := store.ParseArtifactUpdates(c.ArtifactUpdates); err != nil {
			missing = append(missing, "artifact_updates")
		}
	}
	if len(missing) > 0 {
		return apierror.Validation("Invalid callback payload", map[string]any{"invalid_fields": missing})
	}
	return nil
}

// Result is the job state after a callback was applied or replayed.
type Result struct {
	JobID                   string
	EventID                 string
	Replayed                bool
	CurrentStatus           fsm.Status
	LatestAppliedOccurredAt *time.Time
}

// Processor applies status callbacks.
type Processor struct {
	store       store.JobStore
	failPoints  *store.FailPoints
	instruments *observability.Instruments
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithFailPoints arms fault injection inside the callback mutation.
func WithFailPoints(fp *store.FailPoints) Option {
	return func(p *Processor) { p.failPoints = fp }
}

func WithInstruments(i *observability.Instruments) Option {
	return func(p *Processor) { p.instruments = i }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(st store.JobStore, opts ...Option) *Processor {
	p := &Processor{
		store:  st,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies cb to the job. Every failure leaves the job and its
// records untouched.
func (p *Processor) Process(ctx context.Context, jobID string, cb StatusCallback) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "callbacks.Process", trace.WithAttributes(
		attribute.String("job.id", logger.SafeIdentifier(jobID, "job")),
		attribute.String("callback.status", string(cb.Status)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := logger.FromContext(ctx, p.logger).With(
		"job", logger.SafeIdentifier(jobID, "job"),
		"event", logger.SafeIdentifier(cb.EventID, "event"),
		"status", string(cb.Status),
	)

	if err := cb.Validate(); err != nil {
		p.instruments.RecordCallback(ctx, observability.OutcomeRejected)
		return Result{}, err
	}
	event, err := p.toEvent(jobID, cb)
	if err != nil {
		return Result{}, err
	}

	tx, err := p.store.BeginJobTx(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		p.instruments.RecordCallback(ctx, observability.OutcomeRejected)
		return Result{}, apierror.NotFound()
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to begin job transaction: %w", err)
	}
	defer tx.Rollback()

	job := tx.Job()

	prior, err := tx.CallbackEvent(ctx, event.EventID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load callback event: %w", err)
	}
	if prior != nil {
		if !sameEvent(*prior, event) {
			p.instruments.RecordCallback(ctx, observability.OutcomeRejected)
			log.Warn("callback event_id reused with a different payload")
			return Result{}, apierror.EventPayloadMismatch(event.EventID)
		}
		latest, err := tx.LatestCallbackAt(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("failed to load latest callback: %w", err)
		}
		p.instruments.RecordCallback(ctx, observability.OutcomeReplayed)
		log.Info("callback replayed")
		return Result{
			JobID:                   job.ID,
			EventID:                 event.EventID,
			Replayed:                true,
			CurrentStatus:           job.Status,
			LatestAppliedOccurredAt: latest,
		}, nil
	}

	latest, err := tx.LatestCallbackAt(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load latest callback: %w", err)
	}
	if latest != nil && !event.OccurredAt.After(*latest) {
		p.instruments.RecordCallback(ctx, observability.OutcomeRejected)
		log.Warn("callback out of order", "latest_applied_occurred_at", latest.UTC())
		return Result{}, apierror.CallbackOutOfOrder(map[string]any{
			"latest_applied_occurred_at": latest.UTC().Format(time.RFC3339Nano),
			"current_status":             string(job.Status),
			"attempted_status":           string(event.Status),
		})
	}

	updated, err := store.ApplyCallbackMutation(ctx, tx, event, p.now().UTC(), p.failPoints)
	if err != nil {
		if _, ok := apierror.As(err); ok {
			p.instruments.RecordCallback(ctx, observability.OutcomeRejected)
			log.Warn("callback rejected", "error", err)
			return Result{}, err
		}
		p.instruments.RecordCallback(ctx, observability.OutcomeFailed)
		return Result{}, fmt.Errorf("failed to apply callback: %w", err)
	}
	if err := tx.Commit(); err != nil {
		p.instruments.RecordCallback(ctx, observability.OutcomeFailed)
		return Result{}, fmt.Errorf("failed to commit callback: %w", err)
	}

	p.instruments.RecordCallback(ctx, observability.OutcomeApplied)
	p.instruments.RecordTransition(ctx, string(job.Status), string(updated.Status))
	log.Info("callback applied", "prev_status", string(job.Status))

	applied := event.OccurredAt
	return Result{
		JobID:                   updated.ID,
		EventID:                 event.EventID,
		CurrentStatus:           updated.Status,
		LatestAppliedOccurredAt: &applied,
	}, nil
}

// toEvent builds the record that is stored and compared. Fields are kept as
// sent; only the artifact document is canonicalized and occurred_at is cut to
// the microsecond precision of the durable backend.
func (p *Processor) toEvent(jobID string, cb StatusCallback) (store.CallbackEvent, error) {
	artifacts, err := canonicalArtifacts(cb.ArtifactUpdates)
	if err != nil {
		return store.CallbackEvent{}, apierror.Validation("Invalid callback payload", map[string]any{
			"invalid_fields": []string{"artifact_updates"},
		})
	}
	return store.CallbackEvent{
		JobID:           jobID,
		EventID:         cb.EventID,
		Status:          cb.Status,
		OccurredAt:      cb.OccurredAt.UTC().Truncate(time.Microsecond),
		ActorType:       cb.ActorType,
		ArtifactUpdates: artifacts,
		FailureCode:     cb.FailureCode,
		FailureMessage:  cb.FailureMessage,
		FailedStage:     cb.FailedStage,
		CorrelationID:   cb.CorrelationID,
	}, nil
}

// canonicalArtifacts treats an absent and a null document alike. An empty
// object is a document of its own.
func canonicalArtifacts(raw json.RawMessage) (json.RawMessage, error) {
	return store.CanonicalJSON(raw)
}

// sameEvent compares the full payload signature of two callback records.
func sameEvent(a, b store.CallbackEvent) bool {
	return a.Status == b.Status &&
		a.OccurredAt.Equal(b.OccurredAt) &&
		sameString(a.ActorType, b.ActorType) &&
		a.CorrelationID == b.CorrelationID &&
		sameString(a.FailureCode, b.FailureCode) &&
		sameString(a.FailureMessage, b.FailureMessage) &&
		sameString(a.FailedStage, b.FailedStage) &&
		sameJSON(a.ArtifactUpdates, b.ArtifactUpdates)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameJSON compares stored and incoming artifact documents. Stored records
// from a durable backend may come back re-encoded, so both sides are
// canonicalized.
func sameJSON(a, b json.RawMessage) bool {
	ca, errA := canonicalArtifacts(a)
	cb, errB := canonicalArtifacts(b)
	if errA != nil || errB != nil {
		return false
	}
	if ca == nil || cb == nil {
		return ca == nil && cb == nil
	}
	return bytes.Equal(ca, cb)
}
