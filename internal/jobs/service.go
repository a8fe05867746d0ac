// Package jobs implements the editor-facing job operations: creation,
// upload confirmation, pipeline dispatch, retry, cancel and transcript reads.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"draftplane/internal/apierror"
	"draftplane/internal/fsm"
	"draftplane/internal/logger"
	"draftplane/internal/observability"
	"draftplane/internal/orchestrator"
	"draftplane/internal/store"
	"draftplane/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("draftplane/jobs")

// Service coordinates job state with the workflow orchestrator.
type Service struct {
	store         store.Store
	dispatcher    orchestrator.Dispatcher
	publicBaseURL string
	instruments   *observability.Instruments
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithInstruments(i *observability.Instruments) Option {
	return func(s *Service) { s.instruments = i }
}

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides uuid generation for job and dispatch ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// New creates a job service. publicBaseURL is where the orchestrator reaches
// the controller's status callback endpoint.
func New(st store.Store, dispatcher orchestrator.Dispatcher, publicBaseURL string, opts ...Option) *Service {
	s := &Service{
		store:         st,
		dispatcher:    dispatcher,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        slog.Default(),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create adds a new job in CREATED to one of the owner's projects.
func (s *Service) Create(ctx context.Context, ownerID, projectID string) (*store.Job, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierror.NotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if project.OwnerID != ownerID {
		return nil, apierror.NotFound()
	}

	job := &store.Job{
		ID:        s.newID(),
		ProjectID: project.ID,
		OwnerID:   ownerID,
		Status:    fsm.Created,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// Get returns the owner's job. Jobs owned by someone else are reported as
// not found.
func (s *Service) Get(ctx context.Context, ownerID, jobID string) (*store.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierror.NotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job.OwnerID != ownerID {
		return nil, apierror.NotFound()
	}
	return job, nil
}

// beginOwned opens the job transaction and checks ownership. On error no
// transaction is left open.
func (s *Service) beginOwned(ctx context.Context, ownerID, jobID string) (store.JobTx, store.Job, error) {
	tx, err := s.store.BeginJobTx(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.Job{}, apierror.NotFound()
	}
	if err != nil {
		return nil, store.Job{}, fmt.Errorf("failed to begin job transaction: %w", err)
	}
	job := tx.Job()
	if job.OwnerID != ownerID {
		tx.Rollback()
		return nil, store.Job{}, apierror.NotFound()
	}
	return tx, job, nil
}

func (s *Service) startSpan(ctx context.Context, name, jobID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("job.id", logger.SafeIdentifier(jobID, "job")),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) callbackURL(jobID string) string {
	return s.publicBaseURL + "/api/v1/internal/jobs/" + jobID + "/status"
}

// dispatch sends req to the orchestrator. Any failure is reported as
// ORCHESTRATOR_DISPATCH_FAILED so the caller can retry.
func (s *Service) dispatch(ctx context.Context, dispatchType store.DispatchType, req api.DispatchRequest) error {
	log := logger.FromContext(ctx, s.logger).With(
		"job", logger.SafeIdentifier(req.Payload[api.PayloadJobID], "job"),
		"dispatch_type", string(dispatchType),
	)
	if err := s.dispatcher.Dispatch(ctx, req); err != nil {
		s.instruments.RecordDispatch(ctx, string(dispatchType), observability.OutcomeFailed)
		log.Warn("orchestrator dispatch failed", "error", err)
		return apierror.DispatchFailed("Workflow orchestrator dispatch failed.")
	}
	s.instruments.RecordDispatch(ctx, string(dispatchType), observability.OutcomeApplied)
	log.Info("orchestrator dispatch accepted", "dispatch_id", req.DispatchID)
	return nil
}
