package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Callback outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Instruments holds the domain counters. A nil *Instruments records nothing.
type Instruments struct {
	transitions metric.Int64Counter
	callbacks   metric.Int64Counter
	dispatches  metric.Int64Counter
}

// NewInstruments creates the domain counters on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	transitions, err := meter.Int64Counter("draftplane.job.transitions",
		metric.WithDescription("Applied job status transitions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}
	callbacks, err := meter.Int64Counter("draftplane.callbacks",
		metric.WithDescription("Processed status callbacks by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create callbacks counter: %w", err)
	}
	dispatches, err := meter.Int64Counter("draftplane.dispatches",
		metric.WithDescription("Orchestrator dispatch attempts by type and outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatches counter: %w", err)
	}
	return &Instruments{transitions: transitions, callbacks: callbacks, dispatches: dispatches}, nil
}

func (i *Instruments) RecordTransition(ctx context.Context, from, to string) {
	if i == nil {
		return
	}
	i.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (i *Instruments) RecordCallback(ctx context.Context, outcome string) {
	if i == nil {
		return
	}
	i.callbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (i *Instruments) RecordDispatch(ctx context.Context, dispatchType, outcome string) {
	if i == nil {
		return
	}
	i.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", dispatchType),
		attribute.String("outcome", outcome),
	))
}

// RegisterActiveJobsGauge reports count on every collection.
func RegisterActiveJobsGauge(meter metric.Meter, count func(context.Context) (int64, error)) error {
	_, err := meter.Int64ObservableGauge(
		"draftplane.jobs.active",
		metric.WithDescription("Jobs not yet in a terminal status"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := count(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register active jobs gauge: %w", err)
	}
	return nil
}
