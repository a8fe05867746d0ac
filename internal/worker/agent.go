// Package worker runs orchestrator dispatches on a container runtime.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"draftplane/internal/fsm"
	"draftplane/internal/logger"
	"draftplane/internal/worker/runtime"
	"draftplane/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrQueueFull is returned by Enqueue when no queue slot is free.
	ErrQueueFull = errors.New("worker: dispatch queue is full")
	// ErrDraining is returned by Enqueue once shutdown has begun.
	ErrDraining = errors.New("worker: shutting down")
)

// Failure codes reported on FAILED callbacks.
const (
	FailureStartFailed = "WORKER_START_FAILED"
	FailureTimeout     = "WORKER_TIMEOUT"
	FailureExit        = "WORKER_EXIT_NONZERO"
	FailureWait        = "WORKER_WAIT_FAILED"
	FailureShutdown    = "WORKER_SHUTDOWN"
)

// Failed stages reported on FAILED callbacks.
const (
	StageRuntimeStart = "runtime_start"
	StagePipeline     = "pipeline"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID          string
	Concurrency int
	// QueueSize bounds dispatches accepted but not yet started (default: 64).
	QueueSize int
	// ControllerURL is used when a dispatch carries no callback_url.
	ControllerURL  string
	CallbackSecret string

	Image   string
	Command []string
	// Timeout bounds a single run (default: 1h).
	Timeout time.Duration
}

// Agent runs queued dispatches with bounded concurrency.
type Agent struct {
	runtime    runtime.Runtime
	config     AgentConfig
	logger     *slog.Logger
	httpClient *http.Client
	now        func() time.Time

	queue    chan queuedDispatch
	draining atomic.Bool
	done     chan struct{}
}

// queuedDispatch carries the trace context of the request that enqueued it.
type queuedDispatch struct {
	req   api.DispatchRequest
	trace propagation.MapCarrier
}

// New creates a new worker agent.
func New(rt runtime.Runtime, config AgentConfig, log *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Hour
	}
	config.ControllerURL = strings.TrimRight(config.ControllerURL, "/")
	if log == nil {
		log = slog.Default()
	}

	return &Agent{
		runtime: rt,
		config:  config,
		logger:  log.With("worker", config.ID),
		now:     time.Now,
		queue:   make(chan queuedDispatch, config.QueueSize),
		done:    make(chan struct{}),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enqueue accepts a dispatch for execution. The trace context of ctx is
// carried over to the run.
func (a *Agent) Enqueue(ctx context.Context, req api.DispatchRequest) error {
	if a.draining.Load() {
		return ErrDraining
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	select {
	case a.queue <- queuedDispatch{req: req, trace: carrier}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run executes queued dispatches until ctx is cancelled. On cancellation
// dispatches that never started are reported as failed and in-flight runs
// are allowed to finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting", "concurrency", a.config.Concurrency)

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			a.draining.Store(true)
			a.failQueued()
			a.logger.Info("context cancelled, waiting for running dispatches to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case item := <-a.queue:
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// Not started; reported with the rest of the queue.
				a.failDispatch(context.Background(), item.req, FailureShutdown, StagePipeline, "Worker shut down before the dispatch started.")
				continue
			}

			wg.Add(1)
			go func(item queuedDispatch) {
				defer wg.Done()
				defer func() { <-sem }()
				a.process(ctx, item)
			}(item)
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

func (a *Agent) failQueued() {
	for {
		select {
		case item := <-a.queue:
			a.failDispatch(context.Background(), item.req, FailureShutdown, StagePipeline, "Worker shut down before the dispatch started.")
		default:
			return
		}
	}
}

// env builds the run environment from the dispatch payload.
func env(req api.DispatchRequest) map[string]string {
	p := req.Payload
	return map[string]string{
		runtime.EnvDispatchID:       req.DispatchID,
		runtime.EnvDispatchType:     req.DispatchType,
		runtime.EnvJobID:            p[api.PayloadJobID],
		runtime.EnvProjectID:        p[api.PayloadProjectID],
		runtime.EnvVideoURI:         p[api.PayloadVideoURI],
		runtime.EnvCallbackURL:      p[api.PayloadCallbackURL],
		runtime.EnvResumeFromStatus: p[api.PayloadResumeFromStatus],
		runtime.EnvCheckpointRef:    p[api.PayloadCheckpointRef],
		runtime.EnvModelProfile:     p[api.PayloadModelProfile],
	}
}

// process runs one dispatch to completion.
func (a *Agent) process(ctx context.Context, item queuedDispatch) {
	req := item.req
	jobID := req.Payload[api.PayloadJobID]
	log := a.logger.With(
		"dispatch", req.DispatchID,
		"type", req.DispatchType,
		"job", logger.SafeIdentifier(jobID, "job"),
	)

	traceCtx := otel.GetTextMapPropagator().Extract(ctx, item.trace)
	spanCtx, span := otel.Tracer("draftplane/worker").Start(traceCtx, "process_dispatch",
		trace.WithAttributes(
			attribute.String("dispatch.id", req.DispatchID),
			attribute.String("dispatch.type", req.DispatchType),
			attribute.String("job.id", logger.SafeIdentifier(jobID, "job")),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	// The run continues through a graceful drain; only its own timeout
	// cuts it short.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(spanCtx), a.config.Timeout)
	defer cancel()

	log.Info("starting dispatch")
	handle, err := a.runtime.Start(runCtx, runtime.StartOptions{
		Name:    req.DispatchID,
		Image:   a.config.Image,
		Command: a.config.Command,
		Env:     env(req),
		Timeout: a.config.Timeout,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		log.Error("failed to start runtime", "error", err)
		a.failDispatch(runCtx, req, FailureStartFailed, StageRuntimeStart, "Failed to start the pipeline runtime.")
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.streamLogs(runCtx, log, handle)
	}()

	result, err := handle.Wait(runCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "wait failed")

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if stopErr := handle.Stop(stopCtx); stopErr != nil {
			log.Warn("failed to stop runtime", "error", stopErr)
		}
		wg.Wait()

		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			log.Error("dispatch timed out", "timeout", a.config.Timeout)
			a.failDispatch(context.Background(), req, FailureTimeout, StagePipeline,
				fmt.Sprintf("Pipeline run timed out after %v.", a.config.Timeout))
			return
		}
		log.Error("runtime wait failed", "error", err)
		a.failDispatch(context.Background(), req, FailureWait, StagePipeline, "Pipeline runtime failed while waiting for completion.")
		return
	}
	wg.Wait()

	span.SetAttributes(attribute.Int("exit_code", result.ExitCode))
	if result.ExitCode == 0 {
		log.Info("dispatch completed")
		return
	}

	message := fmt.Sprintf("Pipeline exited with code %d.", result.ExitCode)
	if result.Error != nil {
		span.RecordError(result.Error)
	}
	span.SetStatus(codes.Error, "non-zero exit")
	log.Error("dispatch failed", "exit_code", result.ExitCode)
	a.failDispatch(runCtx, req, FailureExit, StagePipeline, message)
}

// streamLogs copies the run's output line by line into the worker log.
func (a *Agent) streamLogs(ctx context.Context, log *slog.Logger, handle runtime.Handle) {
	rc, err := handle.StreamLogs(ctx)
	if err != nil {
		log.Warn("failed to get log stream", "error", err)
		return
	}
	if rc == nil {
		return
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.ReplaceAll(scanner.Text(), "\x00", "")
		log.Info("pipeline output", "line", line)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Warn("log stream ended with error", "error", err)
	}
}

// callbackURL prefers the URL the controller put in the payload.
func (a *Agent) callbackURL(req api.DispatchRequest) string {
	if u := req.Payload[api.PayloadCallbackURL]; u != "" {
		return u
	}
	return fmt.Sprintf("%s/api/v1/internal/jobs/%s/status", a.config.ControllerURL, req.Payload[api.PayloadJobID])
}

// failDispatch posts the FAILED status callback for req. The event id is
// derived from the dispatch and occurred_at is taken per call, so a second
// report for the same dispatch is refused as a payload mismatch instead of
// being applied twice. A retry resumed from UPLOADED or DRAFT_READY has no
// edge to FAILED; the controller rejects that report and it is only logged.
func (a *Agent) failDispatch(ctx context.Context, req api.DispatchRequest, code, stage, message string) {
	occurredAt := a.now().UTC()
	actor := "system"
	body := api.StatusCallbackRequest{
		EventID:        req.DispatchID + "-failed",
		Status:         string(fsm.Failed),
		OccurredAt:     &occurredAt,
		CorrelationID:  req.DispatchID,
		ActorType:      &actor,
		FailureCode:    &code,
		FailureMessage: &message,
		FailedStage:    &stage,
	}
	if err := a.postCallback(ctx, a.callbackURL(req), body); err != nil {
		a.logger.Error("failed to report dispatch failure",
			"dispatch", req.DispatchID,
			"failure_code", code,
			"error", err,
		)
		return
	}
	a.logger.Info("reported dispatch failure", "dispatch", req.DispatchID, "failure_code", code)
}

func (a *Agent) postCallback(ctx context.Context, url string, body api.StatusCallbackRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode callback: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(api.CallbackSecretHeader, a.config.CallbackSecret)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	default:
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Code != "" {
			return fmt.Errorf("controller returned status %d: %s", resp.StatusCode, apiErr.Code)
		}
		return fmt.Errorf("controller returned status %d", resp.StatusCode)
	}
}
