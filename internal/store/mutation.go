package store

import (
	"context"
	"fmt"
	"time"

	"draftplane/internal/fsm"
)

// Transition moves job to the given status. On an FSM violation the job is
// left untouched and the typed error is returned.
func Transition(job *Job, to fsm.Status, now time.Time) error {
	if err := fsm.EnsureTransition(job.Status, to); err != nil {
		return err
	}
	job.Status = to
	job.UpdatedAt = &now
	return nil
}

// NewTransitionAudit builds the audit record of a prev -> next transition.
func NewTransitionAudit(job Job, prev fsm.Status, actorType, correlationID string, occurredAt, recordedAt time.Time) TransitionAudit {
	return TransitionAudit{
		EventType:     TransitionAuditEventType,
		JobID:         job.ID,
		ProjectID:     job.ProjectID,
		ActorType:     actorType,
		PrevStatus:    prev,
		NewStatus:     job.Status,
		OccurredAt:    occurredAt.UTC(),
		RecordedAt:    recordedAt.UTC(),
		CorrelationID: correlationID,
	}
}

// ApplyCallbackMutation stages, in order, the status transition, the
// manifest merge, the failure metadata and the callback bookkeeping of event
// on tx. Nothing is visible until the caller commits, so any returned error
// leaves every record exactly as it was once tx is rolled back.
//
// While a retry is being resumed the transition is validated from the
// persisted resume status rather than FAILED. Applying such a callback
// consumes the retry dispatch so it cannot unlock resume validation twice.
func ApplyCallbackMutation(ctx context.Context, tx JobTx, event CallbackEvent, now time.Time, fp *FailPoints) (Job, error) {
	job := tx.Job()
	prev := job.Status

	source := job.Status
	resuming := job.ResumingRetry()
	if resuming {
		source = job.RetryResumeFromStatus
	}
	if err := fsm.EnsureTransition(source, event.Status); err != nil {
		return Job{}, err
	}
	job.Status = event.Status
	job.UpdatedAt = &now
	if resuming {
		job.RetryDispatchID = ""
	}
	if err := fp.Check(event.EventID, StageAfterStatus); err != nil {
		return Job{}, err
	}

	updates, err := ParseArtifactUpdates(event.ArtifactUpdates)
	if err != nil {
		return Job{}, err
	}
	job.Manifest = MergeManifest(job.Manifest, updates.Manifest)
	if err := fp.Check(event.EventID, StageAfterManifest); err != nil {
		return Job{}, err
	}

	applyFailureMetadata(&job, event)
	if err := fp.Check(event.EventID, StageAfterFailureMetadata); err != nil {
		return Job{}, err
	}

	if err := tx.PutJob(ctx, job); err != nil {
		return Job{}, fmt.Errorf("put job: %w", err)
	}
	// A failed pipeline has nothing left running.
	if event.Status == fsm.Failed {
		if err := tx.DeleteDispatch(ctx); err != nil {
			return Job{}, fmt.Errorf("delete dispatch: %w", err)
		}
	}
	if updates.HasTranscript {
		if err := tx.PutTranscript(ctx, updates.Transcript); err != nil {
			return Job{}, fmt.Errorf("put transcript: %w", err)
		}
	}
	if err := tx.PutCallbackEvent(ctx, event); err != nil {
		return Job{}, fmt.Errorf("put callback event: %w", err)
	}
	audit := NewTransitionAudit(job, prev, event.Actor(), event.CorrelationID, event.OccurredAt, now)
	if err := tx.AppendAudit(ctx, audit); err != nil {
		return Job{}, fmt.Errorf("append audit: %w", err)
	}
	if err := tx.SetLatestCallbackAt(ctx, event.OccurredAt); err != nil {
		return Job{}, fmt.Errorf("set latest callback: %w", err)
	}
	if err := fp.Check(event.EventID, StageAfterCallbackEvent); err != nil {
		return Job{}, err
	}

	return job, nil
}

// applyFailureMetadata overwrites only the failure fields the event carries.
func applyFailureMetadata(job *Job, event CallbackEvent) {
	if event.FailureCode != nil {
		job.FailureCode = cloneString(event.FailureCode)
	}
	if event.FailureMessage != nil {
		job.FailureMessage = cloneString(event.FailureMessage)
	}
	if event.FailedStage != nil {
		job.FailedStage = cloneString(event.FailedStage)
	}
}
