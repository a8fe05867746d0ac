package jobs

import (
	"context"
	"fmt"
	"strings"

	"draftplane/internal/apierror"
	"draftplane/internal/fsm"
	"draftplane/internal/store"
	"draftplane/pkg/api"
)

// RunResult is the outcome of starting the pipeline.
type RunResult struct {
	JobID      string
	Status     fsm.Status
	DispatchID string
	Replayed   bool
}

// Run dispatches the initial pipeline run of an UPLOADED job and moves it to
// AUDIO_EXTRACTING. A job that already has a live run dispatch is replayed
// without contacting the orchestrator again.
func (s *Service) Run(ctx context.Context, ownerID, jobID string) (res RunResult, err error) {
	ctx, span := s.startSpan(ctx, "jobs.Run", jobID)
	defer func() { endSpan(span, err) }()

	tx, job, err := s.beginOwned(ctx, ownerID, jobID)
	if err != nil {
		return RunResult{}, err
	}
	defer tx.Rollback()

	live, err := tx.Dispatch(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to load dispatch: %w", err)
	}
	if live != nil && live.Type == store.DispatchRun {
		return RunResult{JobID: job.ID, Status: job.Status, DispatchID: live.ID, Replayed: true}, nil
	}

	if job.Status != fsm.Uploaded {
		if err := fsm.EnsureTransition(job.Status, fsm.AudioExtracting); err != nil {
			return RunResult{}, err
		}
		// AUDIO_EXTRACTING -> AUDIO_EXTRACTING is a valid callback self-loop
		// but never a valid run.
		return RunResult{}, fsm.TransitionInvalid(job.Status, fsm.AudioExtracting)
	}
	videoURI := job.Manifest.Video()
	if videoURI == "" {
		return RunResult{}, fsm.TransitionInvalid(job.Status, fsm.AudioExtracting)
	}

	now := s.now().UTC()
	d := store.WorkflowDispatch{
		ID:    "dispatch-" + s.newID(),
		JobID: job.ID,
		Type:  store.DispatchRun,
		Payload: map[string]string{
			api.PayloadJobID:       job.ID,
			api.PayloadProjectID:   job.ProjectID,
			api.PayloadVideoURI:    videoURI,
			api.PayloadCallbackURL: s.callbackURL(job.ID),
		},
		CreatedAt: now,
	}
	if err := s.dispatch(ctx, d.Type, api.DispatchRequest{DispatchID: d.ID, DispatchType: string(d.Type), Payload: d.Payload}); err != nil {
		return RunResult{}, err
	}

	prev := job.Status
	if err := store.Transition(&job, fsm.AudioExtracting, now); err != nil {
		return RunResult{}, err
	}
	if err := tx.PutDispatch(ctx, d); err != nil {
		return RunResult{}, fmt.Errorf("failed to stage dispatch: %w", err)
	}
	if err := tx.PutJob(ctx, job); err != nil {
		return RunResult{}, fmt.Errorf("failed to stage job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return RunResult{}, fmt.Errorf("failed to commit run: %w", err)
	}
	s.instruments.RecordTransition(ctx, string(prev), string(job.Status))

	return RunResult{JobID: job.ID, Status: job.Status, DispatchID: d.ID}, nil
}

// RetryInput carries the caller's retry request.
type RetryInput struct {
	ModelProfile    string
	ClientRequestID string
}

// RetryResult is the outcome of an accepted or replayed retry.
type RetryResult struct {
	JobID            string
	Status           fsm.Status
	ResumeFromStatus fsm.Status
	CheckpointRef    string
	ModelProfile     string
	DispatchID       string
	Replayed         bool
}

// inProgress are the statuses in which pipeline work is still running.
var inProgress = map[fsm.Status]bool{
	fsm.Uploading:       true,
	fsm.AudioExtracting: true,
	fsm.Transcribing:    true,
	fsm.Generating:      true,
	fsm.Regenerating:    true,
	fsm.Exporting:       true,
}

// resolveCheckpoint picks the most advanced artifact of the manifest.
func resolveCheckpoint(m *store.Manifest) (fsm.Status, string, bool) {
	if m == nil {
		return "", "", false
	}
	switch {
	case m.DraftURI != nil:
		return fsm.DraftReady, *m.DraftURI, true
	case m.TranscriptURI != nil:
		return fsm.TranscriptReady, *m.TranscriptURI, true
	case m.AudioURI != nil:
		return fsm.AudioReady, *m.AudioURI, true
	case m.VideoURI != nil:
		return fsm.Uploaded, *m.VideoURI, true
	}
	return "", "", false
}

func retrySignature(modelProfile string, resume fsm.Status, checkpointRef string) string {
	return modelProfile + "|" + string(resume) + "|" + checkpointRef
}

// Retry re-dispatches a FAILED job from its most advanced checkpoint. The
// client request id makes the call idempotent: the same request replays the
// original dispatch, a different request with the same id is rejected.
func (s *Service) Retry(ctx context.Context, ownerID, jobID string, in RetryInput) (res RetryResult, err error) {
	ctx, span := s.startSpan(ctx, "jobs.Retry", jobID)
	defer func() { endSpan(span, err) }()

	tx, job, err := s.beginOwned(ctx, ownerID, jobID)
	if err != nil {
		return RetryResult{}, err
	}
	defer tx.Rollback()

	profile := strings.TrimSpace(in.ModelProfile)
	if profile == "" {
		return RetryResult{}, apierror.RetryNotAllowed("model_profile is required for retry.", map[string]any{
			"current_status": string(job.Status),
		})
	}

	resume, checkpoint, hasCheckpoint := resolveCheckpoint(job.Manifest)
	signature := retrySignature(profile, resume, checkpoint)

	if in.ClientRequestID != "" {
		prior, err := tx.RetryRequest(ctx, in.ClientRequestID)
		if err != nil {
			return RetryResult{}, fmt.Errorf("failed to load retry request: %w", err)
		}
		if prior != nil {
			if prior.Signature != signature {
				return RetryResult{}, apierror.JobAlreadyRunning("client_request_id was already used for a different retry.", map[string]any{
					"client_request_id": in.ClientRequestID,
				})
			}
			return RetryResult{
				JobID:            job.ID,
				Status:           job.Status,
				ResumeFromStatus: prior.ResumeFromStatus,
				CheckpointRef:    prior.CheckpointRef,
				ModelProfile:     prior.ModelProfile,
				DispatchID:       prior.DispatchID,
				Replayed:         true,
			}, nil
		}
	}

	if inProgress[job.Status] {
		return RetryResult{}, apierror.JobAlreadyRunning("Job is already running.", map[string]any{
			"current_status": string(job.Status),
		})
	}
	if job.Status != fsm.Failed {
		return RetryResult{}, apierror.RetryNotAllowed("Retry is only allowed from FAILED.", map[string]any{
			"current_status":   string(job.Status),
			"attempted_status": string(fsm.Regenerating),
		})
	}

	live, err := tx.Dispatch(ctx)
	if err != nil {
		return RetryResult{}, fmt.Errorf("failed to load dispatch: %w", err)
	}
	// A FAILED callback closes the live dispatch, so one still recorded here
	// is a run or retry the orchestrator has not finished.
	if live != nil {
		return RetryResult{}, apierror.JobAlreadyRunning(fmt.Sprintf("A %s dispatch is already running.", live.Type), map[string]any{
			"current_status": string(job.Status),
			"dispatch_id":    live.ID,
			"dispatch_type":  string(live.Type),
		})
	}

	if !hasCheckpoint {
		return RetryResult{}, apierror.RetryNotAllowed("No checkpoint artifact is available for retry.", map[string]any{
			"current_status": string(job.Status),
		})
	}

	now := s.now().UTC()
	d := store.WorkflowDispatch{
		ID:    "dispatch-" + s.newID(),
		JobID: job.ID,
		Type:  store.DispatchRetry,
		Payload: map[string]string{
			api.PayloadJobID:            job.ID,
			api.PayloadProjectID:        job.ProjectID,
			api.PayloadVideoURI:         job.Manifest.Video(),
			api.PayloadCallbackURL:      s.callbackURL(job.ID),
			api.PayloadResumeFromStatus: string(resume),
			api.PayloadCheckpointRef:    checkpoint,
			api.PayloadModelProfile:     profile,
		},
		CreatedAt: now,
	}
	if err := s.dispatch(ctx, d.Type, api.DispatchRequest{DispatchID: d.ID, DispatchType: string(d.Type), Payload: d.Payload}); err != nil {
		return RetryResult{}, err
	}

	job.RetryResumeFromStatus = resume
	job.RetryCheckpointRef = checkpoint
	job.RetryModelProfile = profile
	job.RetryClientRequestID = in.ClientRequestID
	job.RetryDispatchID = d.ID
	job.UpdatedAt = &now

	if err := tx.PutJob(ctx, job); err != nil {
		return RetryResult{}, fmt.Errorf("failed to stage job: %w", err)
	}
	if err := tx.PutDispatch(ctx, d); err != nil {
		return RetryResult{}, fmt.Errorf("failed to stage dispatch: %w", err)
	}
	if in.ClientRequestID != "" {
		err := tx.PutRetryRequest(ctx, store.RetryRequest{
			JobID:            job.ID,
			ClientRequestID:  in.ClientRequestID,
			Signature:        signature,
			ResumeFromStatus: resume,
			CheckpointRef:    checkpoint,
			ModelProfile:     profile,
			DispatchID:       d.ID,
			CreatedAt:        now,
		})
		if err != nil {
			return RetryResult{}, fmt.Errorf("failed to stage retry request: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return RetryResult{}, fmt.Errorf("failed to commit retry: %w", err)
	}

	return RetryResult{
		JobID:            job.ID,
		Status:           job.Status,
		ResumeFromStatus: resume,
		CheckpointRef:    checkpoint,
		ModelProfile:     profile,
		DispatchID:       d.ID,
	}, nil
}
