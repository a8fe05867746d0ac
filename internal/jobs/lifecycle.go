package jobs

import (
	"context"
	"fmt"
	"strings"

	"draftplane/internal/apierror"
	"draftplane/internal/fsm"
	"draftplane/internal/store"
)

// ConfirmResult is the outcome of an upload confirmation.
type ConfirmResult struct {
	Job      store.Job
	Replayed bool
}

// ConfirmUpload records the uploaded video and moves the job to UPLOADED.
// Confirming the same URI again is a replay. The URI can never change once
// confirmed.
func (s *Service) ConfirmUpload(ctx context.Context, ownerID, jobID, videoURI string) (res ConfirmResult, err error) {
	ctx, span := s.startSpan(ctx, "jobs.ConfirmUpload", jobID)
	defer func() { endSpan(span, err) }()

	uri := strings.TrimSpace(videoURI)
	if uri == "" {
		return ConfirmResult{}, apierror.Validation("video_uri is required.", map[string]any{"field": "video_uri"})
	}

	tx, job, err := s.beginOwned(ctx, ownerID, jobID)
	if err != nil {
		return ConfirmResult{}, err
	}
	defer tx.Rollback()

	if current := job.Manifest.Video(); current != "" {
		if current == uri {
			return ConfirmResult{Job: job, Replayed: true}, nil
		}
		return ConfirmResult{}, apierror.VideoURIConflict(current, uri)
	}

	prev := job.Status
	if err := store.Transition(&job, fsm.Uploaded, s.now().UTC()); err != nil {
		return ConfirmResult{}, err
	}
	if job.Manifest == nil {
		job.Manifest = &store.Manifest{}
	}
	job.Manifest.VideoURI = &uri

	if err := tx.PutJob(ctx, job); err != nil {
		return ConfirmResult{}, fmt.Errorf("failed to stage job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ConfirmResult{}, fmt.Errorf("failed to commit upload confirmation: %w", err)
	}
	s.instruments.RecordTransition(ctx, string(prev), string(job.Status))

	return ConfirmResult{Job: job}, nil
}

// Cancel moves the job to CANCELLED, records an editor audit entry and drops
// the live dispatch, all in one transaction.
func (s *Service) Cancel(ctx context.Context, ownerID, jobID, correlationID string) (res store.Job, err error) {
	ctx, span := s.startSpan(ctx, "jobs.Cancel", jobID)
	defer func() { endSpan(span, err) }()

	tx, job, err := s.beginOwned(ctx, ownerID, jobID)
	if err != nil {
		return store.Job{}, err
	}
	defer tx.Rollback()

	now := s.now().UTC()
	prev := job.Status
	if err := store.Transition(&job, fsm.Cancelled, now); err != nil {
		return store.Job{}, err
	}

	if err := tx.PutJob(ctx, job); err != nil {
		return store.Job{}, fmt.Errorf("failed to stage job: %w", err)
	}
	audit := store.NewTransitionAudit(job, prev, "editor", correlationID, now, now)
	if err := tx.AppendAudit(ctx, audit); err != nil {
		return store.Job{}, fmt.Errorf("failed to stage audit: %w", err)
	}
	if err := tx.DeleteDispatch(ctx); err != nil {
		return store.Job{}, fmt.Errorf("failed to stage dispatch removal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return store.Job{}, fmt.Errorf("failed to commit cancel: %w", err)
	}
	s.instruments.RecordTransition(ctx, string(prev), string(job.Status))

	return job, nil
}
