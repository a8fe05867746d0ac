package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"draftplane/internal/fsm"
	"draftplane/internal/store"

	"github.com/lib/pq"
)

const jobColumns = `id, project_id, owner_id, status, created_at, updated_at,
	has_manifest, video_uri, audio_uri, transcript_uri, draft_uri, exports,
	failure_code, failure_message, failed_stage,
	retry_resume_from_status, retry_checkpoint_ref, retry_model_profile,
	retry_client_request_id, retry_dispatch_id`

func jobArgs(j *store.Job) []interface{} {
	m := j.Manifest
	hasManifest := m != nil
	if m == nil {
		m = &store.Manifest{}
	}
	var exports interface{}
	if m.Exports != nil {
		exports = pq.Array(m.Exports)
	}
	return []interface{}{
		j.ID, j.ProjectID, j.OwnerID, string(j.Status), j.CreatedAt, j.UpdatedAt,
		hasManifest, m.VideoURI, m.AudioURI, m.TranscriptURI, m.DraftURI, exports,
		j.FailureCode, j.FailureMessage, j.FailedStage,
		string(j.RetryResumeFromStatus), j.RetryCheckpointRef, j.RetryModelProfile,
		j.RetryClientRequestID, j.RetryDispatchID,
	}
}

func scanJob(row *sql.Row) (*store.Job, error) {
	var (
		j           store.Job
		status      string
		resume      string
		updatedAt   sql.NullTime
		hasManifest bool
		m           store.Manifest
		exports     []string
	)
	err := row.Scan(
		&j.ID, &j.ProjectID, &j.OwnerID, &status, &j.CreatedAt, &updatedAt,
		&hasManifest, &m.VideoURI, &m.AudioURI, &m.TranscriptURI, &m.DraftURI, pq.Array(&exports),
		&j.FailureCode, &j.FailureMessage, &j.FailedStage,
		&resume, &j.RetryCheckpointRef, &j.RetryModelProfile,
		&j.RetryClientRequestID, &j.RetryDispatchID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	j.Status = fsm.Status(status)
	j.RetryResumeFromStatus = fsm.Status(resume)
	if updatedAt.Valid {
		t := updatedAt.Time
		j.UpdatedAt = &t
	}
	if hasManifest {
		m.Exports = exports
		j.Manifest = &m
	}
	return &j, nil
}

func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	if _, err := s.db.ExecContext(ctx, query, jobArgs(job)...); err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*store.Job, error) {
	return s.loadJob(ctx, nil, id, false)
}

func (s *Store) loadJob(ctx context.Context, tx store.DBTransaction, id string, forUpdate bool) (*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanJob(s.getExecutor(tx).QueryRowContext(ctx, query, id))
}

func (s *Store) CountActiveJobs(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE status NOT IN ($1, $2, $3)",
		string(fsm.Done), string(fsm.Failed), string(fsm.Cancelled),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// BeginJobTx opens a transaction and locks the job row until it ends.
func (s *Store) BeginJobTx(ctx context.Context, jobID string) (store.JobTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	job, err := s.loadJob(ctx, tx, jobID, true)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return &jobTx{tx: tx, job: *job}, nil
}
