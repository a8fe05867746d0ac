package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"draftplane/internal/fsm"
	"draftplane/internal/store"
)

// jobTx executes writes inside the SQL transaction holding the job row lock.
// Rollback discards them in the database.
type jobTx struct {
	tx   *sql.Tx
	job  store.Job
	done bool
}

func (t *jobTx) Job() store.Job {
	return t.job.Clone()
}

func (t *jobTx) CallbackEvent(ctx context.Context, eventID string) (*store.CallbackEvent, error) {
	query := `
		SELECT status, occurred_at, actor_type, artifact_updates,
			failure_code, failure_message, failed_stage, correlation_id
		FROM callback_events
		WHERE job_id = $1 AND event_id = $2
	`
	ev := store.CallbackEvent{JobID: t.job.ID, EventID: eventID}
	var (
		status    string
		artifacts []byte
	)
	err := t.tx.QueryRowContext(ctx, query, t.job.ID, eventID).Scan(
		&status, &ev.OccurredAt, &ev.ActorType, &artifacts,
		&ev.FailureCode, &ev.FailureMessage, &ev.FailedStage, &ev.CorrelationID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get callback event: %w", err)
	}
	ev.Status = fsm.Status(status)
	if artifacts != nil {
		ev.ArtifactUpdates = json.RawMessage(artifacts)
	}
	return &ev, nil
}

func (t *jobTx) LatestCallbackAt(ctx context.Context) (*time.Time, error) {
	var at time.Time
	err := t.tx.QueryRowContext(ctx,
		"SELECT latest_occurred_at FROM job_callback_index WHERE job_id = $1", t.job.ID,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest callback: %w", err)
	}
	return &at, nil
}

func (t *jobTx) Dispatch(ctx context.Context) (*store.WorkflowDispatch, error) {
	d := store.WorkflowDispatch{JobID: t.job.ID}
	var (
		dispatchType string
		payload      []byte
	)
	err := t.tx.QueryRowContext(ctx,
		"SELECT dispatch_id, dispatch_type, payload, created_at FROM workflow_dispatches WHERE job_id = $1", t.job.ID,
	).Scan(&d.ID, &dispatchType, &payload, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch: %w", err)
	}
	d.Type = store.DispatchType(dispatchType)
	if err := json.Unmarshal(payload, &d.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode dispatch payload: %w", err)
	}
	return &d, nil
}

func (t *jobTx) RetryRequest(ctx context.Context, clientRequestID string) (*store.RetryRequest, error) {
	query := `
		SELECT signature, resume_from_status, checkpoint_ref, model_profile, dispatch_id, created_at
		FROM retry_requests
		WHERE job_id = $1 AND client_request_id = $2
	`
	r := store.RetryRequest{JobID: t.job.ID, ClientRequestID: clientRequestID}
	var resume string
	err := t.tx.QueryRowContext(ctx, query, t.job.ID, clientRequestID).Scan(
		&r.Signature, &resume, &r.CheckpointRef, &r.ModelProfile, &r.DispatchID, &r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry request: %w", err)
	}
	r.ResumeFromStatus = fsm.Status(resume)
	return &r, nil
}

func (t *jobTx) Transcript(ctx context.Context) ([]store.TranscriptSegment, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT start_ms, end_ms, text FROM transcript_segments WHERE job_id = $1 ORDER BY position", t.job.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcript: %w", err)
	}
	defer rows.Close()

	var segments []store.TranscriptSegment
	for rows.Next() {
		var seg store.TranscriptSegment
		if err := rows.Scan(&seg.StartMS, &seg.EndMS, &seg.Text); err != nil {
			return nil, fmt.Errorf("failed to scan transcript segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

func (t *jobTx) PutJob(ctx context.Context, job store.Job) error {
	query := `
		UPDATE jobs SET
			project_id = $2, owner_id = $3, status = $4, created_at = $5, updated_at = $6,
			has_manifest = $7, video_uri = $8, audio_uri = $9, transcript_uri = $10, draft_uri = $11, exports = $12,
			failure_code = $13, failure_message = $14, failed_stage = $15,
			retry_resume_from_status = $16, retry_checkpoint_ref = $17, retry_model_profile = $18,
			retry_client_request_id = $19, retry_dispatch_id = $20
		WHERE id = $1
	`
	if _, err := t.tx.ExecContext(ctx, query, jobArgs(&job)...); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	t.job = job.Clone()
	return nil
}

func (t *jobTx) PutTranscript(ctx context.Context, segments []store.TranscriptSegment) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM transcript_segments WHERE job_id = $1", t.job.ID); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	for i, seg := range segments {
		_, err := t.tx.ExecContext(ctx,
			"INSERT INTO transcript_segments (job_id, position, start_ms, end_ms, text) VALUES ($1, $2, $3, $4, $5)",
			t.job.ID, i, seg.StartMS, seg.EndMS, seg.Text,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transcript segment: %w", err)
		}
	}
	return nil
}

func (t *jobTx) PutCallbackEvent(ctx context.Context, ev store.CallbackEvent) error {
	query := `
		INSERT INTO callback_events (job_id, event_id, status, occurred_at, actor_type, artifact_updates,
			failure_code, failure_message, failed_stage, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	var artifacts interface{}
	if ev.ArtifactUpdates != nil {
		artifacts = string(ev.ArtifactUpdates)
	}
	_, err := t.tx.ExecContext(ctx, query,
		t.job.ID, ev.EventID, string(ev.Status), ev.OccurredAt, ev.ActorType, artifacts,
		ev.FailureCode, ev.FailureMessage, ev.FailedStage, ev.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert callback event: %w", err)
	}
	return nil
}

func (t *jobTx) AppendAudit(ctx context.Context, r store.TransitionAudit) error {
	query := `
		INSERT INTO transition_audit_events (event_type, job_id, project_id, actor_type,
			prev_status, new_status, occurred_at, recorded_at, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := t.tx.ExecContext(ctx, query,
		r.EventType, r.JobID, r.ProjectID, r.ActorType,
		string(r.PrevStatus), string(r.NewStatus), r.OccurredAt, r.RecordedAt, r.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition audit: %w", err)
	}
	return nil
}

func (t *jobTx) SetLatestCallbackAt(ctx context.Context, at time.Time) error {
	query := `
		INSERT INTO job_callback_index (job_id, latest_occurred_at)
		VALUES ($1, $2)
		ON CONFLICT (job_id) DO UPDATE SET latest_occurred_at = EXCLUDED.latest_occurred_at
	`
	if _, err := t.tx.ExecContext(ctx, query, t.job.ID, at); err != nil {
		return fmt.Errorf("failed to update callback index: %w", err)
	}
	return nil
}

func (t *jobTx) PutDispatch(ctx context.Context, d store.WorkflowDispatch) error {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch payload: %w", err)
	}
	query := `
		INSERT INTO workflow_dispatches (job_id, dispatch_id, dispatch_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE SET
			dispatch_id = EXCLUDED.dispatch_id,
			dispatch_type = EXCLUDED.dispatch_type,
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at
	`
	if _, err := t.tx.ExecContext(ctx, query, t.job.ID, d.ID, string(d.Type), string(payload), d.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert dispatch: %w", err)
	}
	return nil
}

func (t *jobTx) DeleteDispatch(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM workflow_dispatches WHERE job_id = $1", t.job.ID); err != nil {
		return fmt.Errorf("failed to delete dispatch: %w", err)
	}
	return nil
}

func (t *jobTx) PutRetryRequest(ctx context.Context, r store.RetryRequest) error {
	query := `
		INSERT INTO retry_requests (job_id, client_request_id, signature, resume_from_status,
			checkpoint_ref, model_profile, dispatch_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.ExecContext(ctx, query,
		t.job.ID, r.ClientRequestID, r.Signature, string(r.ResumeFromStatus),
		r.CheckpointRef, r.ModelProfile, r.DispatchID, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert retry request: %w", err)
	}
	return nil
}

func (t *jobTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job transaction: %w", err)
	}
	return nil
}

func (t *jobTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
