package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is the single source of truth for all draftplane records.
type Store interface {
	ProjectStore
	InstructionStore
	APIKeyStore
	JobStore
}

// ProjectStore handles project records.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *Project) error

	// GetProject returns ErrNotFound when the project does not exist.
	GetProject(ctx context.Context, id string) (*Project, error)

	// ListProjectsByOwner returns the owner's projects oldest first.
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]Project, error)
}

// InstructionStore keeps the version stream of project instructions.
type InstructionStore interface {
	// LatestInstruction returns ErrNotFound when the project has none yet.
	LatestInstruction(ctx context.Context, projectID string) (*Instruction, error)

	GetInstructionVersion(ctx context.Context, projectID string, version int) (*Instruction, error)

	// AppendInstruction stores instruction.Version only if the current latest
	// version equals baseVersion. It returns the current version on mismatch.
	AppendInstruction(ctx context.Context, instruction *Instruction, baseVersion int) (current int, ok bool, err error)
}

// APIKeyStore resolves hashed API keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *APIKey) error

	// GetAPIKeyByHash returns ErrNotFound for unknown hashes.
	GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
}

// JobStore handles jobs and every record whose consistency depends on them.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns ErrNotFound when the job does not exist.
	GetJob(ctx context.Context, id string) (*Job, error)

	// CountActiveJobs returns the number of non-terminal jobs.
	CountActiveJobs(ctx context.Context) (int64, error)

	// BeginJobTx locks the job for the duration of the transaction.
	// It returns ErrNotFound when the job does not exist.
	BeginJobTx(ctx context.Context, jobID string) (JobTx, error)
}

// JobTx is a per-job transaction. Writes become visible only on Commit.
// Rollback after Commit is a no-op so callers can always defer it.
type JobTx interface {
	// Job returns a copy of the locked job including writes staged so far.
	Job() Job

	// Reads return nil without error when the record does not exist.
	CallbackEvent(ctx context.Context, eventID string) (*CallbackEvent, error)
	LatestCallbackAt(ctx context.Context) (*time.Time, error)
	Dispatch(ctx context.Context) (*WorkflowDispatch, error)
	RetryRequest(ctx context.Context, clientRequestID string) (*RetryRequest, error)
	Transcript(ctx context.Context) ([]TranscriptSegment, error)

	PutJob(ctx context.Context, job Job) error
	PutTranscript(ctx context.Context, segments []TranscriptSegment) error
	PutCallbackEvent(ctx context.Context, event CallbackEvent) error
	AppendAudit(ctx context.Context, record TransitionAudit) error
	SetLatestCallbackAt(ctx context.Context, at time.Time) error
	PutDispatch(ctx context.Context, dispatch WorkflowDispatch) error
	DeleteDispatch(ctx context.Context) error
	PutRetryRequest(ctx context.Context, request RetryRequest) error

	Commit() error
	Rollback() error
}
