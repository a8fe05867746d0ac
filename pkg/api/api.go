// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the controller and the worker.
package api

import (
	"encoding/json"
	"time"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// CreateProjectRequest is the request body for creating a project.
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// Project is a project in API responses.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ListProjectsResponse is the response body for listing projects.
type ListProjectsResponse struct {
	Items []Project `json:"items"`
}

// Instruction is one instruction version.
type Instruction struct {
	ProjectID string    `json:"project_id"`
	Version   int       `json:"version"`
	Markdown  string    `json:"markdown"`
	CreatedAt time.Time `json:"created_at"`
}

// PutInstructionRequest writes a new instruction version on top of BaseVersion.
type PutInstructionRequest struct {
	BaseVersion *int    `json:"base_version"`
	Markdown    *string `json:"markdown"`
}

// Manifest lists a job's artifacts.
type Manifest struct {
	VideoURI      *string  `json:"video_uri"`
	AudioURI      *string  `json:"audio_uri"`
	TranscriptURI *string  `json:"transcript_uri"`
	DraftURI      *string  `json:"draft_uri"`
	Exports       []string `json:"exports"`
}

// Job is a job in API responses.
type Job struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Status    string     `json:"status"`
	Manifest  *Manifest  `json:"manifest"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// ConfirmUploadRequest is the request body for confirming an upload.
type ConfirmUploadRequest struct {
	VideoURI string `json:"video_uri"`
}

// ConfirmUploadResponse is the response body after confirming an upload.
type ConfirmUploadResponse struct {
	Job      Job  `json:"job"`
	Replayed bool `json:"replayed"`
}

// RunJobResponse is the response body after running a job.
type RunJobResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	DispatchID string `json:"dispatch_id"`
	Replayed   bool   `json:"replayed"`
}

// RetryJobRequest is the request body for retrying a failed job.
type RetryJobRequest struct {
	ModelProfile    string `json:"model_profile"`
	ClientRequestID string `json:"client_request_id"`
}

// RetryJobResponse is the response body after a retry was accepted.
type RetryJobResponse struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	ResumeFromStatus string `json:"resume_from_status"`
	CheckpointRef    string `json:"checkpoint_ref"`
	ModelProfile     string `json:"model_profile"`
	DispatchID       string `json:"dispatch_id"`
	Replayed         bool   `json:"replayed"`
}

// TranscriptSegment is one timed transcript line.
type TranscriptSegment struct {
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// TranscriptPage is one page of a job's transcript.
type TranscriptPage struct {
	Items      []TranscriptSegment `json:"items"`
	Limit      int                 `json:"limit"`
	NextCursor *string             `json:"next_cursor"`
}

// CallbackSecretHeader carries the shared secret on status callbacks.
const CallbackSecretHeader = "X-Callback-Secret"

// StatusCallbackRequest is the orchestrator's status notification.
type StatusCallbackRequest struct {
	EventID         string          `json:"event_id"`
	Status          string          `json:"status"`
	OccurredAt      *time.Time      `json:"occurred_at"`
	CorrelationID   string          `json:"correlation_id"`
	ActorType       *string         `json:"actor_type,omitempty"`
	ArtifactUpdates json.RawMessage `json:"artifact_updates,omitempty"`
	FailureCode     *string         `json:"failure_code,omitempty"`
	FailureMessage  *string         `json:"failure_message,omitempty"`
	FailedStage     *string         `json:"failed_stage,omitempty"`
}

// StatusCallbackReplayResponse is returned when a callback was already applied.
type StatusCallbackReplayResponse struct {
	JobID                   string     `json:"job_id"`
	EventID                 string     `json:"event_id"`
	Replayed                bool       `json:"replayed"`
	CurrentStatus           string     `json:"current_status"`
	LatestAppliedOccurredAt *time.Time `json:"latest_applied_occurred_at"`
}

// DispatchRequest is sent by the controller to the workflow orchestrator.
type DispatchRequest struct {
	DispatchID   string            `json:"dispatch_id"`
	DispatchType string            `json:"dispatch_type"`
	Payload      map[string]string `json:"payload"`
}

// Dispatch payload keys.
const (
	PayloadJobID            = "job_id"
	PayloadProjectID        = "project_id"
	PayloadVideoURI         = "video_uri"
	PayloadCallbackURL      = "callback_url"
	PayloadResumeFromStatus = "resume_from_status"
	PayloadCheckpointRef    = "checkpoint_ref"
	PayloadModelProfile     = "model_profile"
)

// CreateAPIKeyRequest is the request body for issuing an API key.
type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	Name   string `json:"name,omitempty"`
}

// CreateAPIKeyResponse carries the plaintext key. It is never shown again.
type CreateAPIKeyResponse struct {
	APIKey string `json:"api_key"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}
