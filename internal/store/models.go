// Package store contains the persistence contract for draftplane.
package store

import (
	"encoding/json"
	"time"

	"draftplane/internal/fsm"
)

// Project groups jobs and instructions for one owner.
type Project struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// Job is a single video-to-draft production run.
type Job struct {
	ID        string
	ProjectID string
	OwnerID   string
	Status    fsm.Status
	CreatedAt time.Time
	UpdatedAt *time.Time
	Manifest  *Manifest

	FailureCode    *string
	FailureMessage *string
	FailedStage    *string

	// Retry checkpoint, set when a retry is accepted.
	RetryResumeFromStatus fsm.Status
	RetryCheckpointRef    string
	RetryModelProfile     string
	RetryClientRequestID  string
	RetryDispatchID       string
}

// ResumingRetry reports whether callbacks must validate against the persisted
// resume status instead of the literal FAILED status.
func (j *Job) ResumingRetry() bool {
	return j.Status == fsm.Failed && j.RetryDispatchID != "" && j.RetryResumeFromStatus != ""
}

// Clone returns a deep copy so callers never alias stored state.
func (j Job) Clone() Job {
	c := j
	if j.UpdatedAt != nil {
		t := *j.UpdatedAt
		c.UpdatedAt = &t
	}
	c.Manifest = j.Manifest.Clone()
	c.FailureCode = cloneString(j.FailureCode)
	c.FailureMessage = cloneString(j.FailureMessage)
	c.FailedStage = cloneString(j.FailedStage)
	return c
}

// Manifest lists the artifacts produced for a job.
// VideoURI, AudioURI and TranscriptURI are write-once.
type Manifest struct {
	VideoURI      *string  `json:"video_uri"`
	AudioURI      *string  `json:"audio_uri"`
	TranscriptURI *string  `json:"transcript_uri"`
	DraftURI      *string  `json:"draft_uri"`
	Exports       []string `json:"exports"`
}

// Clone returns a deep copy. A nil manifest clones to nil.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	c := &Manifest{
		VideoURI:      cloneString(m.VideoURI),
		AudioURI:      cloneString(m.AudioURI),
		TranscriptURI: cloneString(m.TranscriptURI),
		DraftURI:      cloneString(m.DraftURI),
	}
	if m.Exports != nil {
		c.Exports = append([]string{}, m.Exports...)
	}
	return c
}

// Video returns the confirmed video URI or "".
func (m *Manifest) Video() string {
	if m == nil || m.VideoURI == nil {
		return ""
	}
	return *m.VideoURI
}

// CallbackEvent is the idempotency record of an applied status callback.
type CallbackEvent struct {
	JobID           string
	EventID         string
	Status          fsm.Status
	OccurredAt      time.Time
	ActorType       *string
	ArtifactUpdates json.RawMessage
	FailureCode     *string
	FailureMessage  *string
	FailedStage     *string
	CorrelationID   string
}

// DefaultActorType is audited when a callback does not name its actor.
const DefaultActorType = "system"

// Actor returns the audited actor of e.
func (e CallbackEvent) Actor() string {
	if e.ActorType == nil || *e.ActorType == "" {
		return DefaultActorType
	}
	return *e.ActorType
}

// TransitionAuditEventType is the event type of every transition audit record.
const TransitionAuditEventType = "JOB_STATUS_TRANSITION_APPLIED"

// TransitionAudit is an append-only trace of an applied transition.
// It never carries payload content.
type TransitionAudit struct {
	EventType     string
	JobID         string
	ProjectID     string
	ActorType     string
	PrevStatus    fsm.Status
	NewStatus     fsm.Status
	OccurredAt    time.Time
	RecordedAt    time.Time
	CorrelationID string
}

// DispatchType distinguishes the first pipeline run from a retry.
type DispatchType string

const (
	DispatchRun   DispatchType = "run"
	DispatchRetry DispatchType = "retry"
)

// WorkflowDispatch is the single live orchestrator dispatch of a job.
type WorkflowDispatch struct {
	ID        string
	JobID     string
	Type      DispatchType
	Payload   map[string]string
	CreatedAt time.Time
}

// RetryRequest is the idempotency record of an accepted retry.
type RetryRequest struct {
	JobID            string
	ClientRequestID  string
	Signature        string
	ResumeFromStatus fsm.Status
	CheckpointRef    string
	ModelProfile     string
	DispatchID       string
	CreatedAt        time.Time
}

// TranscriptSegment is one timed line of a transcript.
type TranscriptSegment struct {
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// Instruction is one version of a project's generation instructions.
type Instruction struct {
	ProjectID string
	Version   int
	Markdown  string
	CreatedBy string
	CreatedAt time.Time
}

// APIKey maps a hashed bearer key to a principal.
type APIKey struct {
	KeyHash   string
	UserID    string
	Role      string
	Name      string
	CreatedAt time.Time
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
