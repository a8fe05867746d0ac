// Package fsm holds the job lifecycle transition table.
package fsm

import (
	"net/http"
	"sort"

	"draftplane/internal/apierror"
)

// Status is a job lifecycle state.
type Status string

const (
	Created         Status = "CREATED"
	Uploading       Status = "UPLOADING"
	Uploaded        Status = "UPLOADED"
	AudioExtracting Status = "AUDIO_EXTRACTING"
	AudioReady      Status = "AUDIO_READY"
	Transcribing    Status = "TRANSCRIBING"
	TranscriptReady Status = "TRANSCRIPT_READY"
	Generating      Status = "GENERATING"
	DraftReady      Status = "DRAFT_READY"
	Editing         Status = "EDITING"
	Regenerating    Status = "REGENERATING"
	Exporting       Status = "EXPORTING"
	Done            Status = "DONE"
	Failed          Status = "FAILED"
	Cancelled       Status = "CANCELLED"
)

// transitions is the whole lifecycle graph. Self-loops exist only for phases
// that emit repeated progress callbacks. DRAFT_READY cannot be cancelled.
var transitions = map[Status][]Status{
	Created:         {Uploading, Uploaded, Cancelled},
	Uploading:       {Uploaded, Failed, Cancelled},
	Uploaded:        {AudioExtracting, Cancelled},
	AudioExtracting: {AudioExtracting, AudioReady, Failed, Cancelled},
	AudioReady:      {Transcribing, Failed, Cancelled},
	Transcribing:    {Transcribing, TranscriptReady, Failed, Cancelled},
	TranscriptReady: {Generating, Failed, Cancelled},
	Generating:      {Generating, DraftReady, Failed, Cancelled},
	DraftReady:      {Editing, Regenerating, Exporting, Done},
	Editing:         {Regenerating, Exporting, Done, Cancelled},
	Regenerating:    {DraftReady, Failed, Cancelled},
	Exporting:       {Done, Failed, Cancelled},
	Done:            {},
	Failed:          {},
	Cancelled:       {},
}

// Valid reports whether s is a known status.
func Valid(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition may leave s.
func IsTerminal(s Status) bool {
	return s == Done || s == Failed || s == Cancelled
}

// AllowedNext returns the successors of s sorted by name.
// The returned slice is owned by the caller.
func AllowedNext(s Status) []Status {
	next := append([]Status{}, transitions[s]...)
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

// CanTransition reports whether current -> attempted is an edge of the graph.
func CanTransition(current, attempted Status) bool {
	for _, s := range transitions[current] {
		if s == attempted {
			return true
		}
	}
	return false
}

// EnsureTransition validates current -> attempted without mutating anything.
func EnsureTransition(current, attempted Status) error {
	if IsTerminal(current) {
		return &apierror.Error{
			Status:  http.StatusConflict,
			Code:    apierror.CodeTerminalImmutable,
			Message: "Terminal state cannot be mutated",
			Details: map[string]any{
				"current_status":        current,
				"attempted_status":      attempted,
				"allowed_next_statuses": []Status{},
			},
		}
	}
	if !CanTransition(current, attempted) {
		return TransitionInvalid(current, attempted)
	}
	return nil
}

// TransitionInvalid builds the FSM_TRANSITION_INVALID error for current.
func TransitionInvalid(current, attempted Status) *apierror.Error {
	return &apierror.Error{
		Status:  http.StatusConflict,
		Code:    apierror.CodeTransitionInvalid,
		Message: "Invalid status transition",
		Details: map[string]any{
			"current_status":        current,
			"attempted_status":      attempted,
			"allowed_next_statuses": AllowedNext(current),
		},
	}
}

// All returns every status in declaration order.
func All() []Status {
	return []Status{
		Created, Uploading, Uploaded, AudioExtracting, AudioReady,
		Transcribing, TranscriptReady, Generating, DraftReady, Editing,
		Regenerating, Exporting, Done, Failed, Cancelled,
	}
}
