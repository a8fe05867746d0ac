package fsm

import (
	"reflect"
	"sort"
	"testing"

	"draftplane/internal/apierror"
)

func TestEnsureTransition_TerminalIsImmutable(t *testing.T) {
	for _, terminal := range []Status{Done, Failed, Cancelled} {
		for _, attempted := range All() {
			err := EnsureTransition(terminal, attempted)
			apiErr, ok := apierror.As(err)
			if !ok {
				t.Fatalf("%s -> %s: expected api error, got %v", terminal, attempted, err)
			}
			if apiErr.Code != apierror.CodeTerminalImmutable {
				t.Errorf("%s -> %s: expected %s, got %s", terminal, attempted, apierror.CodeTerminalImmutable, apiErr.Code)
			}
			allowed, _ := apiErr.Details["allowed_next_statuses"].([]Status)
			if len(allowed) != 0 {
				t.Errorf("%s: expected empty allowed_next_statuses, got %v", terminal, allowed)
			}
		}
	}
}

func TestEnsureTransition_SelfLoops(t *testing.T) {
	loops := map[Status]bool{
		AudioExtracting: true,
		Transcribing:    true,
		Generating:      true,
	}

	for _, s := range All() {
		if IsTerminal(s) {
			continue
		}
		err := EnsureTransition(s, s)
		if loops[s] && err != nil {
			t.Errorf("%s: self-loop should be allowed, got %v", s, err)
		}
		if !loops[s] && !apierror.HasCode(err, apierror.CodeTransitionInvalid) {
			t.Errorf("%s: self-loop should be FSM_TRANSITION_INVALID, got %v", s, err)
		}
	}
}

func TestEnsureTransition_Table(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{Created, Uploading, true},
		{Created, Uploaded, true},
		{Created, AudioExtracting, false},
		{Uploaded, AudioExtracting, true},
		{Uploaded, Transcribing, false},
		{AudioReady, Transcribing, true},
		{TranscriptReady, Generating, true},
		{Generating, DraftReady, true},
		{DraftReady, Done, true},
		{DraftReady, Cancelled, false},
		{DraftReady, Failed, false},
		{Editing, Cancelled, true},
		{Regenerating, DraftReady, true},
		{Exporting, Done, true},
		{Exporting, Editing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := EnsureTransition(tt.from, tt.to)
			if tt.allowed && err != nil {
				t.Fatalf("expected allowed, got %v", err)
			}
			if !tt.allowed {
				apiErr, ok := apierror.As(err)
				if !ok || apiErr.Code != apierror.CodeTransitionInvalid {
					t.Fatalf("expected FSM_TRANSITION_INVALID, got %v", err)
				}
				if apiErr.Details["current_status"] != tt.from {
					t.Errorf("expected current_status %s, got %v", tt.from, apiErr.Details["current_status"])
				}
				if apiErr.Details["attempted_status"] != tt.to {
					t.Errorf("expected attempted_status %s, got %v", tt.to, apiErr.Details["attempted_status"])
				}
				allowed := apiErr.Details["allowed_next_statuses"].([]Status)
				if !reflect.DeepEqual(allowed, AllowedNext(tt.from)) {
					t.Errorf("expected allowed %v, got %v", AllowedNext(tt.from), allowed)
				}
			}
		})
	}
}

func TestAllowedNext_SortedAndCopied(t *testing.T) {
	for _, s := range All() {
		next := AllowedNext(s)
		if !sort.SliceIsSorted(next, func(i, j int) bool { return next[i] < next[j] }) {
			t.Errorf("%s: allowed_next not sorted: %v", s, next)
		}
	}

	next := AllowedNext(AudioExtracting)
	want := []Status{AudioExtracting, AudioReady, Cancelled, Failed}
	if !reflect.DeepEqual(next, want) {
		t.Errorf("expected %v, got %v", want, next)
	}

	next[0] = Done
	if AllowedNext(AudioExtracting)[0] != AudioExtracting {
		t.Error("mutating the returned slice must not change the table")
	}
}

func TestValid(t *testing.T) {
	if !Valid(DraftReady) {
		t.Error("DRAFT_READY should be valid")
	}
	if Valid(Status("PAUSED")) {
		t.Error("PAUSED should not be valid")
	}
}
