package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAs_UnwrapsChain(t *testing.T) {
	wrapped := fmt.Errorf("run job: %w", DispatchFailed("Workflow dispatch failed"))

	apiErr, ok := As(wrapped)
	if !ok {
		t.Fatal("expected *Error in chain")
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", apiErr.Status)
	}
	if apiErr.Code != CodeDispatchFailed {
		t.Errorf("expected code %s, got %s", CodeDispatchFailed, apiErr.Code)
	}
}

func TestAs_PlainError(t *testing.T) {
	if _, ok := As(errors.New("boom")); ok {
		t.Error("plain error must not match")
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("ctx: %w", NotFound())
	if !HasCode(err, CodeNotFound) {
		t.Error("expected RESOURCE_NOT_FOUND")
	}
	if HasCode(err, CodeValidation) {
		t.Error("unexpected VALIDATION_ERROR match")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		status int
		code   string
	}{
		{"not found", NotFound(), http.StatusNotFound, CodeNotFound},
		{"video uri", VideoURIConflict("a", "b"), http.StatusConflict, CodeVideoURIConflict},
		{"mismatch", EventPayloadMismatch("e1"), http.StatusConflict, CodeEventPayloadMismatch},
		{"order", CallbackOutOfOrder(nil), http.StatusConflict, CodeCallbackOutOfOrder},
		{"retry", RetryNotAllowed("x", nil), http.StatusConflict, CodeRetryNotAllowed},
		{"running", JobAlreadyRunning("x", nil), http.StatusConflict, CodeJobAlreadyRunning},
		{"transcript", TranscriptNotReady("CREATED"), http.StatusConflict, CodeTranscriptNotReady},
		{"validation", Validation("x", nil), http.StatusConflict, CodeValidation},
		{"parameter", InvalidParameter("x", nil), http.StatusUnprocessableEntity, CodeValidation},
		{"unauthorized", Unauthorized("x"), http.StatusUnauthorized, CodeUnauthorized},
		{"version", VersionConflict(1, 2), http.StatusConflict, CodeVersionConflict},
		{"internal", Internal(), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, tt.err.Status)
			}
			if tt.err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, tt.err.Code)
			}
		})
	}
}

func TestNotFound_HasNoDetails(t *testing.T) {
	err := NotFound()
	if err.Details != nil {
		t.Errorf("not found must not leak details, got %v", err.Details)
	}
	if err.Message != "Resource not found" {
		t.Errorf("unexpected message %q", err.Message)
	}
}
