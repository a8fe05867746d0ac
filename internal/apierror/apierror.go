// Package apierror defines the structured error taxonomy surfaced to API callers.
//
// Every domain failure carries an HTTP status, a stable machine code, a human
// message and optional details. Anything that is not an *Error is treated as an
// internal failure and is never shown to the caller verbatim.
package apierror

import (
	"errors"
	"net/http"
)

// Error codes.
const (
	CodeNotFound             = "RESOURCE_NOT_FOUND"
	CodeTransitionInvalid    = "FSM_TRANSITION_INVALID"
	CodeTerminalImmutable    = "FSM_TERMINAL_IMMUTABLE"
	CodeVideoURIConflict     = "VIDEO_URI_CONFLICT"
	CodeEventPayloadMismatch = "EVENT_ID_PAYLOAD_MISMATCH"
	CodeCallbackOutOfOrder   = "CALLBACK_OUT_OF_ORDER"
	CodeRetryNotAllowed      = "RETRY_NOT_ALLOWED_STATE"
	CodeJobAlreadyRunning    = "JOB_ALREADY_RUNNING"
	CodeDispatchFailed       = "ORCHESTRATOR_DISPATCH_FAILED"
	CodeTranscriptNotReady   = "TRANSCRIPT_NOT_READY"
	CodeValidation           = "VALIDATION_ERROR"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeVersionConflict      = "VERSION_CONFLICT"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL_ERROR"
)

// Error is a typed, caller-visible failure.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Code == code
}

// NotFound hides whether the resource is missing or owned by someone else.
func NotFound() *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: "Resource not found"}
}

func VideoURIConflict(current, submitted string) *Error {
	return &Error{
		Status:  http.StatusConflict,
		Code:    CodeVideoURIConflict,
		Message: "Video URI already confirmed with a different value.",
		Details: map[string]any{
			"current_video_uri":   current,
			"submitted_video_uri": submitted,
		},
	}
}

func EventPayloadMismatch(eventID string) *Error {
	return &Error{
		Status:  http.StatusConflict,
		Code:    CodeEventPayloadMismatch,
		Message: "event_id replay payload differs from first accepted payload.",
		Details: map[string]any{"event_id": eventID},
	}
}

func CallbackOutOfOrder(details map[string]any) *Error {
	return &Error{
		Status:  http.StatusConflict,
		Code:    CodeCallbackOutOfOrder,
		Message: "Callback occurred_at must be greater than latest accepted event.",
		Details: details,
	}
}

func RetryNotAllowed(message string, details map[string]any) *Error {
	return &Error{Status: http.StatusConflict, Code: CodeRetryNotAllowed, Message: message, Details: details}
}

func JobAlreadyRunning(message string, details map[string]any) *Error {
	return &Error{Status: http.StatusConflict, Code: CodeJobAlreadyRunning, Message: message, Details: details}
}

// DispatchFailed signals the orchestrator was unreachable. Callers may retry.
func DispatchFailed(message string) *Error {
	return &Error{Status: http.StatusBadGateway, Code: CodeDispatchFailed, Message: message}
}

func TranscriptNotReady(currentStatus string) *Error {
	return &Error{
		Status:  http.StatusConflict,
		Code:    CodeTranscriptNotReady,
		Message: "Transcript is not available for the current job status.",
		Details: map[string]any{"current_status": currentStatus},
	}
}

// Validation reports a payload that failed domain validation.
func Validation(message string, details map[string]any) *Error {
	return &Error{Status: http.StatusConflict, Code: CodeValidation, Message: message, Details: details}
}

// InvalidParameter reports an out of range query parameter.
func InvalidParameter(message string, details map[string]any) *Error {
	return &Error{Status: http.StatusUnprocessableEntity, Code: CodeValidation, Message: message, Details: details}
}

func Unauthorized(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: message}
}

func VersionConflict(baseVersion, currentVersion int) *Error {
	return &Error{
		Status:  http.StatusConflict,
		Code:    CodeVersionConflict,
		Message: "Instruction base version does not match current version.",
		Details: map[string]any{
			"base_version":    baseVersion,
			"current_version": currentVersion,
		},
	}
}

func RateLimited() *Error {
	return &Error{Status: http.StatusTooManyRequests, Code: CodeRateLimited, Message: "Too Many Requests"}
}

// Internal is what callers see for any non-domain failure.
func Internal() *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "Internal server error"}
}
