package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"draftplane/internal/apierror"
	"draftplane/internal/auth"
	"draftplane/pkg/api"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

func quietHandlers(d Deps) *Handlers {
	d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(d)
}

func TestHTTPError_MapsDomainAndInternalErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"domain error", apierror.NotFound(), http.StatusNotFound, apierror.CodeNotFound},
		{"wrapped domain error", errors.Join(errors.New("ctx"), apierror.RateLimited()), http.StatusTooManyRequests, apierror.CodeRateLimited},
		{"plain error", errors.New("connection reset"), http.StatusInternalServerError, apierror.CodeInternal},
	}

	h := quietHandlers(Deps{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.httpError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			if rr.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.wantStatus)
			}
			var body api.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("got code %s, want %s", body.Code, tt.wantCode)
			}
			if tt.wantCode == apierror.CodeInternal && body.Message != "Internal server error" {
				t.Errorf("internal error leaked message %q", body.Message)
			}
		})
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		pinger Pinger
		want   int
		body   string
	}{
		{"no pinger", nil, http.StatusOK, `"status":"ready"`},
		{"reachable", &mockPinger{}, http.StatusOK, `"store":"ok"`},
		{"unreachable", &mockPinger{err: errors.New("down")}, http.StatusServiceUnavailable, `"store":"unreachable"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := quietHandlers(Deps{Pinger: tt.pinger})
			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tt.want {
				t.Errorf("got status %d, want %d", rr.Code, tt.want)
			}
			if !strings.Contains(rr.Body.String(), tt.body) {
				t.Errorf("expected %s in body, got %s", tt.body, rr.Body.String())
			}
		})
	}
}

func TestProtectedHandlers_RequirePrincipal(t *testing.T) {
	h := quietHandlers(Deps{})
	routes := map[string]http.HandlerFunc{
		"CreateProject": h.CreateProject,
		"ListProjects":  h.ListProjects,
		"GetJob":        h.GetJob,
		"RunJob":        h.RunJob,
		"GetTranscript": h.GetTranscript,
	}

	for name, fn := range routes {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			fn(rr, httptest.NewRequest(http.MethodGet, "/", nil))
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestGetTranscript_NonIntegerLimit(t *testing.T) {
	h := quietHandlers(Deps{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/transcript?limit=ten", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "user-1"}))

	rr := httptest.NewRecorder()
	h.GetTranscript(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusUnprocessableEntity)
	}
	var body api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Details["max_limit"] != float64(500) {
		t.Errorf("expected max_limit detail, got %v", body.Details)
	}
}
