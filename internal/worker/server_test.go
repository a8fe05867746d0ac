package worker

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"draftplane/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func postDispatch(t *testing.T, h http.Handler, token string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/dispatches", &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandler_Dispatches(t *testing.T) {
	tests := []struct {
		name  string
		token string
		body  any
		want  int
	}{
		{"missing token", "", testDispatch("d-1"), http.StatusUnauthorized},
		{"wrong token", "guess", testDispatch("d-1"), http.StatusUnauthorized},
		{"missing dispatch id", "orch-token", api.DispatchRequest{Payload: map[string]string{api.PayloadJobID: "job-1"}}, http.StatusBadRequest},
		{"missing job id", "orch-token", api.DispatchRequest{DispatchID: "d-1"}, http.StatusBadRequest},
		{"accepted", "orch-token", testDispatch("d-1"), http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := New(&MockRuntime{}, AgentConfig{}, nil)
			rr := postDispatch(t, Handler("orch-token", agent, nil), tt.token, tt.body, nil)
			if rr.Code != tt.want {
				t.Fatalf("got status %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
			wantQueued := 0
			if tt.want == http.StatusAccepted {
				wantQueued = 1
			}
			if len(agent.queue) != wantQueued {
				t.Errorf("expected %d queued dispatches, got %d", wantQueued, len(agent.queue))
			}
		})
	}
}

func TestHandler_QueueFull(t *testing.T) {
	agent := New(&MockRuntime{}, AgentConfig{QueueSize: 1}, nil)
	h := Handler("orch-token", agent, nil)

	postDispatch(t, h, "orch-token", testDispatch("d-1"), nil)
	rr := postDispatch(t, h, "orch-token", testDispatch("d-2"), nil)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestHandler_CarriesTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	agent := New(&MockRuntime{}, AgentConfig{}, nil)
	traceparent := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	rr := postDispatch(t, Handler("orch-token", agent, nil), "orch-token", testDispatch("d-1"),
		map[string]string{"traceparent": traceparent})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusAccepted)
	}

	item := <-agent.queue
	if got := item.trace.Get("traceparent"); !strings.Contains(got, "4bf92f3577b34da6a3ce929d0e0e4736") {
		t.Errorf("expected trace id carried to the queued dispatch, got %q", got)
	}
}
