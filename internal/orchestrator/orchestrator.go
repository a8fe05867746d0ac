// Package orchestrator issues workflow dispatches to the external pipeline
// orchestrator.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"draftplane/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Dispatcher starts pipeline work for a job. A returned error means the
// dispatch must be considered not to have happened.
type Dispatcher interface {
	Dispatch(ctx context.Context, req api.DispatchRequest) error
}

// HTTPDispatcher posts dispatches to an orchestrator endpoint.
type HTTPDispatcher struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewHTTPDispatcher creates a dispatcher for the orchestrator at baseURL.
func NewHTTPDispatcher(baseURL, token string) *HTTPDispatcher {
	return &HTTPDispatcher{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Dispatch sends req and propagates the caller's trace context.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req api.DispatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/dispatches", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.Token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := d.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dispatch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// LogDispatcher accepts every dispatch and only logs it. It backs local
// development when no orchestrator is configured.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d *LogDispatcher) Dispatch(ctx context.Context, req api.DispatchRequest) error {
	d.Logger.InfoContext(ctx, "dispatch accepted without orchestrator",
		"dispatch_id", req.DispatchID,
		"dispatch_type", req.DispatchType,
	)
	return nil
}
