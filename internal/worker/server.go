package worker

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"draftplane/internal/apierror"
	"draftplane/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Server receives dispatches from the workflow orchestrator.
type Server struct {
	httpServer *http.Server
}

// NewServer creates the dispatch receiver. Requests must carry token as a
// bearer token.
func NewServer(addr, token string, agent *Agent, log *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      Handler(token, agent, log),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Handler builds the receiver's routes.
func Handler(token string, agent *Agent, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("POST /dispatches", func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			respondJson(w, http.StatusUnauthorized, api.ErrorResponse{Code: apierror.CodeUnauthorized, Message: "Invalid or missing bearer token"})
			return
		}

		var req api.DispatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DispatchID == "" || req.Payload[api.PayloadJobID] == "" {
			respondJson(w, http.StatusBadRequest, api.ErrorResponse{Code: apierror.CodeValidation, Message: "Invalid dispatch payload"})
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		switch err := agent.Enqueue(ctx, req); {
		case err == nil:
			log.Info("dispatch queued", "dispatch", req.DispatchID, "type", req.DispatchType)
			w.WriteHeader(http.StatusAccepted)
		case errors.Is(err, ErrQueueFull), errors.Is(err, ErrDraining):
			w.Header().Set("Retry-After", "5")
			respondJson(w, http.StatusServiceUnavailable, api.ErrorResponse{Code: "UNAVAILABLE", Message: err.Error()})
		default:
			log.Error("failed to queue dispatch", "error", err)
			respondJson(w, http.StatusInternalServerError, api.ErrorResponse{Code: apierror.CodeInternal, Message: "Internal server error"})
		}
	})
	return mux
}

func respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutDownCtx)
	}
}
