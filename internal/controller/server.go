// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"draftplane/internal/auth"
	"draftplane/internal/controller/handlers"
	"draftplane/internal/controller/middleware"
)

// Options wires the controller's HTTP surface.
type Options struct {
	Addr     string
	Handlers *handlers.Handlers
	Verifier auth.TokenVerifier
	Limiter  *middleware.RateLimiter

	// CallbackSecret guards the orchestrator status callback.
	CallbackSecret string
	// AdminSecret guards API key issuance. Empty disables the admin routes.
	AdminSecret string

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(opts Options) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      Handler(opts),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Handler builds the routed handler without binding a listener.
func Handler(opts Options) http.Handler {
	h := opts.Handlers
	limiter := opts.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter()
	}
	authMW := middleware.BearerAuth(opts.Verifier, opts.Logger)
	rateMW := limiter.Middleware()
	public := func(fn http.HandlerFunc) http.Handler {
		return authMW(rateMW(fn))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Public authenticated apis
	mux.Handle("POST /api/v1/projects", public(h.CreateProject))
	mux.Handle("GET /api/v1/projects", public(h.ListProjects))
	mux.Handle("GET /api/v1/projects/{projectId}", public(h.GetProject))
	mux.Handle("GET /api/v1/projects/{projectId}/instructions", public(h.GetInstruction))
	mux.Handle("PUT /api/v1/projects/{projectId}/instructions", public(h.PutInstruction))
	mux.Handle("POST /api/v1/projects/{projectId}/jobs", public(h.CreateJob))

	mux.Handle("GET /api/v1/jobs/{jobId}", public(h.GetJob))
	mux.Handle("POST /api/v1/jobs/{jobId}/confirm-upload", public(h.ConfirmUpload))
	mux.Handle("POST /api/v1/jobs/{jobId}/run", public(h.RunJob))
	mux.Handle("POST /api/v1/jobs/{jobId}/retry", public(h.RetryJob))
	mux.Handle("POST /api/v1/jobs/{jobId}/cancel", public(h.CancelJob))
	mux.Handle("GET /api/v1/jobs/{jobId}/transcript", public(h.GetTranscript))

	// Internal endpoints
	// Called by the workflow orchestrator and the worker.
	mux.Handle("POST /api/v1/internal/jobs/{jobId}/status",
		middleware.RequireCallbackSecret(opts.CallbackSecret)(http.HandlerFunc(h.StatusCallback)))

	if opts.AdminSecret != "" {
		mux.Handle("POST /api/v1/admin/api-keys",
			middleware.RequireInternalAuth(opts.AdminSecret)(http.HandlerFunc(h.CreateAPIKey)))
	}

	return middleware.RequestID(mux)
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

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
