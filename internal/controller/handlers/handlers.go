// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"draftplane/internal/apierror"
	"draftplane/internal/auth"
	"draftplane/internal/callbacks"
	"draftplane/internal/jobs"
	"draftplane/internal/logger"
	"draftplane/internal/projects"
	"draftplane/internal/store"
	"draftplane/pkg/api"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the handlers delegate to.
type Deps struct {
	Projects  *projects.Service
	Jobs      *jobs.Service
	Callbacks *callbacks.Processor
	APIKeys   store.APIKeyStore
	// Pinger is optional; without it readiness always succeeds.
	Pinger Pinger
	Logger *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	projects  *projects.Service
	jobs      *jobs.Service
	callbacks *callbacks.Processor
	apiKeys   store.APIKeyStore
	pinger    Pinger
	logger    *slog.Logger
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Handlers{
		projects:  d.Projects,
		jobs:      d.Jobs,
		callbacks: d.Callbacks,
		apiKeys:   d.APIKeys,
		pinger:    d.Pinger,
		logger:    l,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// httpError maps err to the error envelope. Anything that is not an
// *apierror.Error is logged and reported as a bare internal error.
func (h *Handlers) httpError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := apierror.As(err)
	if !ok {
		logger.FromContext(r.Context(), h.logger).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		apiErr = apierror.Internal()
	}
	h.respondJson(w, apiErr.Status, api.ErrorResponse{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	})
}

// decode reads a JSON body into dst.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

// principal returns the caller resolved by the auth middleware.
func principal(r *http.Request) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return auth.Principal{}, apierror.Unauthorized("Invalid or missing bearer token")
	}
	return p, nil
}
