package handlers

import (
	"context"
	"net/http"
	"time"

	"draftplane/internal/logger"
)

const readyTimeout = 2 * time.Second

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz reports liveness only. It never touches the store.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, probeResponse{Status: "ok"})
}

// Readyz pings the store with a short deadline. Without a pinger the
// controller is ready as soon as it serves.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.pinger == nil {
		h.respondJson(w, http.StatusOK, probeResponse{Status: "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		logger.FromContext(ctx, h.logger).Warn("readiness check failed", "error", err)
		h.respondJson(w, http.StatusServiceUnavailable, probeResponse{
			Status: "unavailable",
			Checks: map[string]string{"store": "unreachable"},
		})
		return
	}
	h.respondJson(w, http.StatusOK, probeResponse{
		Status: "ready",
		Checks: map[string]string{"store": "ok"},
	})
}
