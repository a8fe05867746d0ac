package handlers

import (
	"net/http"
	"strings"
	"time"

	"draftplane/internal/apierror"
	"draftplane/internal/auth"
	"draftplane/internal/logger"
	"draftplane/internal/store"
	"draftplane/pkg/api"
)

// CreateAPIKey handles POST /api/v1/admin/api-keys.
// The plaintext key is only ever returned in this response.
func (h *Handlers) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAPIKeyRequest
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		h.httpError(w, r, apierror.Validation("user_id is required.", map[string]any{"field": "user_id"}))
		return
	}

	key, err := auth.GenerateKey()
	if err != nil {
		h.httpError(w, r, err)
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = auth.DefaultRole
	}

	record := &store.APIKey{
		KeyHash:   auth.HashKey(key),
		UserID:    strings.TrimSpace(req.UserID),
		Role:      role,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.apiKeys.CreateAPIKey(r.Context(), record); err != nil {
		h.httpError(w, r, err)
		return
	}

	logger.FromContext(r.Context(), h.logger).Info("api key issued",
		"user", logger.SafeIdentifier(record.UserID, "user"),
		"role", role,
	)
	h.respondJson(w, http.StatusCreated, api.CreateAPIKeyResponse{APIKey: key, UserID: record.UserID, Role: role})
}
