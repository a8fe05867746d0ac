// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"draftplane/internal/apierror"
	"draftplane/internal/auth"
	"draftplane/internal/logger"
	"draftplane/pkg/api"
)

// BearerAuth resolves the Authorization bearer token into a principal and
// stores it in the request context. Verification failures never reveal why
// the token was rejected.
func BearerAuth(verifier auth.TokenVerifier, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, apierror.Unauthorized("Invalid or missing bearer token"))
				return
			}

			p, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if !errors.Is(err, auth.ErrInvalidToken) {
					logger.FromContext(r.Context(), log).Error("token verification failed", "error", err)
				}
				writeError(w, apierror.Unauthorized("Invalid or missing bearer token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func writeError(w http.ResponseWriter, e *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
