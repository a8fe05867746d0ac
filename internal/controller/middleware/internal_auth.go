package middleware

import (
	"crypto/subtle"
	"net/http"

	"draftplane/internal/apierror"
	"draftplane/pkg/api"
)

// CallbackSecretHeader carries the shared secret on orchestrator callbacks.
const CallbackSecretHeader = api.CallbackSecretHeader

// RequireInternalAuth ensures the request carries the system secret as a
// bearer token. It guards the admin routes.
func RequireInternalAuth(systemSecret string) func(http.Handler) http.Handler {
	return requireSecret(systemSecret, func(r *http.Request) string {
		token, _ := bearerToken(r)
		return token
	})
}

// RequireCallbackSecret ensures the request carries the callback secret in
// the X-Callback-Secret header.
func RequireCallbackSecret(secret string) func(http.Handler) http.Handler {
	return requireSecret(secret, func(r *http.Request) string {
		return r.Header.Get(CallbackSecretHeader)
	})
}

func requireSecret(secret string, extract func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := extract(r)
			if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeError(w, apierror.Unauthorized("Invalid or missing credentials"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
