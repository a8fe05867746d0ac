package middleware

import (
	"net/http"
	"strings"

	"draftplane/internal/logger"

	"github.com/google/uuid"
)

// CorrelationIDHeader is accepted from callers and echoed on every response.
const CorrelationIDHeader = "X-Correlation-Id"

// RequestID attaches a correlation id to the request context. A caller
// supplied X-Correlation-Id is kept, otherwise one is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(CorrelationIDHeader))
		if id == "" || len(id) > 128 {
			id = "req-" + uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}
