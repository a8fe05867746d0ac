package middleware

import (
	"net/http"
	"sync"
	"time"

	"draftplane/internal/apierror"
	"draftplane/internal/auth"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per authenticated user.
type RateLimiter struct {
	limiters sync.Map // userID -> *cachedLimiter
	ttl      time.Duration
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithTTL sets how long an idle bucket is kept before it is rebuilt.
func WithTTL(ttl time.Duration) RateLimiterOption {
	return func(l *RateLimiter) { l.ttl = ttl }
}

// WithLimit sets the sustained requests per second and the burst size.
// A non-positive rps disables limiting.
func WithLimit(rps float64, burst int) RateLimiterOption {
	return func(l *RateLimiter) {
		l.limit = rate.Limit(rps)
		l.burst = burst
	}
}

// NewRateLimiter creates a limiter allowing 10 rps with a burst of 20 unless
// configured otherwise.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	l := &RateLimiter{
		ttl:   5 * time.Minute,
		limit: 10,
		burst: 20,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.burst < 1 {
		l.burst = 1
	}
	return l
}

// Middleware must run after BearerAuth.
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, apierror.Unauthorized("Invalid or missing bearer token"))
				return
			}

			if l.limit > 0 && !l.limiterFor(p.UserID).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, apierror.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (l *RateLimiter) limiterFor(userID string) *rate.Limiter {
	now := l.now()
	if v, ok := l.limiters.Load(userID); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Store(userID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(l.ttl),
	})
	return limiter
}
