// Package auth resolves bearer tokens into principals.
package auth

import (
	"context"
	"errors"
)

// DefaultRole is assigned when a token does not carry a role.
const DefaultRole = "editor"

// ErrInvalidToken is returned for any token that cannot be verified. The
// reason is never exposed to the caller.
var ErrInvalidToken = errors.New("auth: invalid token")

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   string
}

// TokenVerifier verifies a bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
