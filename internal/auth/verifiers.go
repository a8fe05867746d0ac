package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"draftplane/internal/store"
)

// MockVerifier accepts deterministic development tokens of the form
// test:<user_id> or test:<user_id>:<role>.
type MockVerifier struct{}

func (MockVerifier) Verify(_ context.Context, token string) (Principal, error) {
	parts := strings.Split(token, ":")
	if (len(parts) != 2 && len(parts) != 3) || parts[0] != "test" {
		return Principal{}, ErrInvalidToken
	}

	userID := strings.TrimSpace(parts[1])
	role := DefaultRole
	if len(parts) == 3 {
		role = strings.TrimSpace(parts[2])
	}
	if userID == "" || role == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: userID, Role: role}, nil
}

// APIKeyVerifier resolves keys issued through the admin API.
type APIKeyVerifier struct {
	Keys store.APIKeyStore
}

func (v *APIKeyVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	if strings.TrimSpace(token) == "" {
		return Principal{}, ErrInvalidToken
	}
	key, err := v.Keys.GetAPIKeyByHash(ctx, HashKey(token))
	if errors.Is(err, store.ErrNotFound) {
		return Principal{}, ErrInvalidToken
	}
	if err != nil {
		return Principal{}, fmt.Errorf("failed to look up api key: %w", err)
	}
	role := key.Role
	if role == "" {
		role = DefaultRole
	}
	return Principal{UserID: key.UserID, Role: role}, nil
}
