package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"draftplane/internal/store"
	"draftplane/internal/store/memory"
)

func TestMockVerifier(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  Principal
		err   bool
	}{
		{"user only", "test:user-1", Principal{UserID: "user-1", Role: "editor"}, false},
		{"user and role", "test:user-2:admin", Principal{UserID: "user-2", Role: "admin"}, false},
		{"trims parts", "test: user-3 : viewer ", Principal{UserID: "user-3", Role: "viewer"}, false},
		{"wrong scheme", "prod:user-1", Principal{}, true},
		{"too many parts", "test:a:b:c", Principal{}, true},
		{"empty user", "test: ", Principal{}, true},
		{"empty role", "test:user-1:", Principal{}, true},
		{"no separator", "test", Principal{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MockVerifier{}.Verify(context.Background(), tt.token)
			if tt.err {
				if !errors.Is(err, ErrInvalidToken) {
					t.Errorf("expected ErrInvalidToken, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Verify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAPIKeyVerifier(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	if err := mem.CreateAPIKey(ctx, &store.APIKey{KeyHash: HashKey("dpk_live"), UserID: "user-1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	v := &APIKeyVerifier{Keys: mem}

	got, err := v.Verify(ctx, "dpk_live")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got.UserID != "user-1" || got.Role != DefaultRole {
		t.Errorf("unexpected principal %+v", got)
	}

	for _, token := range []string{"", "dpk_unknown"} {
		if _, err := v.Verify(ctx, token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q): expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("expected no principal on empty context")
	}
	ctx := WithPrincipal(context.Background(), Principal{UserID: "u", Role: "editor"})
	if p, ok := PrincipalFromContext(ctx); !ok || p.UserID != "u" {
		t.Errorf("unexpected principal %+v", p)
	}
}
