package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestWithRequestID_And_RequestIDFromContext(t *testing.T) {
	ctx := context.Background()

	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("RequestIDFromContext() on empty ctx = %v, want empty", got)
	}

	ctx = WithRequestID(ctx, "req-12345")
	if got := RequestIDFromContext(ctx); got != "req-12345" {
		t.Errorf("RequestIDFromContext() = %v, want req-12345", got)
	}
}

func TestFromContext_AttachesRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf)

	FromContext(WithRequestID(context.Background(), "req-67890"), base).Info("job updated")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["request_id"] != "req-67890" {
		t.Errorf("expected request_id field, got %v", entry)
	}
	if entry["msg"] != "job updated" {
		t.Errorf("expected msg field, got %v", entry)
	}
}

func TestFromContext_WithoutRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf)

	FromContext(context.Background(), base).Info("hello")

	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("expected no request_id field, got %s", buf.String())
	}
}

func TestSafeIdentifier(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		prefix string
		want   string
	}{
		// sha256("abc") = ba7816bf8f01cfea414140de5dae2223...
		{"known digest", "abc", "job", "job:ba7816bf8f01"},
		// sha256("") = e3b0c44298fc1c149afbf4c8996fb924...
		{"empty value", "", "user", "user:e3b0c44298fc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeIdentifier(tt.value, tt.prefix); got != tt.want {
				t.Errorf("SafeIdentifier(%q, %q) = %q, want %q", tt.value, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestSafeIdentifier_HidesRawValue(t *testing.T) {
	got := SafeIdentifier("user-secret-id", "user")
	if strings.Contains(got, "user-secret-id") {
		t.Errorf("raw value leaked: %q", got)
	}
	if got != SafeIdentifier("user-secret-id", "user") {
		t.Error("expected stable output")
	}
}
