// Package runtime provides the backends that execute pipeline dispatches.
package runtime

import (
	"context"
	"io"
	"strings"
	"time"
)

// Environment variables handed to every pipeline run.
const (
	EnvDispatchID       = "DRAFTPLANE_DISPATCH_ID"
	EnvDispatchType     = "DRAFTPLANE_DISPATCH_TYPE"
	EnvJobID            = "DRAFTPLANE_JOB_ID"
	EnvProjectID        = "DRAFTPLANE_PROJECT_ID"
	EnvVideoURI         = "DRAFTPLANE_VIDEO_URI"
	EnvCallbackURL      = "DRAFTPLANE_CALLBACK_URL"
	EnvResumeFromStatus = "DRAFTPLANE_RESUME_FROM_STATUS"
	EnvCheckpointRef    = "DRAFTPLANE_CHECKPOINT_REF"
	EnvModelProfile     = "DRAFTPLANE_MODEL_PROFILE"
)

// managedByLabel marks containers and jobs created by the worker.
const managedByLabel = "app.kubernetes.io/managed-by"

// Labels that tie a container or Kubernetes Job back to its dispatch.
const (
	LabelDispatchID   = "draftplane.dev/dispatch-id"
	LabelDispatchType = "draftplane.dev/dispatch-type"
	LabelJobID        = "draftplane.dev/job-id"
)

// Runtime starts pipeline runs.
// Implementations include Docker, Kubernetes Jobs and raw processes.
type Runtime interface {
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a run.
type StartOptions struct {
	// Name identifies the run. It seeds workdir, container and job names.
	Name    string
	Image   string
	Command []string
	Env     map[string]string
	// Timeout bounds the run on backends that enforce deadlines themselves.
	Timeout time.Duration
}

// ExitResult is how a run ended.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running pipeline run.
type Handle interface {
	// Wait blocks until the run completes.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the run.
	Stop(ctx context.Context) error

	// StreamLogs returns a reader for the run's combined output.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}

// resourceName turns name into a lowercase DNS label usable by Docker and
// Kubernetes, prefixed with draftplane-.
func resourceName(name string) string {
	var b strings.Builder
	b.WriteString("draftplane-")
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	if len(out) > 63 {
		out = out[:63]
	}
	return strings.TrimRight(out, "-")
}

// runLabels returns the labels for a run started with env.
func runLabels(env map[string]string) map[string]string {
	labels := map[string]string{managedByLabel: "draftplane"}
	for label, key := range map[string]string{
		LabelDispatchID:   EnvDispatchID,
		LabelDispatchType: EnvDispatchType,
		LabelJobID:        EnvJobID,
	} {
		if v := labelValue(env[key]); v != "" {
			labels[label] = v
		}
	}
	return labels
}

// labelValue restricts v to the Kubernetes label value charset: at most 63
// characters of [A-Za-z0-9-_.], starting and ending alphanumeric.
func labelValue(v string) string {
	b := []byte(v)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			b[i] = '-'
		}
	}
	if len(b) > 63 {
		b = b[:63]
	}
	return strings.Trim(string(b), "-_.")
}
