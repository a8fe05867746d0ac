package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// ExecRuntime runs the pipeline as a local OS process. It is meant for
// development and single-host deployments.
type ExecRuntime struct {
	// WorkDir is the parent of the per-run working directories.
	WorkDir string
}

// NewExecRuntime creates a process-based runtime. An empty workDir
// defaults to $TMPDIR/draftplane/runner.
func NewExecRuntime(workDir string) *ExecRuntime {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "draftplane", "runner")
	}
	return &ExecRuntime{WorkDir: workDir}
}

// ExecHandle is a started process.
type ExecHandle struct {
	cmd     *exec.Cmd
	logs    *os.File
	done    chan struct{}
	waitErr error
}

// Start launches opts.Command in its own working directory. The image is
// ignored.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	dir := filepath.Join(e.WorkDir, filepath.Base(name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	// The child writes straight into the pipe so Wait never depends on the
	// logs being read.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create log pipe: %w", err)
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), mapToEnvList(opts.Env)...)
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	pw.Close()

	h := &ExecHandle{cmd: cmd, logs: pr, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// Wait returns the exit code once the process ends. If ctx ends first the
// process is killed.
func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		h.cmd.Process.Kill()
		<-h.done
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}

	if h.waitErr == nil {
		return ExitResult{ExitCode: 0}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(h.waitErr, &exitErr) {
		return ExitResult{ExitCode: exitErr.ExitCode()}, nil
	}
	return ExitResult{ExitCode: -1, Error: h.waitErr}, h.waitErr
}

// Stop sends SIGTERM and kills the process if it is still running when ctx
// ends.
func (h *ExecHandle) Stop(ctx context.Context) error {
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("failed to signal process: %w", err)
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill process: %w", err)
		}
		<-h.done
		return nil
	}
}

// StreamLogs returns the read end of the output pipe. It reaches EOF once
// the process exits.
func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.logs, nil
}
