// Package execute runs external diagnostic commands with a bounded wait.
package execute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	dmerrors "github.com/jamesprial/drive-monitor/internal/errors"
)

// DefaultTimeout bounds a single tool invocation when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// maxExcerpt bounds how much raw output is attached to logs.
const maxExcerpt = 4 << 10

// ErrEmptyCommand is returned when Run is called without a command name.
var ErrEmptyCommand = errors.New("empty command")

// Result is the outcome of one command invocation.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int // -1 when the process did not exit normally
	Err      error
}

// String returns a short description suitable for logs.
func (r *Result) String() string {
	return fmt.Sprintf("Result{ExitCode: %d, Stdout: %d bytes, Stderr: %d bytes, Err: %v}",
		r.ExitCode, len(r.Stdout), len(r.Stderr), r.Err)
}

// Excerpt returns stdout, truncated for logging.
func (r *Result) Excerpt() string {
	if len(r.Stdout) <= maxExcerpt {
		return string(r.Stdout)
	}
	return string(r.Stdout[:maxExcerpt]) + fmt.Sprintf("... (%d bytes truncated)", len(r.Stdout)-maxExcerpt)
}

// Runner executes a command and captures its output. A non-zero exit code is
// reported in Result.ExitCode and is not by itself an error: some tools encode
// status bits in the exit code while still producing valid output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) *Result
}

// Compile-time interface check.
var _ Runner = (*CommandRunner)(nil)

// CommandRunner runs commands as local subprocesses.
type CommandRunner struct {
	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewCommandRunner returns a CommandRunner using the given per-invocation timeout.
func NewCommandRunner(timeout time.Duration) *CommandRunner {
	return &CommandRunner{Timeout: timeout}
}

// Run executes name with args. The subprocess is killed when the timeout
// expires or ctx is canceled; both surface as TOOL_INVOCATION_FAILED, with a
// TIMEOUT cause for the former.
func (r *CommandRunner) Run(ctx context.Context, name string, args ...string) *Result {
	result := &Result{ExitCode: -1}
	if name == "" {
		result.Err = dmerrors.Wrap(dmerrors.ErrCodeToolInvocationFailed, "run command", ErrEmptyCommand)
		return result
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	// Do not let an orphaned grandchild holding the pipes keep us waiting.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	toolDuration.WithLabelValues(ToolName(name)).Observe(time.Since(start).Seconds())

	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	result.ExitCode = exitCode(cmd, err)
	result.Err = wrapError(ctx, name, args, err)
	if result.Err != nil {
		CountFailure(name)
	}

	return result
}

// ToolName returns the metrics label for a command: its base name.
func ToolName(name string) string {
	return filepath.Base(name)
}

// exitCode extracts the process exit code, or -1 if it did not exit normally.
func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

// wrapError classifies err. A plain non-zero exit is not an error.
func wrapError(ctx context.Context, name string, args []string, err error) error {
	if err == nil {
		return nil
	}

	cmdLine := strings.TrimSpace(name + " " + strings.Join(args, " "))
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return dmerrors.WrapWithContext(dmerrors.ErrCodeToolInvocationFailed, "run "+cmdLine,
			dmerrors.Wrap(dmerrors.ErrCodeTimeout, "command timed out", err),
			map[string]any{"command": cmdLine})
	case errors.Is(ctx.Err(), context.Canceled):
		return dmerrors.WrapWithContext(dmerrors.ErrCodeToolInvocationFailed, "run "+cmdLine,
			fmt.Errorf("command canceled: %w", err),
			map[string]any{"command": cmdLine})
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}

	return dmerrors.WrapWithContext(dmerrors.ErrCodeToolInvocationFailed, "run "+cmdLine, err,
		map[string]any{"command": cmdLine})
}
