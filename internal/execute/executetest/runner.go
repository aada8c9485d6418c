// Package executetest provides a scripted execute.Runner for tests.
package executetest

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	dmerrors "github.com/jamesprial/drive-monitor/internal/errors"
	"github.com/jamesprial/drive-monitor/internal/execute"
)

// Compile-time interface check.
var _ execute.Runner = (*Runner)(nil)

// Runner returns canned results keyed by the full command line, e.g.
// "smartctl -a disk0 --json". RunFunc, when set, takes precedence.
type Runner struct {
	RunFunc func(ctx context.Context, name string, args ...string) *execute.Result

	mu        sync.Mutex
	responses map[string]*execute.Result
	calls     map[string]int
}

// NewRunner returns an empty Runner.
func NewRunner() *Runner {
	return &Runner{
		responses: make(map[string]*execute.Result),
		calls:     make(map[string]int),
	}
}

// Set registers the result returned for cmdline.
func (r *Runner) Set(cmdline string, res *execute.Result) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[cmdline] = res
	return r
}

// Run implements execute.Runner.
func (r *Runner) Run(ctx context.Context, name string, args ...string) *execute.Result {
	cmdline := strings.Join(append([]string{name}, args...), " ")

	r.mu.Lock()
	r.calls[cmdline]++
	res, ok := r.responses[cmdline]
	r.mu.Unlock()

	if r.RunFunc != nil {
		return r.RunFunc(ctx, name, args...)
	}
	if !ok {
		return &execute.Result{
			ExitCode: -1,
			Err: dmerrors.NewWithContext(dmerrors.ErrCodeToolInvocationFailed,
				"no scripted response", map[string]any{"command": cmdline}),
		}
	}
	return res
}

// Calls returns how many times cmdline was run.
func (r *Runner) Calls(cmdline string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[cmdline]
}

// Output returns a successful Result with the given stdout and exit code.
func Output(stdout []byte, exitCode int) *execute.Result {
	return &execute.Result{Stdout: stdout, ExitCode: exitCode}
}

// File returns a successful Result whose stdout is the content of path.
func File(t testing.TB, path string, exitCode int) *execute.Result {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return Output(data, exitCode)
}
