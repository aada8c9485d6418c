package smartctl

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/jamesprial/drive-monitor/internal/coalesce"
	dmerrors "github.com/jamesprial/drive-monitor/internal/errors"
	"github.com/jamesprial/drive-monitor/internal/execute"
	"github.com/jamesprial/drive-monitor/internal/manufacturer"
	"github.com/jamesprial/drive-monitor/internal/store"
)

const (
	// DefaultPath is the smartctl binary looked up on PATH.
	DefaultPath = "smartctl"
	// DefaultTTL is how long parsed output is reused.
	DefaultTTL = 10 * time.Second
)

// Config configures an Adapter.
type Config struct {
	Path           string
	TTL            time.Duration
	PurgeOnFailure bool
	Clock          clock.PassiveClock // nil means the real clock
}

// Adapter queries smartctl for one drive at a time. Calls for the same node
// are coalesced.
type Adapter struct {
	path   string
	runner execute.Runner
	table  *manufacturer.Table
	cache  *coalesce.Cache[*Output]
}

// New returns an Adapter that runs smartctl through runner and resolves
// manufacturers with table.
func New(runner execute.Runner, table *manufacturer.Table, cfg Config) *Adapter {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	opts := []coalesce.Option{
		coalesce.WithName("smartctl"),
		coalesce.WithPurgeOnFailure(cfg.PurgeOnFailure),
	}
	if cfg.Clock != nil {
		opts = append(opts, coalesce.WithClock(cfg.Clock))
	}
	return &Adapter{
		path:   cfg.Path,
		runner: runner,
		table:  table,
		cache:  coalesce.New[*Output](cfg.TTL, opts...),
	}
}

// Query returns the parsed "smartctl -a <node> --json" output.
func (a *Adapter) Query(ctx context.Context, node string) (*Output, error) {
	return a.cache.Do(ctx, coalesce.Key("-a", node, "--json"), func(ctx context.Context) (*Output, error) {
		return a.execute(ctx, "-a", node, "--json")
	})
}

// DriveInfo returns the diagnostics view of the drive at node. found is
// false when smartctl ran but could not open the device or rejected the
// command line.
func (a *Adapter) DriveInfo(ctx context.Context, node string) (rec *store.DriveRecord, found bool, err error) {
	out, err := a.Query(ctx, node)
	if err != nil {
		return nil, false, err
	}
	rec, found = out.DriveRecord(a.table)
	if !found {
		slog.Debug("smartctl has no usable info", "node", node,
			"exit_status", ExitStatus(out.Smartctl.ExitStatus).String())
	}
	return rec, found, nil
}

// execute runs smartctl and decodes its JSON output.
func (a *Adapter) execute(ctx context.Context, args ...string) (*Output, error) {
	slog.Debug("executing smartctl", "args", args)
	res := a.runner.Run(ctx, a.path, args...)
	if res.Err != nil {
		slog.Error("smartctl failed", "args", args, "error", res.Err, "stderr", string(res.Stderr))
		return nil, res.Err
	}

	out := &Output{}
	if err := json.Unmarshal(res.Stdout, out); err != nil {
		execute.CountFailure(a.path)
		slog.Error("invalid output from smartctl",
			"args", args, "exit_code", res.ExitCode, "output", res.Excerpt(), "error", err)
		return nil, dmerrors.WrapWithContext(dmerrors.ErrCodeToolInvocationFailed,
			"invalid output from smartctl", err,
			map[string]any{"args": args, "exit_code": res.ExitCode})
	}

	// The process exit code and the JSON field carry the same bits; trust
	// whichever reports more.
	if res.ExitCode > 0 {
		out.Smartctl.ExitStatus |= res.ExitCode
	}
	return out, nil
}
