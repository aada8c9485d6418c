package diskutil

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"howett.net/plist"
	"k8s.io/utils/clock"

	"github.com/jamesprial/drive-monitor/internal/coalesce"
	dmerrors "github.com/jamesprial/drive-monitor/internal/errors"
	"github.com/jamesprial/drive-monitor/internal/execute"
	"github.com/jamesprial/drive-monitor/internal/store"
)

const (
	// DefaultPath is the diskutil binary looked up on PATH.
	DefaultPath = "diskutil"
	// DefaultTTL is how long parsed output is reused.
	DefaultTTL = 10 * time.Second
)

// ErrEmptyOutput is the cause reported when diskutil printed nothing.
var ErrEmptyOutput = errors.New("empty output")

// Config configures an Adapter.
type Config struct {
	Path           string
	TTL            time.Duration
	PurgeOnFailure bool
	Clock          clock.PassiveClock // nil means the real clock
}

// Adapter queries diskutil. Every distinct subcommand is coalesced through a
// cache so that a burst of device updates runs diskutil once.
type Adapter struct {
	path   string
	runner execute.Runner
	apfs   *coalesce.Cache[*APFSList]
	raids  *coalesce.Cache[*RAIDList]
}

// New returns an Adapter that runs diskutil through runner.
func New(runner execute.Runner, cfg Config) *Adapter {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	opts := []coalesce.Option{
		coalesce.WithName("diskutil"),
		coalesce.WithPurgeOnFailure(cfg.PurgeOnFailure),
	}
	if cfg.Clock != nil {
		opts = append(opts, coalesce.WithClock(cfg.Clock))
	}
	return &Adapter{
		path:   cfg.Path,
		runner: runner,
		apfs:   coalesce.New[*APFSList](cfg.TTL, opts...),
		raids:  coalesce.New[*RAIDList](cfg.TTL, opts...),
	}
}

// APFSList returns the parsed output of "diskutil apfs list".
func (a *Adapter) APFSList(ctx context.Context) (*APFSList, error) {
	args := []string{"apfs", "list", "-plist"}
	return a.apfs.Do(ctx, coalesce.Key("apfs", "list", "-plist"), func(ctx context.Context) (*APFSList, error) {
		out := &APFSList{}
		if err := a.execute(ctx, out, args...); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// RAIDList returns the parsed output of "diskutil appleraid list".
func (a *Adapter) RAIDList(ctx context.Context) (*RAIDList, error) {
	args := []string{"appleraid", "list", "-plist"}
	return a.raids.Do(ctx, coalesce.Key("appleraid", "list", "-plist"), func(ctx context.Context) (*RAIDList, error) {
		out := &RAIDList{}
		if err := a.execute(ctx, out, args...); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// RAIDs enumerates the RAID sets present on the system.
func (a *Adapter) RAIDs(ctx context.Context) ([]store.RAIDKey, error) {
	list, err := a.RAIDList(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]store.RAIDKey, 0, len(list.AppleRAIDSets))
	for _, s := range list.AppleRAIDSets {
		keys = append(keys, store.RAIDKey{StoreKey: store.StoreKey{
			ID:   s.AppleRAIDSetUUID,
			Node: BaseNode(s.BSDName),
		}})
	}
	return keys, nil
}

// DriveInfo returns the topology view of the drive at node: its name,
// capacity and used bytes. found is false when diskutil ran but no container
// is backed by node.
func (a *Adapter) DriveInfo(ctx context.Context, node string) (rec *store.DriveRecord, found bool, err error) {
	list, err := a.APFSList(ctx)
	if err != nil {
		return nil, false, err
	}
	c, ok := list.containerOn(node)
	if !ok {
		return nil, false, nil
	}
	rec = store.NewDriveRecord()
	if name := c.Name(); name != "" {
		rec.Name = name
	}
	rec.Capacity = store.Ptr(c.CapacityCeiling)
	rec.Used = store.Ptr(c.Used())
	return rec, true, nil
}

// RAIDInfo returns the RAID set at node. It fails with NOT_FOUND when
// diskutil does not list one. Used bytes are filled in from the APFS
// container on the RAID when one exists.
func (a *Adapter) RAIDInfo(ctx context.Context, node string) (*store.RAIDRecord, error) {
	list, err := a.RAIDList(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range list.AppleRAIDSets {
		if BaseNode(s.BSDName) != node {
			continue
		}
		rec := s.RAIDRecord()

		apfs, err := a.APFSList(ctx)
		if err != nil {
			slog.Warn("RAID usage unavailable", "node", node, "error", err)
			return rec, nil
		}
		if c, ok := apfs.containerOn(node); ok {
			rec.Used = store.Ptr(c.Used())
		}
		return rec, nil
	}
	return nil, dmerrors.NotFound("RAID", node)
}

// containerOn returns the container backed by node. Containers with a
// user-visible volume win over hidden ones (the ISC and Recovery containers
// that share an Apple Silicon boot disk), and a match on the designated
// store wins over a match on any other store.
func (l *APFSList) containerOn(node string) (Container, bool) {
	best, bestRank := Container{}, 0
	for _, c := range l.Containers {
		rank := 0
		if ds, ok := c.DesignatedStore(); ok && BaseNode(ds.DeviceIdentifier) == node {
			rank = 2
		} else {
			for _, s := range c.PhysicalStores {
				if BaseNode(s.DeviceIdentifier) == node {
					rank = 1
					break
				}
			}
		}
		if rank == 0 {
			continue
		}
		if c.HasUserVisibleVolume() {
			rank += 2
		}
		if rank > bestRank {
			best, bestRank = c, rank
		}
	}
	return best, bestRank > 0
}

// execute runs diskutil and decodes its plist output into v.
func (a *Adapter) execute(ctx context.Context, v any, args ...string) error {
	slog.Debug("executing diskutil", "args", args)
	res := a.runner.Run(ctx, a.path, args...)
	if res.Err != nil {
		slog.Error("diskutil failed", "args", args, "error", res.Err, "stderr", string(res.Stderr))
		return res.Err
	}

	if len(bytes.TrimSpace(res.Stdout)) == 0 {
		return a.invalidOutput(args, res, nil)
	}
	if _, err := plist.Unmarshal(res.Stdout, v); err != nil {
		return a.invalidOutput(args, res, err)
	}
	return nil
}

func (a *Adapter) invalidOutput(args []string, res *execute.Result, cause error) error {
	execute.CountFailure(a.path)
	slog.Error("invalid output from diskutil",
		"args", args, "exit_code", res.ExitCode, "output", res.Excerpt(), "error", cause)
	if cause == nil {
		cause = ErrEmptyOutput
	}
	return dmerrors.WrapWithContext(dmerrors.ErrCodeToolInvocationFailed,
		"invalid output from diskutil", cause,
		map[string]any{"args": args, "exit_code": res.ExitCode})
}
