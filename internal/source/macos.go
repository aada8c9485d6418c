package source

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jamesprial/drive-monitor/internal/diskutil"
	dmerrors "github.com/jamesprial/drive-monitor/internal/errors"
	"github.com/jamesprial/drive-monitor/internal/smartctl"
	"github.com/jamesprial/drive-monitor/internal/store"
)

// Topology is the subset of the diskutil adapter used by MacOS.
type Topology interface {
	APFSList(ctx context.Context) (*diskutil.APFSList, error)
	RAIDs(ctx context.Context) ([]store.RAIDKey, error)
	RAIDInfo(ctx context.Context, node string) (*store.RAIDRecord, error)
	DriveInfo(ctx context.Context, node string) (*store.DriveRecord, bool, error)
}

// Diagnostics is the subset of the smartctl adapter used by MacOS.
type Diagnostics interface {
	DriveInfo(ctx context.Context, node string) (*store.DriveRecord, bool, error)
}

// Compile-time interface checks.
var (
	_ Source      = (*MacOS)(nil)
	_ Topology    = (*diskutil.Adapter)(nil)
	_ Diagnostics = (*smartctl.Adapter)(nil)
)

// MacOS discovers devices with diskutil and reads drive health with
// smartctl.
type MacOS struct {
	topology    Topology
	diagnostics Diagnostics
}

// NewMacOS is the Factory for the darwin platform.
func NewMacOS(deps Deps) (Source, error) {
	if deps.Runner == nil {
		return nil, dmerrors.New(dmerrors.ErrCodeInternal, "macos source requires a command runner")
	}
	return NewMacOSFrom(
		diskutil.New(deps.Runner, deps.Diskutil),
		smartctl.New(deps.Runner, deps.Manufacturers, deps.Smartctl),
	), nil
}

// NewMacOSFrom returns a MacOS source over the given adapters.
func NewMacOSFrom(topology Topology, diagnostics Diagnostics) *MacOS {
	return &MacOS{topology: topology, diagnostics: diagnostics}
}

// Drives enumerates physical drives, including RAID members. A container
// backed by a RAID set is replaced by one key per member drive, each tagged
// with the RAID's ID. Containers without a user-visible volume are skipped.
func (m *MacOS) Drives(ctx context.Context) ([]store.DriveKey, error) {
	var (
		apfs  *diskutil.APFSList
		raids []store.RAIDKey
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		apfs, err = m.topology.APFSList(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		raids, err = m.topology.RAIDs(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]*store.RAIDRecord, len(raids))
	g, gctx = errgroup.WithContext(ctx)
	for i, raid := range raids {
		g.Go(func() error {
			rec, err := m.topology.RAIDInfo(gctx, raid.Node)
			switch {
			case dmerrors.IsCode(err, dmerrors.ErrCodeNotFound):
				// The set vanished after it was enumerated.
				slog.Info("RAID set disappeared during discovery", "node", raid.Node)
				return nil
			case err != nil:
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Keyed by the RAID set's ID, which is also the DiskUUID of the
	// physical store that presents it to APFS.
	members := make(map[string]*store.RAIDRecord, len(raids))
	for i, raid := range raids {
		if records[i] != nil {
			members[raid.ID] = records[i]
		}
	}

	var drives []store.DriveKey
	seen := make(map[string]bool)
	add := func(k store.DriveKey) {
		if seen[k.Node] {
			return
		}
		seen[k.Node] = true
		drives = append(drives, k)
	}

	for _, c := range apfs.Containers {
		if !c.HasUserVisibleVolume() {
			continue
		}
		ps, ok := c.DesignatedStore()
		if !ok {
			slog.Warn("container has no physical store", "container", c.ContainerReference)
			continue
		}
		if raid, ok := members[ps.DiskUUID]; ok {
			for _, member := range raid.Members {
				add(store.DriveKey{
					StoreKey: store.StoreKey{ID: member.ID, Node: member.Node},
					RAID:     raid.ID,
				})
			}
			continue
		}
		add(store.DriveKey{StoreKey: store.StoreKey{
			ID:   ps.DiskUUID,
			Node: diskutil.BaseNode(ps.DeviceIdentifier),
		}})
	}
	return drives, nil
}

// RAIDs enumerates RAID sets.
func (m *MacOS) RAIDs(ctx context.Context) ([]store.RAIDKey, error) {
	return m.topology.RAIDs(ctx)
}

// DriveInfo queries smartctl and diskutil concurrently and merges their
// records. If smartctl cannot open the device the topology record is used
// alone. It fails with NOT_FOUND when neither tool knows node.
func (m *MacOS) DriveInfo(ctx context.Context, node string) (*store.DriveRecord, error) {
	var diag, topo *store.DriveRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec, found, err := m.diagnostics.DriveInfo(gctx, node)
		if found {
			diag = rec
		}
		return err
	})
	g.Go(func() error {
		rec, found, err := m.topology.DriveInfo(gctx, node)
		if found {
			topo = rec
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := Merge(diag, topo)
	if merged == nil {
		return nil, dmerrors.NotFound("drive", node)
	}
	return merged, nil
}

// RAIDInfo returns the RAID set at node.
func (m *MacOS) RAIDInfo(ctx context.Context, node string) (*store.RAIDRecord, error) {
	return m.topology.RAIDInfo(ctx, node)
}
