package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/jamesprial/drive-monitor/internal/coalesce"
	"github.com/jamesprial/drive-monitor/internal/store"
)

// Source is what the registry needs from a reconciler.
type Source interface {
	Drives(ctx context.Context) ([]store.DriveKey, error)
	RAIDs(ctx context.Context) ([]store.RAIDKey, error)
	DriveSource
	RAIDSource
}

// NodeFilter decides which discovered nodes are monitored.
type NodeFilter interface {
	IsAllowed(node string) bool
}

// DefaultUpdateTTL is how long a device refresh is reused.
const DefaultUpdateTTL = 10 * time.Second

// Options configures a Registry.
type Options struct {
	// UpdateTTL bounds how often each device is refreshed. Zero means
	// DefaultUpdateTTL.
	UpdateTTL time.Duration
	// PurgeOnFailure retries a failed refresh on the next poll instead of
	// replaying the failure until UpdateTTL elapses.
	PurgeOnFailure bool
	// Filter excludes nodes from monitoring. Nil monitors every node.
	Filter NodeFilter
	// Clock is used for refresh timestamps. Nil means the real clock.
	Clock clock.PassiveClock
}

// Registry discovers devices once and owns them for the process lifetime.
type Registry struct {
	source  Source
	filter  NodeFilter
	clock   clock.PassiveClock
	updates *coalesce.Cache[struct{}]

	mu      sync.RWMutex
	devices []Device
	byNode  map[string]Device
}

// NewRegistry returns a Registry that discovers devices through src.
func NewRegistry(src Source, opts Options) *Registry {
	if opts.UpdateTTL == 0 {
		opts.UpdateTTL = DefaultUpdateTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Registry{
		source: src,
		filter: opts.Filter,
		clock:  opts.Clock,
		updates: coalesce.New[struct{}](opts.UpdateTTL,
			coalesce.WithName("device"),
			coalesce.WithClock(opts.Clock),
			coalesce.WithPurgeOnFailure(opts.PurgeOnFailure)),
		byNode: make(map[string]Device),
	}
}

// Initialize discovers drives and RAID sets, builds one device per key and
// runs a first update on all of them concurrently. A discovery failure is
// returned; a failed first update only affects that device.
func (r *Registry) Initialize(ctx context.Context) ([]Device, error) {
	var (
		drives []store.DriveKey
		raids  []store.RAIDKey
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		drives, err = r.source.Drives(gctx)
		if err != nil {
			return fmt.Errorf("discover drives: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		raids, err = r.source.RAIDs(gctx)
		if err != nil {
			return fmt.Errorf("discover RAIDs: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var devices []Device
	for _, k := range drives {
		if r.allowed(k.Node) {
			devices = append(devices, NewDrive(k, r.source, r.updates, r.clock))
		}
	}
	for _, k := range raids {
		if r.allowed(k.Node) {
			devices = append(devices, NewRAID(k, r.source, r.updates, r.clock))
		}
	}

	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Errors are recorded on the device and logged by it.
			_ = d.Update(ctx)
		}()
	}
	wg.Wait()

	r.mu.Lock()
	r.devices = devices
	r.byNode = make(map[string]Device, len(devices))
	for _, d := range devices {
		r.byNode[d.Node()] = d
	}
	r.mu.Unlock()

	slog.Info("devices discovered", "drives", len(drives), "raids", len(raids), "monitored", len(devices))
	return r.Devices(), nil
}

func (r *Registry) allowed(node string) bool {
	if r.filter == nil || r.filter.IsAllowed(node) {
		return true
	}
	slog.Debug("node excluded by filter", "node", node)
	return false
}

// Devices returns every monitored device in discovery order: drives first,
// then RAID sets.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Device returns the device at node.
func (r *Registry) Device(node string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byNode[node]
	return d, ok
}

// Sensors returns the sensors of the given kind across all devices. An empty
// kind returns every sensor.
func (r *Registry) Sensors(kind Kind) []*Sensor {
	var out []*Sensor
	for _, d := range r.Devices() {
		for _, s := range d.Sensors() {
			if kind == "" || s.Kind() == kind {
				out = append(out, s)
			}
		}
	}
	return out
}

// Sensor returns the sensor with the given ID.
func (r *Registry) Sensor(id string) (*Sensor, bool) {
	for _, s := range r.Sensors("") {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// Snapshot is the current reconciled state of every device.
type Snapshot struct {
	Taken  time.Time     `json:"taken" yaml:"taken"`
	Drives []DriveStatus `json:"drives" yaml:"drives"`
	RAIDs  []RAIDStatus  `json:"raids" yaml:"raids"`
}

// DriveStatus pairs a drive's status with its last record.
type DriveStatus struct {
	Status `yaml:",inline"`
	RAID   string             `json:"raid,omitempty" yaml:"raid,omitempty"`
	Record *store.DriveRecord `json:"record,omitempty" yaml:"record,omitempty"`
}

// RAIDStatus pairs a RAID set's status with its last record.
type RAIDStatus struct {
	Status `yaml:",inline"`
	Record *store.RAIDRecord `json:"record,omitempty" yaml:"record,omitempty"`
}

// Snapshot returns the current state without refreshing any device.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{Taken: r.clock.Now(), Drives: []DriveStatus{}, RAIDs: []RAIDStatus{}}
	for _, d := range r.Devices() {
		switch dev := d.(type) {
		case *Drive:
			snap.Drives = append(snap.Drives, DriveStatus{Status: StatusOf(dev), RAID: dev.RAID(), Record: dev.Record()})
		case *RAID:
			snap.RAIDs = append(snap.RAIDs, RAIDStatus{Status: StatusOf(dev), Record: dev.Record()})
		}
	}
	return snap
}
