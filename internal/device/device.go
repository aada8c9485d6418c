package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/jamesprial/drive-monitor/internal/coalesce"
	dmerrors "github.com/jamesprial/drive-monitor/internal/errors"
	"github.com/jamesprial/drive-monitor/internal/store"
)

// Type distinguishes drives from RAID sets.
type Type string

const (
	TypeDrive Type = "drive"
	TypeRAID  Type = "raid"
)

// State is the lifecycle state of a device.
type State string

const (
	// StateCreated means the device was discovered but never refreshed.
	StateCreated State = "Created"
	// StateUpdated means the last refresh succeeded.
	StateUpdated State = "Updated"
	// StateStale means the device vanished from the tools' output; its last
	// known values are retained.
	StateStale State = "Stale"
)

// Device is a monitored storage object.
type Device interface {
	ID() string
	Node() string
	Name() string
	Type() Type
	State() State
	LastUpdated() time.Time
	LastError() error
	Sensors() []*Sensor
	Update(ctx context.Context) error
}

// Status is a point-in-time summary of a device.
type Status struct {
	ID          string    `json:"id" yaml:"id"`
	Node        string    `json:"node" yaml:"node"`
	Name        string    `json:"name" yaml:"name"`
	Type        Type      `json:"type" yaml:"type"`
	State       State     `json:"state" yaml:"state"`
	LastUpdated time.Time `json:"last_updated,omitzero" yaml:"last_updated,omitempty"`
	LastError   string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Sensors     []Reading `json:"sensors" yaml:"sensors"`
}

// StatusOf summarizes d.
func StatusOf(d Device) Status {
	st := Status{
		ID:          d.ID(),
		Node:        d.Node(),
		Name:        d.Name(),
		Type:        d.Type(),
		State:       d.State(),
		LastUpdated: d.LastUpdated(),
	}
	if err := d.LastError(); err != nil {
		st.LastError = err.Error()
	}
	for _, s := range d.Sensors() {
		st.Sensors = append(st.Sensors, s.Reading())
	}
	return st
}

// base holds the identity, lifecycle and sensor set shared by drives and
// RAID sets.
type base struct {
	key     store.StoreKey
	typ     Type
	updates *coalesce.Cache[struct{}]
	clock   clock.PassiveClock

	mu          sync.RWMutex
	name        string
	state       State
	lastUpdated time.Time
	lastErr     error
	sensors     []*Sensor
}

func (b *base) init(key store.StoreKey, typ Type, updates *coalesce.Cache[struct{}], clk clock.PassiveClock) {
	b.key = key
	b.typ = typ
	b.updates = updates
	b.clock = clk
	b.name = key.Node
	b.state = StateCreated
}

func (b *base) ID() string   { return b.key.ID }
func (b *base) Node() string { return b.key.Node }
func (b *base) Type() Type   { return b.typ }

func (b *base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *base) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdated
}

func (b *base) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// Sensors returns a copy of the device's sensor slots in creation order.
func (b *base) Sensors() []*Sensor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Sensor, len(b.sensors))
	copy(out, b.sensors)
	return out
}

func (b *base) addSensor(owner updater, spec SensorSpec) *Sensor {
	s := newSensor(owner, b.key.ID, b.key.Node, spec)
	b.mu.Lock()
	b.sensors = append(b.sensors, s)
	b.mu.Unlock()
	return s
}

// update runs refresh at most once per cache TTL for this device, sharing
// the outcome with concurrent callers. A NOT_FOUND from refresh marks the
// device stale and is not reported as an error.
func (b *base) update(ctx context.Context, refresh func(ctx context.Context) error) error {
	_, err := b.updates.Do(ctx, coalesce.Key(b.typ, b.key.Node), func(ctx context.Context) (struct{}, error) {
		err := refresh(ctx)
		switch {
		case err == nil:
			b.mu.Lock()
			b.state = StateUpdated
			b.lastUpdated = b.clock.Now()
			b.lastErr = nil
			b.mu.Unlock()
			return struct{}{}, nil
		case dmerrors.IsCode(err, dmerrors.ErrCodeNotFound):
			slog.Info("device not found, keeping last known values",
				"type", b.typ, "node", b.key.Node, "error", err)
			b.mu.Lock()
			b.state = StateStale
			b.lastErr = err
			b.mu.Unlock()
			return struct{}{}, nil
		default:
			slog.Error("device update failed", "type", b.typ, "node", b.key.Node, "error", err)
			b.mu.Lock()
			b.lastErr = err
			b.mu.Unlock()
			return struct{}{}, err
		}
	})
	return err
}

func (b *base) setName(name string) {
	if name == "" || name == store.Unknown {
		return
	}
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}
