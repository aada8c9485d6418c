package device

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"k8s.io/utils/clock"

	"github.com/jamesprial/drive-monitor/internal/coalesce"
	"github.com/jamesprial/drive-monitor/internal/store"
)

// RAIDSource fetches RAID set records.
type RAIDSource interface {
	RAIDInfo(ctx context.Context, node string) (*store.RAIDRecord, error)
}

// RAID is an AppleRAID-style set of member drives.
type RAID struct {
	base
	raidKey store.RAIDKey
	source  RAIDSource

	status   *Sensor
	capacity *Sensor
	usage    *Sensor
	raidType *Sensor
	members  *Sensor

	recMu  sync.RWMutex
	record *store.RAIDRecord
}

// Compile-time interface check.
var _ Device = (*RAID)(nil)

// NewRAID returns a RAID set in the Created state.
func NewRAID(key store.RAIDKey, src RAIDSource, updates *coalesce.Cache[struct{}], clk clock.PassiveClock) *RAID {
	r := &RAID{raidKey: key, source: src}
	r.init(key.StoreKey, TypeRAID, updates, clk)
	states := make([]string, 0, len(store.RAIDStates))
	for _, s := range store.RAIDStates {
		states = append(states, string(s))
	}
	r.status = r.addSensor(r, SensorSpec{
		Name:    "State",
		Class:   ClassEnum,
		Options: states,
		Initial: string(store.RAIDStateUnknown),
	})
	r.capacity = r.addSensor(r, SensorSpec{Name: "Capacity", Class: ClassDataSize, Unit: UnitBytes})
	r.usage = r.addSensor(r, SensorSpec{Name: "Usage", Class: ClassDataSize, Unit: UnitBytes})
	r.raidType = r.addSensor(r, SensorSpec{Name: "Type", Kind: KindDiagnostic})
	r.members = r.addSensor(r, SensorSpec{Name: "Members", Kind: KindDiagnostic})
	return r
}

// Key returns the RAID's discovery key.
func (r *RAID) Key() store.RAIDKey { return r.raidKey }

// Record returns the last successfully applied record, or nil.
func (r *RAID) Record() *store.RAIDRecord {
	r.recMu.RLock()
	defer r.recMu.RUnlock()
	return r.record
}

// Update refreshes the RAID set from its source.
func (r *RAID) Update(ctx context.Context) error {
	return r.update(ctx, func(ctx context.Context) error {
		rec, err := r.source.RAIDInfo(ctx, r.Node())
		if err != nil {
			return err
		}
		r.apply(rec)
		return nil
	})
}

func (r *RAID) apply(rec *store.RAIDRecord) {
	r.setName(rec.Name)
	r.status.set(string(rec.State))
	r.raidType.set(string(rec.Type))
	setPtr(r.capacity, rec.Capacity)
	setPtr(r.usage, rec.Used)
	r.members.set(FormatMembers(rec.Members))

	r.recMu.Lock()
	r.record = rec
	r.recMu.Unlock()
}

// FormatMembers renders members as "node:state" pairs, e.g.
// "disk2:Online, disk3:Rebuild".
func FormatMembers(members []store.RAIDMember) string {
	parts := make([]string, 0, len(members))
	for _, m := range members {
		parts = append(parts, fmt.Sprintf("%s:%s", m.Node, m.State))
	}
	return strings.Join(parts, ", ")
}
