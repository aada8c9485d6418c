// Package device models the monitored drives and RAID sets and the sensor
// slots each one exposes to consumers.
package device

import (
	"context"
	"sync"

	"github.com/gosimple/slug"
)

// Kind separates primary measurements from diagnostic attributes.
type Kind string

const (
	KindSensor     Kind = "sensor"
	KindDiagnostic Kind = "diagnostic"
)

// Class describes what a sensor measures.
type Class string

const (
	ClassNone        Class = ""
	ClassEnum        Class = "enum"
	ClassDataSize    Class = "data_size"
	ClassTemperature Class = "temperature"
	ClassPercentage  Class = "percentage"
)

// Units used by sensors.
const (
	UnitBytes   = "B"
	UnitCelsius = "°C"
	UnitPercent = "%"
)

// updater is the owner of a sensor: polling a sensor refreshes its device.
type updater interface {
	Update(ctx context.Context) error
}

// Sensor is one exposed measurement slot of a device. Its value is
// overwritten in place by the owning device on every successful update.
type Sensor struct {
	owner   updater
	id      string
	name    string
	kind    Kind
	class   Class
	unit    string
	options []string
	device  string
	node    string

	mu    sync.RWMutex
	value any
}

// SensorSpec describes a sensor to create.
type SensorSpec struct {
	Name    string
	Kind    Kind
	Class   Class
	Unit    string
	Options []string
	Initial any
}

func newSensor(owner updater, deviceID, node string, spec SensorSpec) *Sensor {
	kind := spec.Kind
	if kind == "" {
		kind = KindSensor
	}
	return &Sensor{
		owner:   owner,
		id:      slug.Make(deviceID + "_" + spec.Name),
		name:    spec.Name,
		kind:    kind,
		class:   spec.Class,
		unit:    spec.Unit,
		options: spec.Options,
		device:  deviceID,
		node:    node,
		value:   spec.Initial,
	}
}

// ID returns a stable identifier derived from the device ID and sensor name.
func (s *Sensor) ID() string { return s.id }

// Name returns the sensor name, e.g. "Temperature".
func (s *Sensor) Name() string { return s.name }

// Kind returns whether this is a primary or diagnostic sensor.
func (s *Sensor) Kind() Kind { return s.kind }

// Class returns the measurement class.
func (s *Sensor) Class() Class { return s.class }

// Unit returns the unit of measurement, if any.
func (s *Sensor) Unit() string { return s.unit }

// Options returns the possible values of an enum sensor.
func (s *Sensor) Options() []string { return s.options }

// DeviceID returns the ID of the owning device.
func (s *Sensor) DeviceID() string { return s.device }

// Node returns the node of the owning device.
func (s *Sensor) Node() string { return s.node }

// Value returns the current value, or nil when it is unknown.
func (s *Sensor) Value() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Poll refreshes the owning device and returns the sensor's value. The
// refresh is coalesced, so polling every sensor of a device in one cycle
// runs the underlying tools once. The current value is returned even when
// the refresh fails.
func (s *Sensor) Poll(ctx context.Context) (any, error) {
	err := s.owner.Update(ctx)
	return s.Value(), err
}

// Float returns the value as a float64 when it is numeric.
func (s *Sensor) Float() (float64, bool) {
	switch v := s.Value().(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// Reading is a point-in-time view of a sensor.
type Reading struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Kind     Kind     `json:"kind" yaml:"kind"`
	Class    Class    `json:"class,omitempty" yaml:"class,omitempty"`
	Unit     string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Options  []string `json:"options,omitempty" yaml:"options,omitempty"`
	DeviceID string   `json:"device_id" yaml:"device_id"`
	Node     string   `json:"node" yaml:"node"`
	Value    any      `json:"value" yaml:"value"`
}

// Reading returns the sensor's current state.
func (s *Sensor) Reading() Reading {
	return Reading{
		ID:       s.id,
		Name:     s.name,
		Kind:     s.kind,
		Class:    s.class,
		Unit:     s.unit,
		Options:  s.options,
		DeviceID: s.device,
		Node:     s.node,
		Value:    s.Value(),
	}
}

// set stores v.
func (s *Sensor) set(v any) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// setPtr stores *p, or leaves the value untouched when p is nil so that a
// field missing from one reconciliation does not erase the last known value.
func setPtr[T any](s *Sensor, p *T) {
	if s == nil || p == nil {
		return
	}
	s.set(*p)
}
