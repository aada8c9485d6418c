// Package store defines the keys and reconciled records for monitored
// storage objects: physical drives and RAID sets.
package store

import (
	"encoding/json"

	"github.com/jamesprial/drive-monitor/internal/manufacturer"
)

// Unknown is the default for textual fields that could not be determined.
const Unknown = "Unknown"

// StoreKey identifies one addressable storage object.
type StoreKey struct {
	// ID is stable across reboots (hardware or volume UUID).
	ID string `json:"id" yaml:"id"`

	// Node is the base device node with any partition suffix stripped, e.g. "disk1".
	Node string `json:"node" yaml:"node"`
}

// DriveKey identifies a physical drive.
type DriveKey struct {
	StoreKey `yaml:",inline"`

	// RAID is the ID of the RAID set this drive belongs to, or empty for a
	// standalone drive.
	RAID string `json:"raid,omitempty" yaml:"raid,omitempty"`
}

// IsRAIDMember reports whether the drive belongs to a RAID set.
func (k DriveKey) IsRAIDMember() bool {
	return k.RAID != ""
}

// RAIDKey identifies a RAID set.
type RAIDKey struct {
	StoreKey `yaml:",inline"`
}

// DriveType is the physical drive type or interface.
type DriveType string

const (
	DriveTypeUnknown DriveType = "Unknown"
	DriveTypeHDD     DriveType = "HDD"
	DriveTypeNVMe    DriveType = "NVMe"
)

// SSDDetail holds solid-state wear telemetry. Each field is independently optional.
type SSDDetail struct {
	BytesRead               *int64 `json:"bytes_read,omitempty" yaml:"bytes_read,omitempty"`
	BytesWritten            *int64 `json:"bytes_written,omitempty" yaml:"bytes_written,omitempty"`
	AvailableSpare          *int   `json:"available_spare,omitempty" yaml:"available_spare,omitempty"`
	AvailableSpareThreshold *int   `json:"available_spare_threshold,omitempty" yaml:"available_spare_threshold,omitempty"`
	UnsafeShutdowns         *int64 `json:"unsafe_shutdowns,omitempty" yaml:"unsafe_shutdowns,omitempty"`
}

// DriveRecord is the reconciled description of a physical drive. Pointer
// fields are nil when the value could not be determined.
type DriveRecord struct {
	Name            string                    `json:"name" yaml:"name"`
	Type            DriveType                 `json:"type" yaml:"type"`
	Manufacturer    manufacturer.Manufacturer `json:"manufacturer" yaml:"manufacturer"`
	Model           string                    `json:"model" yaml:"model"`
	SerialNumber    string                    `json:"serial_number" yaml:"serial_number"`
	FirmwareVersion string                    `json:"firmware_version" yaml:"firmware_version"`
	SmartPassed     *bool                     `json:"smart_passed,omitempty" yaml:"smart_passed,omitempty"`
	Capacity        *int64                    `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Used            *int64                    `json:"used,omitempty" yaml:"used,omitempty"`
	Temperature     *int                      `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	SSD             *SSDDetail                `json:"ssd,omitempty" yaml:"ssd,omitempty"`
}

// NewDriveRecord returns a DriveRecord with every field at its default.
func NewDriveRecord() *DriveRecord {
	return &DriveRecord{
		Name:            Unknown,
		Type:            DriveTypeUnknown,
		Manufacturer:    manufacturer.Unknown,
		Model:           Unknown,
		SerialNumber:    Unknown,
		FirmwareVersion: Unknown,
	}
}

// RAIDType is the RAID topology.
type RAIDType string

const (
	RAIDTypeUnknown RAIDType = "Unknown"
	RAIDTypeSpan    RAIDType = "Span"   // drives concatenated into a larger one
	RAIDTypeStripe  RAIDType = "Stripe" // RAID0
	RAIDTypeMirror  RAIDType = "Mirror" // RAID1
)

// RAIDState is the state of a RAID set or of one of its members.
type RAIDState string

const (
	RAIDStateUnknown    RAIDState = "Unknown"
	RAIDStateOnline     RAIDState = "Online"
	RAIDStateOffline    RAIDState = "Offline"
	RAIDStateRebuilding RAIDState = "Rebuild"
)

// RAIDStates lists every RAIDState, in display order.
var RAIDStates = []RAIDState{RAIDStateUnknown, RAIDStateOnline, RAIDStateOffline, RAIDStateRebuilding}

// RAIDMember is one physical drive within a RAID set.
type RAIDMember struct {
	ID    string    `json:"id" yaml:"id"`
	Node  string    `json:"node" yaml:"node"`
	State RAIDState `json:"state" yaml:"state"`
}

// RAIDRecord is the reconciled description of a RAID set.
type RAIDRecord struct {
	ID       string       `json:"id" yaml:"id"`
	Name     string       `json:"name" yaml:"name"`
	Type     RAIDType     `json:"type" yaml:"type"`
	State    RAIDState    `json:"state" yaml:"state"`
	Members  []RAIDMember `json:"members" yaml:"members"`
	Capacity *int64       `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Used     *int64       `json:"used,omitempty" yaml:"used,omitempty"`
}

// NewRAIDRecord returns a RAIDRecord with every field at its default.
func NewRAIDRecord() *RAIDRecord {
	return &RAIDRecord{
		Name:    Unknown,
		Type:    RAIDTypeUnknown,
		State:   RAIDStateUnknown,
		Members: []RAIDMember{},
	}
}

// String renders the record as compact JSON for logs.
func (r *DriveRecord) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "DriveRecord{?}"
	}
	return string(b)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
