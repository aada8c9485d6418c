package device

import (
	"context"
	"sync"

	"k8s.io/utils/clock"

	"github.com/jamesprial/drive-monitor/internal/coalesce"
	"github.com/jamesprial/drive-monitor/internal/store"
)

// DriveState is the health summary exposed by a drive's State sensor.
type DriveState string

const (
	DriveStateUnknown   DriveState = "Unknown"
	DriveStateHealthy   DriveState = "Healthy"
	DriveStateUnhealthy DriveState = "Unhealthy"
)

var driveStates = []string{string(DriveStateUnknown), string(DriveStateHealthy), string(DriveStateUnhealthy)}

// HealthOf summarizes the S.M.A.R.T. verdict of rec.
func HealthOf(rec *store.DriveRecord) DriveState {
	switch {
	case rec == nil || rec.SmartPassed == nil:
		return DriveStateUnknown
	case *rec.SmartPassed:
		return DriveStateHealthy
	default:
		return DriveStateUnhealthy
	}
}

// DriveSource fetches reconciled drive records.
type DriveSource interface {
	DriveInfo(ctx context.Context, node string) (*store.DriveRecord, error)
}

// Drive is a physical drive. RAID members have no Capacity or Usage sensor
// because their space is accounted to the RAID set.
type Drive struct {
	base
	driveKey store.DriveKey
	source   DriveSource

	health       *Sensor
	temperature  *Sensor
	capacity     *Sensor
	usage        *Sensor
	serialNumber *Sensor
	firmware     *Sensor

	// SSD sensors are created on the first record carrying SSD detail and
	// kept from then on.
	ssdOnce                 sync.Once
	bytesRead               *Sensor
	bytesWritten            *Sensor
	availableSpare          *Sensor
	availableSpareThreshold *Sensor
	unsafeShutdowns         *Sensor

	recMu  sync.RWMutex
	record *store.DriveRecord
}

// Compile-time interface check.
var _ Device = (*Drive)(nil)

// NewDrive returns a drive in the Created state.
func NewDrive(key store.DriveKey, src DriveSource, updates *coalesce.Cache[struct{}], clk clock.PassiveClock) *Drive {
	d := &Drive{driveKey: key, source: src}
	d.init(key.StoreKey, TypeDrive, updates, clk)
	d.health = d.addSensor(d, SensorSpec{
		Name:    "State",
		Class:   ClassEnum,
		Options: driveStates,
		Initial: string(DriveStateUnknown),
	})
	if !key.IsRAIDMember() {
		d.capacity = d.addSensor(d, SensorSpec{Name: "Capacity", Class: ClassDataSize, Unit: UnitBytes})
		d.usage = d.addSensor(d, SensorSpec{Name: "Usage", Class: ClassDataSize, Unit: UnitBytes})
	}
	d.temperature = d.addSensor(d, SensorSpec{Name: "Temperature", Class: ClassTemperature, Unit: UnitCelsius})
	d.serialNumber = d.addSensor(d, SensorSpec{Name: "Serial Number", Kind: KindDiagnostic})
	d.firmware = d.addSensor(d, SensorSpec{Name: "Firmware Version", Kind: KindDiagnostic})
	return d
}

// Key returns the drive's discovery key.
func (d *Drive) Key() store.DriveKey { return d.driveKey }

// RAID returns the ID of the RAID set this drive belongs to, if any.
func (d *Drive) RAID() string { return d.driveKey.RAID }

// Record returns the last successfully applied record, or nil.
func (d *Drive) Record() *store.DriveRecord {
	d.recMu.RLock()
	defer d.recMu.RUnlock()
	return d.record
}

// Update refreshes the drive from its source. Concurrent and repeated calls
// within the update TTL share one refresh.
func (d *Drive) Update(ctx context.Context) error {
	return d.update(ctx, func(ctx context.Context) error {
		rec, err := d.source.DriveInfo(ctx, d.Node())
		if err != nil {
			return err
		}
		d.apply(rec)
		return nil
	})
}

func (d *Drive) apply(rec *store.DriveRecord) {
	d.setName(rec.Name)

	// A topology-only record carries no verdict; keep the last one.
	if rec.SmartPassed != nil {
		d.health.set(string(HealthOf(rec)))
	}

	setPtr(d.capacity, rec.Capacity)
	setPtr(d.usage, rec.Used)
	setPtr(d.temperature, rec.Temperature)
	if rec.SerialNumber != store.Unknown {
		d.serialNumber.set(rec.SerialNumber)
	}
	if rec.FirmwareVersion != store.Unknown {
		d.firmware.set(rec.FirmwareVersion)
	}

	if rec.SSD != nil {
		d.ssdOnce.Do(d.addSSDSensors)
		setPtr(d.bytesRead, rec.SSD.BytesRead)
		setPtr(d.bytesWritten, rec.SSD.BytesWritten)
		setPtr(d.availableSpare, rec.SSD.AvailableSpare)
		setPtr(d.availableSpareThreshold, rec.SSD.AvailableSpareThreshold)
		setPtr(d.unsafeShutdowns, rec.SSD.UnsafeShutdowns)
	}

	d.recMu.Lock()
	d.record = rec
	d.recMu.Unlock()
}

func (d *Drive) addSSDSensors() {
	d.bytesRead = d.addSensor(d, SensorSpec{Name: "Bytes Read", Class: ClassDataSize, Unit: UnitBytes})
	d.bytesWritten = d.addSensor(d, SensorSpec{Name: "Bytes Written", Class: ClassDataSize, Unit: UnitBytes})
	d.availableSpare = d.addSensor(d, SensorSpec{Name: "Available Spare", Class: ClassPercentage, Unit: UnitPercent})
	d.availableSpareThreshold = d.addSensor(d, SensorSpec{
		Name:  "Available Spare Threshold",
		Kind:  KindDiagnostic,
		Class: ClassPercentage,
		Unit:  UnitPercent,
	})
	d.unsafeShutdowns = d.addSensor(d, SensorSpec{Name: "Unsafe Shutdowns", Kind: KindDiagnostic})
}
