package smartctl

import (
	"strings"

	"github.com/jamesprial/drive-monitor/internal/manufacturer"
	"github.com/jamesprial/drive-monitor/internal/store"
)

// DriveRecord converts smartctl output into a drive record. It returns false
// when the exit status says there is no usable information.
func (o *Output) DriveRecord(table *manufacturer.Table) (*store.DriveRecord, bool) {
	status := ExitStatus(o.Smartctl.ExitStatus)
	if !status.Usable() {
		return nil, false
	}

	r := store.NewDriveRecord()
	setString(&r.Name, o.Device.Name)
	setString(&r.Model, o.ModelName)
	setString(&r.SerialNumber, o.SerialNumber)
	setString(&r.FirmwareVersion, o.FirmwareVersion)
	r.Type = o.driveType()

	family := o.ModelFamily
	if family == "" {
		family = o.ModelName
	}
	r.Manufacturer = table.Lookup(family)

	if o.SmartStatus != nil {
		r.SmartPassed = store.Ptr(o.SmartStatus.Passed)
	}
	if o.Temperature != nil && o.Temperature.Current != nil {
		r.Temperature = store.Ptr(*o.Temperature.Current)
	}
	r.SSD = o.ssdDetail()
	return r, true
}

func (o *Output) driveType() store.DriveType {
	switch {
	case strings.EqualFold(o.Device.Type, "nvme"), strings.EqualFold(o.Device.Protocol, "nvme"):
		return store.DriveTypeNVMe
	case o.RotationRate != nil && *o.RotationRate > 0:
		return store.DriveTypeHDD
	default:
		return store.DriveTypeUnknown
	}
}

func (o *Output) ssdDetail() *store.SSDDetail {
	log := o.NVMeHealth
	if log == nil {
		return nil
	}
	return &store.SSDDetail{
		BytesRead:               dataUnits(log.DataUnitsRead),
		BytesWritten:            dataUnits(log.DataUnitsWritten),
		AvailableSpare:          log.AvailableSpare,
		AvailableSpareThreshold: log.AvailableSpareThreshold,
		UnsafeShutdowns:         log.UnsafeShutdowns,
	}
}

func dataUnits(units *int64) *int64 {
	if units == nil {
		return nil
	}
	return store.Ptr(*units * DataUnitBytes)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
