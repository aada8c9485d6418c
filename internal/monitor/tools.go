// Package monitor exposes the monitored drives and RAID sets as MCP tools.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/drive-monitor/internal/device"
	dmerrors "github.com/jamesprial/drive-monitor/internal/errors"
	"github.com/jamesprial/drive-monitor/internal/safety"
	"github.com/jamesprial/drive-monitor/internal/tools"
)

// Registry is the read side of the device registry used by the tools.
type Registry interface {
	Snapshot() device.Snapshot
	Sensors(kind device.Kind) []*device.Sensor
	Sensor(id string) (*device.Sensor, bool)
	Device(node string) (device.Device, bool)
}

var _ Registry = (*device.Registry)(nil)

// Detail is the drive_device_detail response.
type Detail struct {
	device.Status
	RAID   string `json:"raid,omitempty"`
	Record any    `json:"record,omitempty"`
}

// MonitorTools returns the tool registrations for the drive monitor. All of
// them are read-only.
func MonitorTools(reg Registry, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		listDevices(reg, audit),
		listSensors(reg, audit),
		readSensor(reg, audit),
		deviceDetail(reg, audit),
	}
}

func listDevices(reg Registry, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool("drive_list_devices",
		mcp.WithDescription("List every monitored drive and RAID set with its lifecycle state, last reconciled record and current sensor values. Does not refresh any device."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		snap := reg.Snapshot()
		tools.LogAudit(audit, "drive_list_devices", map[string]any{}, "ok", start)
		return tools.JSONResult(snap), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func listSensors(reg Registry, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool("drive_list_sensors",
		mcp.WithDescription("List sensor readings across all devices. Use kind to select primary sensors or diagnostic attributes."),
		mcp.WithString("kind",
			mcp.Description("Sensor kind to list. Omit for all sensors."),
			mcp.Enum(string(device.KindSensor), string(device.KindDiagnostic)),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		kind := device.Kind(req.GetString("kind", ""))
		params := map[string]any{"kind": string(kind)}

		if err := validKind(kind); err != nil {
			tools.LogAudit(audit, "drive_list_sensors", params, tools.Outcome(err), start)
			return tools.ErrorResult(err.Error()), nil
		}

		sensors := reg.Sensors(kind)
		readings := make([]device.Reading, 0, len(sensors))
		for _, s := range sensors {
			readings = append(readings, s.Reading())
		}

		tools.LogAudit(audit, "drive_list_sensors", params, "ok", start)
		return tools.JSONResult(readings), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func readSensor(reg Registry, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool("drive_read_sensor",
		mcp.WithDescription("Refresh a sensor's device (subject to the refresh cache) and return the sensor's current reading."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Sensor ID as returned by drive_list_sensors"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id := req.GetString("id", "")
		params := map[string]any{"id": id}

		if id == "" {
			err := dmerrors.New(dmerrors.ErrCodeInvalidRequest, "id is required")
			tools.LogAudit(audit, "drive_read_sensor", params, tools.Outcome(err), start)
			return tools.ErrorResult(err.Error()), nil
		}

		s, ok := reg.Sensor(id)
		if !ok {
			err := dmerrors.NewWithContext(dmerrors.ErrCodeNotFound,
				fmt.Sprintf("there is no sensor with id %q", id), map[string]any{"id": id})
			tools.LogAudit(audit, "drive_read_sensor", params, tools.Outcome(err), start)
			return tools.ErrorResult(err.Error()), nil
		}

		if _, err := s.Poll(ctx); err != nil {
			tools.LogAudit(audit, "drive_read_sensor", params, tools.Outcome(err), start)
			return tools.ErrorResult(err.Error()), nil
		}

		tools.LogAudit(audit, "drive_read_sensor", params, "ok", start)
		return tools.JSONResult(s.Reading()), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func deviceDetail(reg Registry, audit *safety.AuditLogger) tools.Registration {
	tool := mcp.NewTool("drive_device_detail",
		mcp.WithDescription("Get the status, sensors and last reconciled record of one drive or RAID set by its node (e.g. disk4)."),
		mcp.WithString("node",
			mcp.Required(),
			mcp.Description("Device node, e.g. disk0"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		node := req.GetString("node", "")
		params := map[string]any{"node": node}

		if node == "" {
			err := dmerrors.New(dmerrors.ErrCodeInvalidRequest, "node is required")
			tools.LogAudit(audit, "drive_device_detail", params, tools.Outcome(err), start)
			return tools.ErrorResult(err.Error()), nil
		}

		d, ok := reg.Device(node)
		if !ok {
			err := dmerrors.NotFound("device", node)
			tools.LogAudit(audit, "drive_device_detail", params, tools.Outcome(err), start)
			return tools.ErrorResult(err.Error()), nil
		}

		tools.LogAudit(audit, "drive_device_detail", params, "ok", start)
		return tools.JSONResult(detailOf(d)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func detailOf(d device.Device) Detail {
	detail := Detail{Status: device.StatusOf(d)}
	switch dev := d.(type) {
	case *device.Drive:
		detail.RAID = dev.RAID()
		if rec := dev.Record(); rec != nil {
			detail.Record = rec
		}
	case *device.RAID:
		if rec := dev.Record(); rec != nil {
			detail.Record = rec
		}
	}
	return detail
}

func validKind(k device.Kind) error {
	switch k {
	case "", device.KindSensor, device.KindDiagnostic:
		return nil
	}
	return dmerrors.NewWithContext(dmerrors.ErrCodeInvalidRequest,
		fmt.Sprintf("unknown sensor kind %q", k), map[string]any{"kind": string(k)})
}
