// Package snapshot renders the reconciled state of every device for the
// one-shot snapshot command.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/jamesprial/drive-monitor/internal/device"
	dmerrors "github.com/jamesprial/drive-monitor/internal/errors"
	"github.com/jamesprial/drive-monitor/internal/store"
)

// Format selects the snapshot output encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// Formats lists the supported formats.
var Formats = []Format{FormatJSON, FormatYAML, FormatTable}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", dmerrors.NewWithContext(dmerrors.ErrCodeInvalidRequest,
		fmt.Sprintf("unknown format %q", s), map[string]any{"format": s})
}

// Collector discovers devices and reports their state.
type Collector interface {
	Initialize(ctx context.Context) ([]device.Device, error)
	Snapshot() device.Snapshot
}

// Collect runs discovery and a first update of every device and returns the
// resulting snapshot.
func Collect(ctx context.Context, c Collector) (device.Snapshot, error) {
	if _, err := c.Initialize(ctx); err != nil {
		return device.Snapshot{}, fmt.Errorf("initialize devices: %w", err)
	}
	return c.Snapshot(), nil
}

// Write encodes snap to w in the given format.
func Write(w io.Writer, snap device.Snapshot, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		_, err := io.WriteString(w, Table(snap)+"\n")
		return err
	}
	return dmerrors.New(dmerrors.ErrCodeInvalidRequest, fmt.Sprintf("unknown format %q", format))
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	badStyle    = cellStyle.Foreground(lipgloss.Color("9"))
)

var tableHeaders = []string{"NODE", "TYPE", "NAME", "STATE", "HEALTH", "TEMP", "CAPACITY", "USED", "RAID"}

// healthCol is the index of the HEALTH column.
const healthCol = 4

// Table renders snap as a bordered table, one row per drive and RAID set.
func Table(snap device.Snapshot) string {
	var rows [][]string
	for _, d := range snap.Drives {
		row := []string{d.Node, string(d.Type), d.Name, string(d.State), "", "", "", "", d.RAID}
		if r := d.Record; r != nil {
			row[healthCol] = string(device.HealthOf(r))
			if r.Temperature != nil {
				row[5] = strconv.Itoa(*r.Temperature) + device.UnitCelsius
			}
			row[6] = bytesOf(r.Capacity)
			row[7] = bytesOf(r.Used)
		}
		rows = append(rows, row)
	}
	for _, rd := range snap.RAIDs {
		row := []string{rd.Node, string(rd.Type), rd.Name, string(rd.State), "", "", "", "", ""}
		if r := rd.Record; r != nil {
			row[healthCol] = string(r.State)
			row[6] = bytesOf(r.Capacity)
			row[7] = bytesOf(r.Used)
			row[8] = device.FormatMembers(r.Members)
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(tableHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == healthCol && row >= 0 && row < len(rows) && unhealthy(rows[row][col]) {
				return badStyle
			}
			return cellStyle
		})
	return t.String()
}

func unhealthy(v string) bool {
	switch v {
	case string(device.DriveStateUnhealthy), string(store.RAIDStateOffline), string(store.RAIDStateRebuilding):
		return true
	}
	return false
}

func bytesOf(p *int64) string {
	if p == nil || *p < 0 {
		return ""
	}
	return humanize.IBytes(uint64(*p))
}
