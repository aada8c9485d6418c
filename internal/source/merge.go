package source

import "github.com/jamesprial/drive-monitor/internal/store"

// Merge combines a diagnostics record with a topology record for the same
// drive. Diagnostics owns identity and health; topology owns name, capacity
// and used bytes. A field that one side lacks never clears a value the other
// side has. Either argument may be nil; Merge returns nil only if both are.
func Merge(diag, topo *store.DriveRecord) *store.DriveRecord {
	switch {
	case diag == nil && topo == nil:
		return nil
	case diag == nil:
		out := *topo
		return &out
	}

	out := *diag
	if topo == nil {
		return &out
	}
	if topo.Name != store.Unknown && topo.Name != "" {
		out.Name = topo.Name
	}
	if topo.Capacity != nil {
		out.Capacity = topo.Capacity
	}
	if topo.Used != nil {
		out.Used = topo.Used
	}
	return &out
}
