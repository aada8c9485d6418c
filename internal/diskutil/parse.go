package diskutil

import (
	"regexp"

	"github.com/jamesprial/drive-monitor/internal/store"
)

var baseNodeRegex = regexp.MustCompile(`^disk\d+`)

// BaseNode strips any partition or slice suffix from a device node, so
// "disk1s2" becomes "disk1". Strings that are not disk nodes are returned
// unchanged.
func BaseNode(node string) string {
	if m := baseNodeRegex.FindString(node); m != "" {
		return m
	}
	return node
}

// ParseRAIDType maps an AppleRAID level to a RAIDType.
func ParseRAIDType(level string) store.RAIDType {
	switch level {
	case "Span", "Concat":
		return store.RAIDTypeSpan
	case "Stripe":
		return store.RAIDTypeStripe
	case "Mirror":
		return store.RAIDTypeMirror
	default:
		return store.RAIDTypeUnknown
	}
}

// ParseRAIDState maps an AppleRAID set or member status to a RAIDState.
func ParseRAIDState(status string) store.RAIDState {
	switch status {
	case "Online":
		return store.RAIDStateOnline
	case "Offline", "Degraded", "Failed":
		return store.RAIDStateOffline
	case "Rebuild", "Rebuilding":
		return store.RAIDStateRebuilding
	default:
		return store.RAIDStateUnknown
	}
}

// RAIDRecord converts a RAID set into a store record. Used is left nil.
func (s RAIDSet) RAIDRecord() *store.RAIDRecord {
	r := store.NewRAIDRecord()
	r.ID = s.AppleRAIDSetUUID
	if s.Name != "" {
		r.Name = s.Name
	}
	r.Type = ParseRAIDType(s.Level)
	r.State = ParseRAIDState(s.Status)
	for _, m := range s.Members {
		r.Members = append(r.Members, store.RAIDMember{
			ID:    m.AppleRAIDMemberUUID,
			Node:  BaseNode(m.BSDName),
			State: ParseRAIDState(m.MemberStatus),
		})
	}
	r.Capacity = store.Ptr(s.Size)
	return r
}
