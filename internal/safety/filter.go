// Package safety decides which storage devices are monitored and records an
// audit trail of MCP tool invocations.
package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// devPrefix is accepted in patterns and names so "/dev/disk4" and "disk4"
// select the same device.
const devPrefix = "/dev/"

// Filter selects device nodes using an allowlist and a denylist of glob
// patterns (as understood by filepath.Match).
//
// Rules:
//   - If both lists are empty (or nil), every node is allowed.
//   - Denylist always takes priority over the allowlist.
//   - If a non-empty allowlist is present, a node must match at least one
//     allowlist pattern to be permitted (after the denylist check).
type Filter struct {
	allowlist []string
	denylist  []string
}

// NewFilter constructs a Filter from the provided allowlist and denylist
// pattern slices. Either or both may be nil or empty.
func NewFilter(allowlist, denylist []string) *Filter {
	return &Filter{
		allowlist: trimDev(allowlist),
		denylist:  trimDev(denylist),
	}
}

// IsAllowed reports whether node is permitted by this filter.
func (f *Filter) IsAllowed(node string) bool {
	if f == nil {
		return true
	}
	node = strings.TrimPrefix(node, devPrefix)

	for _, pattern := range f.denylist {
		if matchGlob(pattern, node) {
			return false
		}
	}

	if len(f.allowlist) == 0 {
		return true
	}

	for _, pattern := range f.allowlist {
		if matchGlob(pattern, node) {
			return true
		}
	}

	return false
}

// ValidatePatterns reports the first malformed glob in patterns.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := filepath.Match(strings.TrimPrefix(p, devPrefix), ""); err != nil {
			return fmt.Errorf("invalid node pattern %q: %w", p, err)
		}
	}
	return nil
}

func trimDev(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = strings.TrimPrefix(p, devPrefix)
	}
	return out
}

// matchGlob returns true when name matches the given glob pattern.
// filepath.Match errors (malformed patterns) are treated as non-matching.
func matchGlob(pattern, name string) bool {
	matched, err := filepath.Match(pattern, name)
	if err != nil {
		return false
	}
	return matched
}
