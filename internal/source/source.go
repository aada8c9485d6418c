// Package source discovers drives and RAID sets and reconciles the output of
// the platform's diagnostic tools into one record per device.
package source

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/jamesprial/drive-monitor/internal/diskutil"
	dmerrors "github.com/jamesprial/drive-monitor/internal/errors"
	"github.com/jamesprial/drive-monitor/internal/execute"
	"github.com/jamesprial/drive-monitor/internal/manufacturer"
	"github.com/jamesprial/drive-monitor/internal/smartctl"
	"github.com/jamesprial/drive-monitor/internal/store"
)

// Source answers the four queries the device registry needs. Info queries
// fail with NOT_FOUND when the node is absent from every tool's output.
type Source interface {
	Drives(ctx context.Context) ([]store.DriveKey, error)
	RAIDs(ctx context.Context) ([]store.RAIDKey, error)
	DriveInfo(ctx context.Context, node string) (*store.DriveRecord, error)
	RAIDInfo(ctx context.Context, node string) (*store.RAIDRecord, error)
}

// Deps are the shared dependencies a Factory builds a Source from.
type Deps struct {
	Runner        execute.Runner
	Manufacturers *manufacturer.Table
	Diskutil      diskutil.Config
	Smartctl      smartctl.Config
}

// Factory builds a Source for one platform.
type Factory func(deps Deps) (Source, error)

// Registry maps platform names to Source factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a Registry with every built-in platform.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("darwin", NewMacOS, "macos")
	return r
}

// Register adds f under name and any aliases. Names are case-insensitive.
func (r *Registry) Register(name string, f Factory, aliases ...string) {
	for _, n := range append([]string{name}, aliases...) {
		r.factories[strings.ToLower(n)] = f
	}
}

// Platforms returns the registered names, sorted.
func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the Source for platform. It fails with SOURCE_UNAVAILABLE
// when no strategy is registered for it.
func (r *Registry) Resolve(platform string, deps Deps) (Source, error) {
	f, ok := r.factories[strings.ToLower(platform)]
	if !ok {
		return nil, dmerrors.NewWithContext(dmerrors.ErrCodeSourceUnavailable,
			fmt.Sprintf("no source for platform %q", platform),
			map[string]any{"platform": platform, "supported": r.Platforms()})
	}
	src, err := f(deps)
	if err != nil {
		return nil, dmerrors.Wrap(dmerrors.ErrCodeSourceUnavailable,
			fmt.Sprintf("create source for platform %q", platform), err)
	}
	return src, nil
}

// Platform identifies the running platform.
func Platform() string {
	return runtime.GOOS
}
