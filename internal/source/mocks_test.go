package source

import (
	"context"

	"github.com/jamesprial/drive-monitor/internal/diskutil"
	"github.com/jamesprial/drive-monitor/internal/store"
)

type mockTopology struct {
	apfsListFunc  func(ctx context.Context) (*diskutil.APFSList, error)
	raidsFunc     func(ctx context.Context) ([]store.RAIDKey, error)
	raidInfoFunc  func(ctx context.Context, node string) (*store.RAIDRecord, error)
	driveInfoFunc func(ctx context.Context, node string) (*store.DriveRecord, bool, error)
}

var _ Topology = (*mockTopology)(nil)

func (m *mockTopology) APFSList(ctx context.Context) (*diskutil.APFSList, error) {
	if m.apfsListFunc != nil {
		return m.apfsListFunc(ctx)
	}
	return &diskutil.APFSList{}, nil
}

func (m *mockTopology) RAIDs(ctx context.Context) ([]store.RAIDKey, error) {
	if m.raidsFunc != nil {
		return m.raidsFunc(ctx)
	}
	return nil, nil
}

func (m *mockTopology) RAIDInfo(ctx context.Context, node string) (*store.RAIDRecord, error) {
	if m.raidInfoFunc != nil {
		return m.raidInfoFunc(ctx, node)
	}
	return nil, nil
}

func (m *mockTopology) DriveInfo(ctx context.Context, node string) (*store.DriveRecord, bool, error) {
	if m.driveInfoFunc != nil {
		return m.driveInfoFunc(ctx, node)
	}
	return nil, false, nil
}

type mockDiagnostics struct {
	driveInfoFunc func(ctx context.Context, node string) (*store.DriveRecord, bool, error)
}

var _ Diagnostics = (*mockDiagnostics)(nil)

func (m *mockDiagnostics) DriveInfo(ctx context.Context, node string) (*store.DriveRecord, bool, error) {
	if m.driveInfoFunc != nil {
		return m.driveInfoFunc(ctx, node)
	}
	return nil, false, nil
}
