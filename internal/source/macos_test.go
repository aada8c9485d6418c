package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesprial/drive-monitor/internal/diskutil"
	dmerrors "github.com/jamesprial/drive-monitor/internal/errors"
	"github.com/jamesprial/drive-monitor/internal/execute/executetest"
	"github.com/jamesprial/drive-monitor/internal/manufacturer"
	"github.com/jamesprial/drive-monitor/internal/store"
)

const raidID = "RAID-SET-UUID"

func raidTopology() *mockTopology {
	return &mockTopology{
		apfsListFunc: func(context.Context) (*diskutil.APFSList, error) {
			return &diskutil.APFSList{Containers: []diskutil.Container{
				{
					ContainerReference:      "disk5",
					DesignatedPhysicalStore: "disk4",
					PhysicalStores:          []diskutil.PhysicalStore{{DeviceIdentifier: "disk4", DiskUUID: raidID}},
					Volumes:                 []diskutil.Volume{{Name: "Storage"}},
				},
			}}, nil
		},
		raidsFunc: func(context.Context) ([]store.RAIDKey, error) {
			return []store.RAIDKey{{StoreKey: store.StoreKey{ID: raidID, Node: "disk4"}}}, nil
		},
		raidInfoFunc: func(_ context.Context, node string) (*store.RAIDRecord, error) {
			if node != "disk4" {
				return nil, dmerrors.NotFound("RAID", node)
			}
			r := store.NewRAIDRecord()
			r.ID = raidID
			r.Members = []store.RAIDMember{
				{ID: "A", Node: "disk2", State: store.RAIDStateOnline},
				{ID: "B", Node: "disk3", State: store.RAIDStateRebuilding},
			}
			return r, nil
		},
	}
}

func Test_MacOS_Drives_SubstitutesRAIDMembers(t *testing.T) {
	src := NewMacOSFrom(raidTopology(), &mockDiagnostics{})

	got, err := src.Drives(context.Background())
	require.NoError(t, err)

	want := []store.DriveKey{
		{StoreKey: store.StoreKey{ID: "A", Node: "disk2"}, RAID: raidID},
		{StoreKey: store.StoreKey{ID: "B", Node: "disk3"}, RAID: raidID},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Drives() mismatch (-want +got):\n%s", diff)
	}
}

func Test_MacOS_Drives_Cases(t *testing.T) {
	tests := []struct {
		name       string
		containers []diskutil.Container
		want       []store.DriveKey
	}{
		{
			name: "partition suffix is stripped",
			containers: []diskutil.Container{{
				DesignatedPhysicalStore: "disk0s2",
				PhysicalStores:          []diskutil.PhysicalStore{{DeviceIdentifier: "disk0s2", DiskUUID: "U0"}},
				Volumes:                 []diskutil.Volume{{Name: "Macintosh HD", Roles: []string{"System"}}},
			}},
			want: []store.DriveKey{{StoreKey: store.StoreKey{ID: "U0", Node: "disk0"}}},
		},
		{
			name: "container with only hidden volumes is skipped",
			containers: []diskutil.Container{{
				DesignatedPhysicalStore: "disk6s2",
				PhysicalStores:          []diskutil.PhysicalStore{{DeviceIdentifier: "disk6s2", DiskUUID: "U6"}},
				Volumes:                 []diskutil.Volume{{Name: "Recovery", Roles: []string{"Recovery"}}},
			}},
			want: nil,
		},
		{
			name: "designated store is used among several",
			containers: []diskutil.Container{{
				DesignatedPhysicalStore: "disk2s2",
				PhysicalStores: []diskutil.PhysicalStore{
					{DeviceIdentifier: "disk1s2", DiskUUID: "U1"},
					{DeviceIdentifier: "disk2s2", DiskUUID: "U2"},
				},
				Volumes: []diskutil.Volume{{Name: "Fusion"}},
			}},
			want: []store.DriveKey{{StoreKey: store.StoreKey{ID: "U2", Node: "disk2"}}},
		},
		{
			name: "two containers on one drive yield one key",
			containers: []diskutil.Container{
				{
					DesignatedPhysicalStore: "disk8s2",
					PhysicalStores:          []diskutil.PhysicalStore{{DeviceIdentifier: "disk8s2", DiskUUID: "U8a"}},
					Volumes:                 []diskutil.Volume{{Name: "Backup"}},
				},
				{
					DesignatedPhysicalStore: "disk8s3",
					PhysicalStores:          []diskutil.PhysicalStore{{DeviceIdentifier: "disk8s3", DiskUUID: "U8b"}},
					Volumes:                 []diskutil.Volume{{Name: "Archive"}},
				},
			},
			want: []store.DriveKey{{StoreKey: store.StoreKey{ID: "U8a", Node: "disk8"}}},
		},
		{
			name:       "container without stores is skipped",
			containers: []diskutil.Container{{Volumes: []diskutil.Volume{{Name: "Ghost"}}}},
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := &mockTopology{
				apfsListFunc: func(context.Context) (*diskutil.APFSList, error) {
					return &diskutil.APFSList{Containers: tt.containers}, nil
				},
			}
			got, err := NewMacOSFrom(topo, &mockDiagnostics{}).Drives(context.Background())
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Drives() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func Test_MacOS_Drives_ToolFailure(t *testing.T) {
	boom := dmerrors.New(dmerrors.ErrCodeToolInvocationFailed, "diskutil exploded")
	topo := raidTopology()
	topo.raidInfoFunc = func(context.Context, string) (*store.RAIDRecord, error) {
		return nil, boom
	}

	_, err := NewMacOSFrom(topo, &mockDiagnostics{}).Drives(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func Test_MacOS_Drives_VanishedRAIDIsSkipped(t *testing.T) {
	topo := raidTopology()
	topo.raidsFunc = func(context.Context) ([]store.RAIDKey, error) {
		return []store.RAIDKey{
			{StoreKey: store.StoreKey{ID: raidID, Node: "disk4"}},
			{StoreKey: store.StoreKey{ID: "GONE-UUID", Node: "disk10"}},
		}, nil
	}

	got, err := NewMacOSFrom(topo, &mockDiagnostics{}).Drives(context.Background())
	require.NoError(t, err, "a set listed then not found must not fail discovery")

	want := []store.DriveKey{
		{StoreKey: store.StoreKey{ID: "A", Node: "disk2"}, RAID: raidID},
		{StoreKey: store.StoreKey{ID: "B", Node: "disk3"}, RAID: raidID},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Drives() mismatch (-want +got):\n%s", diff)
	}
}

func Test_MacOS_DriveInfo_Cases(t *testing.T) {
	diagRecord := func() *store.DriveRecord {
		r := store.NewDriveRecord()
		r.Manufacturer = "Samsung"
		r.Model = "Samsung SSD 980"
		return r
	}
	topoRecord := func() *store.DriveRecord {
		r := store.NewDriveRecord()
		r.Name = "Games"
		r.Capacity = store.Ptr[int64](2000)
		r.Used = store.Ptr[int64](100)
		return r
	}
	toolErr := dmerrors.New(dmerrors.ErrCodeToolInvocationFailed, "invalid output from smartctl")

	tests := []struct {
		name     string
		diag     func(context.Context, string) (*store.DriveRecord, bool, error)
		topo     func(context.Context, string) (*store.DriveRecord, bool, error)
		want     *store.DriveRecord
		wantCode dmerrors.ErrorCode
	}{
		{
			name: "both found are merged",
			diag: func(context.Context, string) (*store.DriveRecord, bool, error) { return diagRecord(), true, nil },
			topo: func(context.Context, string) (*store.DriveRecord, bool, error) { return topoRecord(), true, nil },
			want: func() *store.DriveRecord {
				r := diagRecord()
				r.Name = "Games"
				r.Capacity = store.Ptr[int64](2000)
				r.Used = store.Ptr[int64](100)
				return r
			}(),
		},
		{
			name: "device open failed falls back to topology",
			diag: func(context.Context, string) (*store.DriveRecord, bool, error) { return nil, false, nil },
			topo: func(context.Context, string) (*store.DriveRecord, bool, error) { return topoRecord(), true, nil },
			want: topoRecord(),
		},
		{
			name: "diagnostics only",
			diag: func(context.Context, string) (*store.DriveRecord, bool, error) { return diagRecord(), true, nil },
			topo: func(context.Context, string) (*store.DriveRecord, bool, error) { return nil, false, nil },
			want: diagRecord(),
		},
		{
			name:     "neither found",
			diag:     func(context.Context, string) (*store.DriveRecord, bool, error) { return nil, false, nil },
			topo:     func(context.Context, string) (*store.DriveRecord, bool, error) { return nil, false, nil },
			wantCode: dmerrors.ErrCodeNotFound,
		},
		{
			name:     "malformed diagnostics output fails without partial record",
			diag:     func(context.Context, string) (*store.DriveRecord, bool, error) { return nil, false, toolErr },
			topo:     func(context.Context, string) (*store.DriveRecord, bool, error) { return topoRecord(), true, nil },
			wantCode: dmerrors.ErrCodeToolInvocationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewMacOSFrom(&mockTopology{driveInfoFunc: tt.topo}, &mockDiagnostics{driveInfoFunc: tt.diag})

			got, err := src.DriveInfo(context.Background(), "disk7")
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, dmerrors.IsCode(err, tt.wantCode), "got %v", err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DriveInfo mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func Test_MacOS_DriveInfo_QueriesBothToolsConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	barrier := make(chan struct{})
	var arrived atomic.Int32

	probe := func(context.Context, string) (*store.DriveRecord, bool, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if arrived.Add(1) == 2 {
			close(barrier)
		}
		<-barrier
		inFlight.Add(-1)
		return store.NewDriveRecord(), true, nil
	}

	src := NewMacOSFrom(&mockTopology{driveInfoFunc: probe}, &mockDiagnostics{driveInfoFunc: probe})
	_, err := src.DriveInfo(context.Background(), "disk0")
	require.NoError(t, err)
	assert.EqualValues(t, 2, peak.Load())
}

func Test_MacOS_WithToolFixtures(t *testing.T) {
	runner := executetest.NewRunner().
		Set("diskutil apfs list -plist", executetest.File(t, "../diskutil/testdata/apfs_list.plist", 0)).
		Set("diskutil appleraid list -plist", executetest.File(t, "../diskutil/testdata/raid_list.plist", 0)).
		Set("smartctl -a disk0 --json", executetest.File(t, "../smartctl/testdata/nvme_apple.json", 0)).
		Set("smartctl -a disk8 --json", executetest.File(t, "../smartctl/testdata/open_failed.json", 2))

	src, err := DefaultRegistry().Resolve("darwin", Deps{
		Runner:        runner,
		Manufacturers: manufacturer.MustDefault(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	drives, err := src.Drives(ctx)
	require.NoError(t, err)
	nodes := make([]string, 0, len(drives))
	for _, d := range drives {
		nodes = append(nodes, d.Node)
	}
	assert.Equal(t, []string{"disk0", "disk1", "disk2", "disk8"}, nodes)
	assert.False(t, drives[0].IsRAIDMember())
	assert.True(t, drives[1].IsRAIDMember())
	assert.Equal(t, "F00DCAFE-3333-4A00-B000-CCCCCCCCCCCC", drives[2].RAID)

	boot, err := src.DriveInfo(ctx, "disk0")
	require.NoError(t, err)
	assert.Equal(t, "Macintosh HD", boot.Name)
	assert.Equal(t, manufacturer.Manufacturer("Apple"), boot.Manufacturer)
	assert.Equal(t, store.Ptr[int64](494384795648), boot.Capacity)
	require.NotNil(t, boot.SSD)

	external, err := src.DriveInfo(ctx, "disk8")
	require.NoError(t, err)
	assert.Equal(t, "Backup", external.Name)
	assert.Equal(t, store.Unknown, external.Model)

	raids, err := src.RAIDs(ctx)
	require.NoError(t, err)
	require.Len(t, raids, 1)

	raid, err := src.RAIDInfo(ctx, raids[0].Node)
	require.NoError(t, err)
	assert.Len(t, raid.Members, 2)
	assert.Equal(t, 1, runner.Calls("diskutil appleraid list -plist"), "discovery and RAID queries share one invocation")
}
