package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gosimple/slug"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/jamesprial/drive-monitor/internal/coalesce"
	dmerrors "github.com/jamesprial/drive-monitor/internal/errors"
	"github.com/jamesprial/drive-monitor/internal/store"
)

// mockSource implements Source with func fields.
type mockSource struct {
	drivesFunc    func(ctx context.Context) ([]store.DriveKey, error)
	raidsFunc     func(ctx context.Context) ([]store.RAIDKey, error)
	driveInfoFunc func(ctx context.Context, node string) (*store.DriveRecord, error)
	raidInfoFunc  func(ctx context.Context, node string) (*store.RAIDRecord, error)
}

var _ Source = (*mockSource)(nil)

func (m *mockSource) Drives(ctx context.Context) ([]store.DriveKey, error) {
	if m.drivesFunc != nil {
		return m.drivesFunc(ctx)
	}
	return nil, nil
}

func (m *mockSource) RAIDs(ctx context.Context) ([]store.RAIDKey, error) {
	if m.raidsFunc != nil {
		return m.raidsFunc(ctx)
	}
	return nil, nil
}

func (m *mockSource) DriveInfo(ctx context.Context, node string) (*store.DriveRecord, error) {
	if m.driveInfoFunc != nil {
		return m.driveInfoFunc(ctx, node)
	}
	return nil, dmerrors.NotFound("drive", node)
}

func (m *mockSource) RAIDInfo(ctx context.Context, node string) (*store.RAIDRecord, error) {
	if m.raidInfoFunc != nil {
		return m.raidInfoFunc(ctx, node)
	}
	return nil, dmerrors.NotFound("RAID", node)
}

const ttl = 10 * time.Second

func newFakeClock() *testingclock.FakeClock {
	return testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
}

func newUpdates(clk *testingclock.FakeClock) *coalesce.Cache[struct{}] {
	return coalesce.New[struct{}](ttl, coalesce.WithClock(clk))
}

func healthyRecord() *store.DriveRecord {
	r := store.NewDriveRecord()
	r.Name = "Macintosh HD"
	r.SerialNumber = "S123"
	r.FirmwareVersion = "1.0"
	r.SmartPassed = store.Ptr(true)
	r.Capacity = store.Ptr[int64](1000)
	r.Used = store.Ptr[int64](250)
	r.Temperature = store.Ptr(35)
	return r
}

func sensorNames(ss []*Sensor) []string {
	names := make([]string, 0, len(ss))
	for _, s := range ss {
		names = append(names, s.Name())
	}
	return names
}

func sensorByName(t *testing.T, d Device, name string) *Sensor {
	t.Helper()
	for _, s := range d.Sensors() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("device %s has no sensor %q", d.Node(), name)
	return nil
}

func Test_NewDrive_SensorSlots_Cases(t *testing.T) {
	tests := []struct {
		name string
		key  store.DriveKey
		want []string
	}{
		{
			name: "standalone drive",
			key:  store.DriveKey{StoreKey: store.StoreKey{ID: "U0", Node: "disk0"}},
			want: []string{"State", "Capacity", "Usage", "Temperature", "Serial Number", "Firmware Version"},
		},
		{
			name: "RAID member has no capacity or usage",
			key:  store.DriveKey{StoreKey: store.StoreKey{ID: "A", Node: "disk2"}, RAID: "R"},
			want: []string{"State", "Temperature", "Serial Number", "Firmware Version"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDrive(tt.key, &mockSource{}, newUpdates(newFakeClock()), newFakeClock())
			assert.Equal(t, tt.want, sensorNames(d.Sensors()))
			assert.Equal(t, StateCreated, d.State())
			assert.Equal(t, tt.key.Node, d.Name(), "name defaults to the node")
			assert.Equal(t, string(DriveStateUnknown), sensorByName(t, d, "State").Value())
			assert.Nil(t, sensorByName(t, d, "Temperature").Value())
		})
	}
}

func Test_Sensor_Identity(t *testing.T) {
	d := NewDrive(store.DriveKey{StoreKey: store.StoreKey{ID: "ABC-123", Node: "disk0"}},
		&mockSource{}, newUpdates(newFakeClock()), newFakeClock())

	s := sensorByName(t, d, "Serial Number")
	assert.Equal(t, slug.Make("ABC-123_Serial Number"), s.ID())
	assert.Equal(t, KindDiagnostic, s.Kind())
	assert.Equal(t, "ABC-123", s.DeviceID())
	assert.Equal(t, "disk0", s.Node())

	seen := map[string]bool{}
	for _, s := range d.Sensors() {
		assert.False(t, seen[s.ID()], "duplicate sensor id %s", s.ID())
		seen[s.ID()] = true
	}
}

func Test_Drive_Update_AppliesRecord(t *testing.T) {
	clk := newFakeClock()
	src := &mockSource{driveInfoFunc: func(context.Context, string) (*store.DriveRecord, error) {
		return healthyRecord(), nil
	}}
	d := NewDrive(store.DriveKey{StoreKey: store.StoreKey{ID: "U0", Node: "disk0"}}, src, newUpdates(clk), clk)

	require.NoError(t, d.Update(context.Background()))

	assert.Equal(t, StateUpdated, d.State())
	assert.Equal(t, clk.Now(), d.LastUpdated())
	assert.Equal(t, "Macintosh HD", d.Name())
	assert.Equal(t, string(DriveStateHealthy), sensorByName(t, d, "State").Value())
	assert.Equal(t, int64(1000), sensorByName(t, d, "Capacity").Value())
	assert.Equal(t, int64(250), sensorByName(t, d, "Usage").Value())
	assert.Equal(t, 35, sensorByName(t, d, "Temperature").Value())
	assert.Equal(t, "S123", sensorByName(t, d, "Serial Number").Value())
	assert.Equal(t, "1.0", sensorByName(t, d, "Firmware Version").Value())
	assert.Equal(t, healthyRecord(), d.Record())

	f, ok := sensorByName(t, d, "Temperature").Float()
	assert.True(t, ok)
	assert.InDelta(t, 35.0, f, 0)
}

func Test_Drive_Update_SmartFailureIsUnhealthy(t *testing.T) {
	src := &mockSource{driveInfoFunc: func(context.Context, string) (*store.DriveRecord, error) {
		r := healthyRecord()
		r.SmartPassed = store.Ptr(false)
		return r, nil
	}}
	clk := newFakeClock()
	d := NewDrive(store.DriveKey{StoreKey: store.StoreKey{ID: "U0", Node: "disk0"}}, src, newUpdates(clk), clk)

	require.NoError(t, d.Update(context.Background()))
	assert.Equal(t, string(DriveStateUnhealthy), sensorByName(t, d, "State").Value())
}

func Test_Drive_Update_TopologyOnlyKeepsHealth(t *testing.T) {
	clk := newFakeClock()
	openFailed := false
	src := &mockSource{driveInfoFunc: func(context.Context, string) (*store.DriveRecord, error) {
		if openFailed {
			// Diagnostics could not open the device: only topology fields remain.
			r := store.NewDriveRecord()
			r.Name = "Macintosh HD"
			r.Capacity = store.Ptr[int64](1000)
			r.Used = store.Ptr[int64](400)
			return r, nil
		}
		r := healthyRecord()
		r.SmartPassed = store.Ptr(false)
		return r, nil
	}}
	d := NewDrive(store.DriveKey{StoreKey: store.StoreKey{ID: "U0", Node: "disk0"}}, src, newUpdates(clk), clk)
	require.NoError(t, d.Update(context.Background()))
	require.Equal(t, string(DriveStateUnhealthy), sensorByName(t, d, "State").Value())

	openFailed = true
	clk.Step(ttl + time.Second)
	require.NoError(t, d.Update(context.Background()))

	assert.Equal(t, string(DriveStateUnhealthy), sensorByName(t, d, "State").Value())
	assert.Equal(t, 35, sensorByName(t, d, "Temperature").Value())
	assert.Equal(t, int64(400), sensorByName(t, d, "Usage").Value())
}

func Test_Drive_Update_NoVerdictStartsUnknown(t *testing.T) {
	clk := newFakeClock()
	src := &mockSource{driveInfoFunc: func(context.Context, string) (*store.DriveRecord, error) {
		return store.NewDriveRecord(), nil
	}}
	d := NewDrive(store.DriveKey{StoreKey: store.StoreKey{ID: "U0", Node: "disk0"}}, src, newUpdates(clk), clk)
	require.NoError(t, d.Update(context.Background()))
	assert.Equal(t, string(DriveStateUnknown), sensorByName(t, d, "State").Value())
}

func Test_Drive_SSDSensorsCreatedOnFirstObservation(t *testing.T) {
	clk := newFakeClock()
	withSSD := true
	src := &mockSource{driveInfoFunc: func(context.Context, string) (*store.DriveRecord, error) {
		r := healthyRecord()
		if withSSD {
			r.SSD = &store.SSDDetail{
				BytesWritten:    store.Ptr[int64](512000),
				AvailableSpare:  store.Ptr(100),
				UnsafeShutdowns: store.Ptr[int64](3),
			}
		}
		return r, nil
	}}
	d := NewDrive(store.DriveKey{StoreKey: store.StoreKey{ID: "U0", Node: "disk0"}}, src, newUpdates(clk), clk)
	before := len(d.Sensors())

	withSSD = false
	require.NoError(t, d.Update(context.Background()))
	assert.Len(t, d.Sensors(), before, "no SSD sensors without SSD detail")

	withSSD = true
	clk.Step(ttl + time.Second)
	require.NoError(t, d.Update(context.Background()))
	require.Len(t, d.Sensors(), before+5)
	assert.Equal(t, int64(512000), sensorByName(t, d, "Bytes Written").Value())
	assert.Nil(t, sensorByName(t, d, "Bytes Read").Value(), "absent field stays unknown")
	assert.Equal(t, KindDiagnostic, sensorByName(t, d, "Unsafe Shutdowns").Kind())

	withSSD = false
	clk.Step(ttl + time.Second)
	require.NoError(t, d.Update(context.Background()))
	assert.Len(t, d.Sensors(), before+5, "SSD sensors are kept once created")
	assert.Equal(t, int64(512000), sensorByName(t, d, "Bytes Written").Value())
}

func Test_Drive_Update_NodeDisappears(t *testing.T) {
	clk := newFakeClock()
	gone := false
	src := &mockSource{driveInfoFunc: func(_ context.Context, node string) (*store.DriveRecord, error) {
		if gone {
			return nil, dmerrors.NotFound("drive", node)
		}
		return healthyRecord(), nil
	}}
	d := NewDrive(store.DriveKey{StoreKey: store.StoreKey{ID: "U8", Node: "disk8"}}, src, newUpdates(clk), clk)
	require.NoError(t, d.Update(context.Background()))
	updatedAt := d.LastUpdated()

	gone = true
	clk.Step(ttl + time.Second)
	require.NoError(t, d.Update(context.Background()), "a vanished node is not an error")

	assert.Equal(t, StateStale, d.State())
	assert.Equal(t, updatedAt, d.LastUpdated())
	assert.True(t, dmerrors.IsCode(d.LastError(), dmerrors.ErrCodeNotFound))
	assert.Equal(t, int64(1000), sensorByName(t, d, "Capacity").Value())
	assert.Equal(t, string(DriveStateHealthy), sensorByName(t, d, "State").Value())
	assert.Equal(t, "Macintosh HD", d.Name())
}

func Test_Drive_Update_ToolFailure(t *testing.T) {
	clk := newFakeClock()
	boom := dmerrors.New(dmerrors.ErrCodeToolInvocationFailed, "invalid output from smartctl")
	fail := false
	src := &mockSource{driveInfoFunc: func(context.Context, string) (*store.DriveRecord, error) {
		if fail {
			return nil, boom
		}
		return healthyRecord(), nil
	}}
	d := NewDrive(store.DriveKey{StoreKey: store.StoreKey{ID: "U0", Node: "disk0"}}, src, newUpdates(clk), clk)
	require.NoError(t, d.Update(context.Background()))

	fail = true
	clk.Step(ttl + time.Second)
	err := d.Update(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateUpdated, d.State(), "a tool failure is not a disappearance")
	assert.ErrorIs(t, d.LastError(), boom)
	assert.Equal(t, int64(1000), sensorByName(t, d, "Capacity").Value())
}

func Test_Sensor_Poll_IsCoalescedPerDevice(t *testing.T) {
	clk := newFakeClock()
	var calls atomic.Int32
	src := &mockSource{driveInfoFunc: func(context.Context, string) (*store.DriveRecord, error) {
		calls.Add(1)
		return healthyRecord(), nil
	}}
	d := NewDrive(store.DriveKey{StoreKey: store.StoreKey{ID: "U0", Node: "disk0"}}, src, newUpdates(clk), clk)

	var wg sync.WaitGroup
	for _, s := range d.Sensors() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Poll(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())

	v, err := sensorByName(t, d, "Temperature").Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 35, v)
	assert.EqualValues(t, 1, calls.Load(), "still within the update TTL")

	clk.Step(ttl + time.Second)
	_, err = sensorByName(t, d, "Temperature").Poll(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func Test_RAID_Update(t *testing.T) {
	clk := newFakeClock()
	src := &mockSource{raidInfoFunc: func(context.Context, string) (*store.RAIDRecord, error) {
		r := store.NewRAIDRecord()
		r.ID = "R"
		r.Name = "Storage RAID"
		r.Type = store.RAIDTypeMirror
		r.State = store.RAIDStateRebuilding
		r.Members = []store.RAIDMember{
			{ID: "A", Node: "disk2", State: store.RAIDStateOnline},
			{ID: "B", Node: "disk3", State: store.RAIDStateRebuilding},
		}
		r.Capacity = store.Ptr[int64](4000)
		return r, nil
	}}
	r := NewRAID(store.RAIDKey{StoreKey: store.StoreKey{ID: "R", Node: "disk4"}}, src, newUpdates(clk), clk)
	assert.Equal(t, []string{"State", "Capacity", "Usage", "Type", "Members"}, sensorNames(r.Sensors()))

	require.NoError(t, r.Update(context.Background()))
	assert.Equal(t, "Storage RAID", r.Name())
	assert.Equal(t, "Rebuild", sensorByName(t, r, "State").Value())
	assert.Equal(t, "Mirror", sensorByName(t, r, "Type").Value())
	assert.Equal(t, "disk2:Online, disk3:Rebuild", sensorByName(t, r, "Members").Value())
	assert.Equal(t, int64(4000), sensorByName(t, r, "Capacity").Value())
	assert.Nil(t, sensorByName(t, r, "Usage").Value())
	assert.Equal(t, []string{"Unknown", "Online", "Offline", "Rebuild"}, sensorByName(t, r, "State").Options())
}

func Test_Registry_Initialize(t *testing.T) {
	clk := newFakeClock()
	var driveCalls atomic.Int32
	src := &mockSource{
		drivesFunc: func(context.Context) ([]store.DriveKey, error) {
			return []store.DriveKey{
				{StoreKey: store.StoreKey{ID: "U0", Node: "disk0"}},
				{StoreKey: store.StoreKey{ID: "A", Node: "disk2"}, RAID: "R"},
				{StoreKey: store.StoreKey{ID: "U9", Node: "disk9"}},
			}, nil
		},
		raidsFunc: func(context.Context) ([]store.RAIDKey, error) {
			return []store.RAIDKey{{StoreKey: store.StoreKey{ID: "R", Node: "disk4"}}}, nil
		},
		driveInfoFunc: func(_ context.Context, node string) (*store.DriveRecord, error) {
			driveCalls.Add(1)
			if node == "disk2" {
				return nil, errors.New("smartctl crashed")
			}
			return healthyRecord(), nil
		},
		raidInfoFunc: func(context.Context, string) (*store.RAIDRecord, error) {
			return store.NewRAIDRecord(), nil
		},
	}
	reg := NewRegistry(src, Options{Filter: denyNode("disk9"), Clock: clk})

	devices, err := reg.Initialize(context.Background())
	require.NoError(t, err, "a failed first update does not fail initialization")
	require.Len(t, devices, 3)
	assert.EqualValues(t, 2, driveCalls.Load())

	d0, ok := reg.Device("disk0")
	require.True(t, ok)
	assert.Equal(t, StateUpdated, d0.State())

	d2, ok := reg.Device("disk2")
	require.True(t, ok)
	assert.Equal(t, StateCreated, d2.State())
	assert.Error(t, d2.LastError())

	_, ok = reg.Device("disk9")
	assert.False(t, ok, "filtered node is not constructed")

	raid, ok := reg.Device("disk4")
	require.True(t, ok)
	assert.Equal(t, TypeRAID, raid.Type())

	// disk0: 4 sensors + 2 diagnostics; disk2: 2 + 2; disk4: 3 + 2.
	assert.Len(t, reg.Sensors(KindSensor), 4+2+3)
	assert.Len(t, reg.Sensors(KindDiagnostic), 2+2+2)
	assert.Len(t, reg.Sensors(""), 4+2+2+2+3+2)

	id := sensorByName(t, d0, "Temperature").ID()
	s, ok := reg.Sensor(id)
	require.True(t, ok)
	assert.Equal(t, 35, s.Value())

	snap := reg.Snapshot()
	assert.Equal(t, clk.Now(), snap.Taken)
	require.Len(t, snap.Drives, 2)
	require.Len(t, snap.RAIDs, 1)
	assert.Equal(t, "R", snap.Drives[1].RAID)
	assert.Equal(t, healthyRecord(), snap.Drives[0].Record)
	assert.Nil(t, snap.Drives[1].Record)
	assert.Equal(t, "smartctl crashed", snap.Drives[1].LastError)
}

func Test_Registry_Initialize_DiscoveryFailure(t *testing.T) {
	boom := dmerrors.New(dmerrors.ErrCodeToolInvocationFailed, "diskutil missing")
	reg := NewRegistry(&mockSource{
		raidsFunc: func(context.Context) ([]store.RAIDKey, error) { return nil, boom },
	}, Options{})

	devices, err := reg.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, devices)
	assert.Empty(t, reg.Devices())
}

type denyNode string

func (n denyNode) IsAllowed(node string) bool { return node != string(n) }
