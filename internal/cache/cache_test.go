package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twpayne/flytecfs/internal/device"
	"github.com/twpayne/flytecfs/internal/ferr"
)

// fakeProxy is a hand-rolled Proxy that counts calls per operation and
// lets tests mutate its backing slices between calls, so cache
// revision-bump behavior can be observed without a real device.
type fakeProxy struct {
	snp *device.SNP

	routes   []device.Route
	rtsCalls int

	waypoints []device.Waypoint
	wpsCalls  int

	tracklogs []device.TracklogHeader
	tlCalls   int

	trBody map[int][]byte

	memCalls int
	mem      map[int][]byte
}

func newFakeProxy() *fakeProxy {
	return &fakeProxy{
		snp:    &device.SNP{Instrument: "COMPEO+", SerialNumber: "0012345"},
		trBody: map[int][]byte{},
		mem:    map[int][]byte{},
	}
}

func (f *fakeProxy) SNP() (*device.SNP, error) { return f.snp, nil }
func (f *fakeProxy) RTS() ([]device.Route, error) {
	f.rtsCalls++
	return f.routes, nil
}
func (f *fakeProxy) RTX(name string) error { return nil }
func (f *fakeProxy) TL() ([]device.TracklogHeader, error) {
	f.tlCalls++
	return f.tracklogs, nil
}
func (f *fakeProxy) TR(index int) ([]byte, error) { return f.trBody[index], nil }
func (f *fakeProxy) WPS() ([]device.Waypoint, error) {
	f.wpsCalls++
	return f.waypoints, nil
}
func (f *fakeProxy) WPR(w device.Waypoint) error { return nil }
func (f *fakeProxy) WPX(longName string) error   { return nil }
func (f *fakeProxy) MemR(address, length int) ([]byte, error) {
	f.memCalls++
	page, ok := f.mem[address]
	if !ok {
		page = make([]byte, length)
	}
	return page, nil
}

var _ Proxy = (*fakeProxy)(nil)

func TestCache_RoutesIsMemoizedUntilRevisionBumps(t *testing.T) {
	fp := newFakeProxy()
	fp.routes = []device.Route{{Index: 1, Name: "Comp Route"}}
	c, err := New(fp, t.TempDir())
	require.NoError(t, err)

	_, err = c.Routes()
	require.NoError(t, err)
	_, err = c.Routes()
	require.NoError(t, err)
	assert.Equal(t, 1, fp.rtsCalls)

	require.NoError(t, c.RouteUnlink("Comp Route"))
	_, err = c.Routes()
	require.NoError(t, err)
	assert.Equal(t, 2, fp.rtsCalls)
}

func TestCache_RouteUnlinkRefusesTheReservedRoute(t *testing.T) {
	fp := newFakeProxy()
	fp.routes = []device.Route{{Index: 0, Name: "Comp Route"}}
	c, err := New(fp, t.TempDir())
	require.NoError(t, err)

	err = c.RouteUnlink("Comp Route")
	assert.True(t, ferr.Is(err, ferr.PermissionDenied))
}

func TestCache_WaypointUnlinkRefusesWhenReferencedByARoute(t *testing.T) {
	fp := newFakeProxy()
	fp.waypoints = []device.Waypoint{{LongName: "Launch"}}
	fp.routes = []device.Route{{Index: 1, Name: "R", Routepoints: []device.Routepoint{{LongName: "Launch"}}}}
	c, err := New(fp, t.TempDir())
	require.NoError(t, err)

	ok, err := c.WaypointUnlink("Launch")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_WaypointUnlinkSucceedsWhenUnreferenced(t *testing.T) {
	fp := newFakeProxy()
	fp.waypoints = []device.Waypoint{{LongName: "Launch"}}
	c, err := New(fp, t.TempDir())
	require.NoError(t, err)

	ok, err := c.WaypointUnlink("Launch")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, c.Revision("waypoint_Launch"))
}

func TestCache_WaypointCreateRejectsOutOfRangeCoordinates(t *testing.T) {
	fp := newFakeProxy()
	c, err := New(fp, t.TempDir())
	require.NoError(t, err)

	err = c.WaypointCreate(device.Waypoint{Lat: 60000 * 91, LongName: "Bad"})
	assert.True(t, ferr.Is(err, ferr.InvalidPayload))
}

func TestCache_MemoryDemandReadsAlignedPagesAndReusesThem(t *testing.T) {
	fp := newFakeProxy()
	fp.mem[0] = []byte{1, 2, 3, 4, 5, 6, 7, 8}
	fp.mem[8] = []byte{9, 10, 11, 12, 13, 14, 15, 16}
	c, err := New(fp, t.TempDir())
	require.NoError(t, err)

	data, err := c.Memory(2, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, data)
	assert.Equal(t, 2, fp.memCalls)

	_, err = c.Memory(0, 8)
	require.NoError(t, err)
	assert.Equal(t, 2, fp.memCalls, "pages already read must not be refetched")
}

func TestCache_MemoryClampsToDeviceSize(t *testing.T) {
	fp := newFakeProxy()
	c, err := New(fp, t.TempDir())
	require.NoError(t, err)

	data, err := c.Memory(350, 100)
	require.NoError(t, err)
	assert.Len(t, data, 2)
}

func TestCache_TracklogsAssignsSiblingIndicesAndHidesUnlinked(t *testing.T) {
	fp := newFakeProxy()
	dt1 := mustParseTime(t, "2023-02-01T08:00:00Z")
	dt2 := mustParseTime(t, "2023-02-01T14:00:00Z")
	fp.tracklogs = []device.TracklogHeader{
		{Count: 2, Index: 0, DT: dt1, Duration: time.Hour},
		{Count: 2, Index: 1, DT: dt2, Duration: time.Hour},
	}
	c, err := New(fp, t.TempDir())
	require.NoError(t, err)

	tracklogs, err := c.Tracklogs()
	require.NoError(t, err)
	require.Len(t, tracklogs, 2)
	assert.Contains(t, tracklogs[0].IGCFilename, "-01.IGC")
	assert.Contains(t, tracklogs[1].IGCFilename, "-02.IGC")

	require.NoError(t, c.TracklogUnlink(tracklogs[0].ID))
	tracklogs, err = c.Tracklogs()
	require.NoError(t, err)
	require.Len(t, tracklogs, 1)
	assert.Equal(t, dt2.UTC().Format("2006-01-02T15:04:05Z"), tracklogs[0].ID)
}

func TestCache_TracklogRenamePersistsAcrossSnapshotRefresh(t *testing.T) {
	fp := newFakeProxy()
	dt := mustParseTime(t, "2023-02-01T08:00:00Z")
	fp.tracklogs = []device.TracklogHeader{{Count: 1, Index: 0, DT: dt, Duration: time.Hour}}
	c, err := New(fp, t.TempDir())
	require.NoError(t, err)

	tracklogs, err := c.Tracklogs()
	require.NoError(t, err)
	require.Len(t, tracklogs, 1)
	id := tracklogs[0].ID

	require.NoError(t, c.TracklogRename(id, "my-flight.IGC"))
	tracklogs, err = c.Tracklogs()
	require.NoError(t, err)
	assert.Equal(t, "my-flight.IGC", tracklogs[0].UserFilename)
}

func TestCache_TracklogBodyCachesAcrossCalls(t *testing.T) {
	fp := newFakeProxy()
	dt := mustParseTime(t, "2023-02-01T08:00:00Z")
	fp.tracklogs = []device.TracklogHeader{{Count: 1, Index: 0, DT: dt}}
	fp.trBody[0] = []byte("IGC body")
	c, err := New(fp, t.TempDir())
	require.NoError(t, err)

	tracklogs, err := c.Tracklogs()
	require.NoError(t, err)
	require.Len(t, tracklogs, 1)

	body, err := c.TracklogBody(tracklogs[0])
	require.NoError(t, err)
	assert.Equal(t, "IGC body", string(body))

	fp.trBody[0] = []byte("changed on device")
	body2, err := c.TracklogBody(tracklogs[0])
	require.NoError(t, err)
	assert.Equal(t, "IGC body", string(body2), "in-process body cache must not refetch")
}

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	dt, err := time.Parse("2006-01-02T15:04:05Z", s)
	require.NoError(t, err)
	return dt
}
