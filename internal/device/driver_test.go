package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twpayne/flytecfs/internal/ferr"
	"github.com/twpayne/flytecfs/internal/nmea"
	"github.com/twpayne/flytecfs/internal/serial"
)

// fakeTransport drives Driver's exchange state machine from a
// preprogrammed queue of responses, standing in for a real Transport
// without a serial line.
type fakeTransport struct {
	writes  [][]byte
	queue   [][]byte
	flushed bool
}

func (f *fakeTransport) Write(data []byte) error {
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeTransport) next() ([]byte, error) {
	if len(f.queue) == 0 {
		return nil, ferr.New(ferr.Timeout, "fakeTransport: queue exhausted")
	}
	v := f.queue[0]
	f.queue = f.queue[1:]
	return v, nil
}

func (f *fakeTransport) ReadLine(timeout time.Duration) ([]byte, error)  { return f.next() }
func (f *fakeTransport) ReadBlock(timeout time.Duration) ([]byte, error) { return f.next() }

func (f *fakeTransport) Flush() error {
	f.flushed = true
	f.queue = nil
	return nil
}

var _ Transport = (*fakeTransport)(nil)

func line(t *testing.T, payload string) []byte {
	t.Helper()
	frame, err := nmea.Encode([]byte(payload))
	require.NoError(t, err)
	return frame
}

func TestDriver_PBRSNP(t *testing.T) {
	ft := &fakeTransport{queue: [][]byte{
		{serial.XOFF},
		line(t, "PBRSNP,COMPEO+,Pilot Name,0012345,1.03"),
		{serial.XON},
	}}
	d := New(ft, nil)

	snp, err := d.PBRSNP()
	require.NoError(t, err)
	assert.Equal(t, "COMPEO+", snp.Instrument)
	assert.Equal(t, "Pilot Name", snp.PilotName)
	assert.Equal(t, "0012345", snp.SerialNumber)
	assert.Equal(t, "1.03", snp.SoftwareVersion)

	// Second call must not touch the transport again.
	snp2, err := d.PBRSNP()
	require.NoError(t, err)
	assert.Same(t, snp, snp2)
}

func TestDriver_PBRSNP_MalformedResponseFlushesTransport(t *testing.T) {
	ft := &fakeTransport{queue: [][]byte{
		{serial.XOFF},
		line(t, "PBRSNP,onlyonefield"),
		{serial.XON},
	}}
	d := New(ft, nil)

	_, err := d.PBRSNP()
	assert.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.UnexpectedLine))
	assert.True(t, ft.flushed)
}

func TestDriver_PBRSNP_MissingXoffFails(t *testing.T) {
	ft := &fakeTransport{queue: [][]byte{
		line(t, "PBRSNP,A,B,C,D"),
	}}
	d := New(ft, nil)

	_, err := d.PBRSNP()
	assert.True(t, ferr.Is(err, ferr.MissingXoff))
	assert.True(t, ft.flushed)
}

func TestDriver_PBRMEMR_ReassemblesMultipleAddressedResponses(t *testing.T) {
	ft := &fakeTransport{queue: [][]byte{
		{serial.XOFF},
		line(t, "PBRMEMR,0000,01,02,03,04"),
		{serial.XON},
		{serial.XOFF},
		line(t, "PBRMEMR,0004,05,06"),
		{serial.XON},
	}}
	d := New(ft, nil)

	data, err := d.PBRMEMR(0, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, data)
}

func TestDriver_PBRMEMR_AddressMismatchFails(t *testing.T) {
	ft := &fakeTransport{queue: [][]byte{
		{serial.XOFF},
		line(t, "PBRMEMR,0008,01,02"),
		{serial.XON},
	}}
	d := New(ft, nil)

	_, err := d.PBRMEMR(0, 2)
	assert.True(t, ferr.Is(err, ferr.AddressMismatch))
}

func TestDriver_PBRRTS_ParsesSinglePointRoute(t *testing.T) {
	ft := &fakeTransport{queue: [][]byte{
		{serial.XOFF},
		line(t, "PBRRTS,0,1,000,Comp Route"),
		{serial.XON},
	}}
	d := New(ft, nil)

	routes, err := d.PBRRTS()
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "Comp Route", routes[0].Name)
	assert.Empty(t, routes[0].Routepoints)
}

// The header-line regex and the routepoint-line regex both accept a
// literal "0" in the third field, so a route's first routepoint
// (index 0) is indistinguishable from a second header line. This
// mirrors flytecdevice.py's ipbrrts exactly; the index-0 routepoint
// is lost and its fields become the route name, while every later
// routepoint is recovered.
func TestDriver_PBRRTS_FirstRoutepointAtIndexZeroIsAbsorbedByHeaderRegex(t *testing.T) {
	ft := &fakeTransport{queue: [][]byte{
		{serial.XOFF},
		line(t, "PBRRTS,1,2,000,Out And Return"),
		line(t, "PBRRTS,1,2,0,ABC,Alpha Waypoint"),
		line(t, "PBRRTS,1,2,1,DEF,Bravo Waypoint"),
		{serial.XON},
	}}
	d := New(ft, nil)

	routes, err := d.PBRRTS()
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "ABC,Alpha Waypoint", routes[0].Name)
	require.Len(t, routes[0].Routepoints, 1)
	assert.Equal(t, "Bravo Waypoint", routes[0].Routepoints[0].LongName)
}

func TestDriver_PBRTL_ParsesHeaders(t *testing.T) {
	ft := &fakeTransport{queue: [][]byte{
		{serial.XOFF},
		line(t, "PBRTL,2,0,01.02.23,10:20:30,00:15:45"),
		line(t, "PBRTL,2,1,01.02.23,11:00:00,00:05:00"),
		{serial.XON},
	}}
	d := New(ft, nil)

	headers, err := d.PBRTL()
	require.NoError(t, err)
	require.Len(t, headers, 2)
	assert.Equal(t, 0, headers[0].Index)
	assert.Equal(t, 15*time.Minute+45*time.Second, headers[0].Duration)
	assert.Equal(t, 2023, headers[0].DT.Year())
}

func TestDriver_PBRWPR_EncodesCommandAndNMEA(t *testing.T) {
	ft := &fakeTransport{queue: [][]byte{
		{serial.XOFF},
		{serial.XON},
	}}
	d := New(ft, nil)

	w := Waypoint{Lat: 123456, Lon: -234567, LongName: "Launch", Ele: 1500}
	require.NoError(t, d.PBRWPR(w))
	require.Len(t, ft.writes, 1)
	payload, err := nmea.Decode(ft.writes[0])
	require.NoError(t, err)
	assert.Contains(t, string(payload), "PBRWPR,"+w.NMEA())
}

func TestDriver_PBRWPX_DeleteAllUsesEmptyName(t *testing.T) {
	ft := &fakeTransport{queue: [][]byte{
		{serial.XOFF},
		{serial.XON},
	}}
	d := New(ft, nil)

	require.NoError(t, d.PBRWPX(""))
	payload, err := nmea.Decode(ft.writes[0])
	require.NoError(t, err)
	assert.Equal(t, "PBRWPX,", string(payload))
}
