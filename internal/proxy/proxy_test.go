package proxy

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twpayne/flytecfs/internal/device"
	"github.com/twpayne/flytecfs/internal/ferr"
)

// fakeDriver counts calls per operation and can be told to fail the
// next N calls to a given op, so tests can exercise the memoization
// and cached-exception-eviction contract precisely.
type fakeDriver struct {
	mu       sync.Mutex
	rtsCalls int32
	failRTS  int32 // number of remaining PBRRTS calls to fail

	snpDelay time.Duration
	snpCalls int32
}

func (f *fakeDriver) PBRSNP() (*device.SNP, error) {
	atomic.AddInt32(&f.snpCalls, 1)
	if f.snpDelay > 0 {
		time.Sleep(f.snpDelay)
	}
	return &device.SNP{Instrument: "COMPEO+"}, nil
}
func (f *fakeDriver) PBRCONF() error { return nil }
func (f *fakeDriver) PBRMEMR(address, length int) ([]byte, error) {
	return make([]byte, length), nil
}
func (f *fakeDriver) PBRRTS() ([]device.Route, error) {
	atomic.AddInt32(&f.rtsCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRTS > 0 {
		f.failRTS--
		return nil, ferr.New(ferr.Timeout, "simulated timeout")
	}
	return []device.Route{{Index: 0, Name: "Comp Route"}}, nil
}
func (f *fakeDriver) PBRRTX(name string) error                { return nil }
func (f *fakeDriver) PBRTL() ([]device.TracklogHeader, error) { return nil, nil }
func (f *fakeDriver) PBRTR(index int) ([]byte, error)         { return nil, nil }
func (f *fakeDriver) PBRIGC() ([]byte, error)                 { return nil, nil }
func (f *fakeDriver) PBRWPS() ([]device.Waypoint, error)      { return nil, nil }
func (f *fakeDriver) PBRWPR(w device.Waypoint) error          { return nil }
func (f *fakeDriver) PBRWPX(longName string) error            { return nil }

var _ Driver = (*fakeDriver)(nil)

func TestProxy_ConcurrentIdenticalCallsCoalesce(t *testing.T) {
	fd := &fakeDriver{snpDelay: 50 * time.Millisecond}
	p := New(fd)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.SNP()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fd.snpCalls))
}

func TestProxy_SuccessIsMemoizedAcrossCalls(t *testing.T) {
	fd := &fakeDriver{}
	p := New(fd)

	_, err := p.RTS()
	require.NoError(t, err)
	_, err = p.RTS()
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fd.rtsCalls))
}

func TestProxy_FailedCallIsEvictedAndRetried(t *testing.T) {
	fd := &fakeDriver{failRTS: 1}
	p := New(fd)

	_, err := p.RTS()
	assert.Error(t, err)

	routes, err := p.RTS()
	require.NoError(t, err)
	assert.Len(t, routes, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fd.rtsCalls))
}

func TestProxy_InvalidateForcesNextCallToTheDevice(t *testing.T) {
	fd := &fakeDriver{}
	p := New(fd)

	_, err := p.RTS()
	require.NoError(t, err)
	p.Invalidate(Args{Op: OpRTS})
	_, err = p.RTS()
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&fd.rtsCalls))
}

func TestProxy_RTXInvalidatesTheRoutesMemo(t *testing.T) {
	fd := &fakeDriver{}
	p := New(fd)

	_, err := p.RTS()
	require.NoError(t, err)
	require.NoError(t, p.RTX("Comp Route"))
	_, err = p.RTS()
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&fd.rtsCalls))
}

func TestArgs_KeyDistinguishesOperationsAndArguments(t *testing.T) {
	a := Args{Op: OpMemR, Address: 0, Length: 8}
	b := Args{Op: OpMemR, Address: 8, Length: 8}
	assert.NotEqual(t, a.Key(), b.Key())

	c := Args{Op: OpTR, Index: 1}
	d := Args{Op: OpIGC}
	assert.NotEqual(t, c.Key(), d.Key())
}
