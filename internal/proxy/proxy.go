// Package proxy serializes every device-bound call from the many
// goroutines FUSE may call into onto a single worker goroutine that
// owns the driver, memoizing pure queries by (operation, arguments).
//
// The source this was distilled from forwards arbitrary method names
// onto the wrapped driver through Python's runtime attribute lookup
// (__getattr__). That is re-expressed here as an explicit Op enum
// whose variants enumerate every device operation, carried by an Args
// value with typed fields; the worker dispatches on Op with a type
// switch instead of reflection.
package proxy

import (
	"fmt"
	"sync"

	"github.com/twpayne/flytecfs/internal/device"
)

// Op enumerates every device operation the proxy can serialize.
type Op int

const (
	OpSNP Op = iota
	OpConf
	OpMemR
	OpRTS
	OpRTX
	OpTL
	OpTR
	OpIGC
	OpWPS
	OpWPR
	OpWPX
)

func (o Op) String() string {
	switch o {
	case OpSNP:
		return "PBRSNP"
	case OpConf:
		return "PBRCONF"
	case OpMemR:
		return "PBRMEMR"
	case OpRTS:
		return "PBRRTS"
	case OpRTX:
		return "PBRRTX"
	case OpTL:
		return "PBRTL"
	case OpTR:
		return "PBRTR"
	case OpIGC:
		return "PBRIGC"
	case OpWPS:
		return "PBRWPS"
	case OpWPR:
		return "PBRWPR"
	case OpWPX:
		return "PBRWPX"
	default:
		return "unknown"
	}
}

// Args carries the typed arguments for one call. Only the fields
// relevant to Op are meaningful; the rest are zero.
type Args struct {
	Op       Op
	Address  int
	Length   int
	Index    int
	Name     string
	Waypoint device.Waypoint
}

// Key identifies (op, args) for memoization purposes.
func (a Args) Key() string {
	switch a.Op {
	case OpMemR:
		return fmt.Sprintf("%s:%d:%d", a.Op, a.Address, a.Length)
	case OpRTX:
		return fmt.Sprintf("%s:%s", a.Op, a.Name)
	case OpTR:
		return fmt.Sprintf("%s:%d", a.Op, a.Index)
	case OpWPR:
		return fmt.Sprintf("%s:%s:%d:%d:%s:%d:%s", a.Op, a.Waypoint.LongName, a.Waypoint.Lat, a.Waypoint.Lon, a.Waypoint.ShortName, a.Waypoint.Ele, a.Name)
	case OpWPX:
		return fmt.Sprintf("%s:%s", a.Op, a.Name)
	default:
		return a.Op.String()
	}
}

// Driver is the subset of *device.Driver the proxy dispatches to.
type Driver interface {
	PBRSNP() (*device.SNP, error)
	PBRCONF() error
	PBRMEMR(address, length int) ([]byte, error)
	PBRRTS() ([]device.Route, error)
	PBRRTX(name string) error
	PBRTL() ([]device.TracklogHeader, error)
	PBRTR(index int) ([]byte, error)
	PBRIGC() ([]byte, error)
	PBRWPS() ([]device.Waypoint, error)
	PBRWPR(w device.Waypoint) error
	PBRWPX(longName string) error
}

var _ Driver = (*device.Driver)(nil)

type call struct {
	args   Args
	result interface{}
	err    error
	done   chan struct{}
}

// Proxy owns a Driver exclusively and runs a single worker goroutine
// that is the only caller into it, matching §4.4/§5's single-channel
// ownership requirement.
type Proxy struct {
	driver Driver

	mu      sync.Mutex
	pending map[string]*call
	queue   chan *call
}

// New starts the worker goroutine over driver. The worker runs until
// the process exits; there is no Close, matching the proxy's
// no-cancellation contract.
func New(driver Driver) *Proxy {
	p := &Proxy{
		driver:  driver,
		pending: make(map[string]*call),
		queue:   make(chan *call, 64),
	}
	go p.run()
	return p
}

func (p *Proxy) run() {
	for c := range p.queue {
		c.result, c.err = p.invoke(c.args)
		if c.err != nil {
			// Cached-exception hazard mitigation: evict failed calls
			// immediately so the next identical request retries
			// against the device rather than replaying a stale error
			// forever.
			p.mu.Lock()
			if p.pending[c.args.Key()] == c {
				delete(p.pending, c.args.Key())
			}
			p.mu.Unlock()
		}
		close(c.done)
	}
}

func (p *Proxy) invoke(a Args) (interface{}, error) {
	switch a.Op {
	case OpSNP:
		return p.driver.PBRSNP()
	case OpConf:
		return nil, p.driver.PBRCONF()
	case OpMemR:
		return p.driver.PBRMEMR(a.Address, a.Length)
	case OpRTS:
		return p.driver.PBRRTS()
	case OpRTX:
		return nil, p.driver.PBRRTX(a.Name)
	case OpTL:
		return p.driver.PBRTL()
	case OpTR:
		return p.driver.PBRTR(a.Index)
	case OpIGC:
		return p.driver.PBRIGC()
	case OpWPS:
		return p.driver.PBRWPS()
	case OpWPR:
		return nil, p.driver.PBRWPR(a.Waypoint)
	case OpWPX:
		return nil, p.driver.PBRWPX(a.Name)
	default:
		panic(fmt.Sprintf("proxy: unknown op %v", a.Op))
	}
}

// submit enqueues args if not already pending/cached, and blocks for
// its result. Concurrent submits with the same key coalesce onto one
// call.
func (p *Proxy) submit(a Args) (interface{}, error) {
	key := a.Key()

	p.mu.Lock()
	if c, ok := p.pending[key]; ok {
		p.mu.Unlock()
		<-c.done
		return c.result, c.err
	}
	c := &call{args: a, done: make(chan struct{})}
	p.pending[key] = c
	p.mu.Unlock()

	p.queue <- c
	<-c.done
	return c.result, c.err
}

// Invalidate drops any memoized success for (op, key-bearing args) so
// the next identical call hits the device again. RTX, WPR and WPX call
// it after their mutation to drop the memoized route or waypoint list.
func (p *Proxy) Invalidate(a Args) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, a.Key())
}

func (p *Proxy) SNP() (*device.SNP, error) {
	r, err := p.submit(Args{Op: OpSNP})
	if err != nil {
		return nil, err
	}
	return r.(*device.SNP), nil
}

func (p *Proxy) Conf() error {
	_, err := p.submit(Args{Op: OpConf})
	return err
}

func (p *Proxy) MemR(address, length int) ([]byte, error) {
	r, err := p.submit(Args{Op: OpMemR, Address: address, Length: length})
	if err != nil {
		return nil, err
	}
	return r.([]byte), nil
}

func (p *Proxy) RTS() ([]device.Route, error) {
	r, err := p.submit(Args{Op: OpRTS})
	if err != nil {
		return nil, err
	}
	return r.([]device.Route), nil
}

func (p *Proxy) RTX(name string) error {
	_, err := p.submit(Args{Op: OpRTX, Name: name})
	p.Invalidate(Args{Op: OpRTS})
	return err
}

func (p *Proxy) TL() ([]device.TracklogHeader, error) {
	r, err := p.submit(Args{Op: OpTL})
	if err != nil {
		return nil, err
	}
	return r.([]device.TracklogHeader), nil
}

func (p *Proxy) TR(index int) ([]byte, error) {
	r, err := p.submit(Args{Op: OpTR, Index: index})
	if err != nil {
		return nil, err
	}
	return r.([]byte), nil
}

func (p *Proxy) IGC() ([]byte, error) {
	r, err := p.submit(Args{Op: OpIGC})
	if err != nil {
		return nil, err
	}
	return r.([]byte), nil
}

func (p *Proxy) WPS() ([]device.Waypoint, error) {
	r, err := p.submit(Args{Op: OpWPS})
	if err != nil {
		return nil, err
	}
	return r.([]device.Waypoint), nil
}

func (p *Proxy) WPR(w device.Waypoint) error {
	_, err := p.submit(Args{Op: OpWPR, Waypoint: w})
	p.Invalidate(Args{Op: OpWPS})
	return err
}

func (p *Proxy) WPX(longName string) error {
	_, err := p.submit(Args{Op: OpWPX, Name: longName})
	p.Invalidate(Args{Op: OpWPS})
	return err
}
