package serial

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/twpayne/flytecfs/internal/ferr"
)

// In-band framing markers. These travel as ordinary data bytes once
// software flow control is disabled by MakeRaw/OpenTransport; they
// are never interpreted by the tty layer.
const (
	XON  byte = 0x11
	XOFF byte = 0x13
)

const (
	fillSize          = 1024
	defaultReadTimeout = time.Second
)

// Transport is a raw-mode serial line that understands the device's
// line- and block-oriented XON/XOFF framing on top of a Port.
type Transport struct {
	port *Port
	buf  []byte
	log  logr.Logger
}

// TransportOption configures OpenTransport.
type TransportOption func(*transportConfig)

type transportConfig struct {
	log         logr.Logger
	readTimeout time.Duration
}

// WithLogger attaches a logger that records every byte exchanged with
// the device at trace verbosity.
func WithLogger(log logr.Logger) TransportOption {
	return func(c *transportConfig) { c.log = log }
}

// WithDefaultReadTimeout overrides the 1s default per-read timeout.
func WithDefaultReadTimeout(d time.Duration) TransportOption {
	return func(c *transportConfig) { c.readTimeout = d }
}

// OpenTransport opens name in raw mode at 57600 8N1 with no hardware
// or software flow control, ready for NMEA sentence exchange.
func OpenTransport(name string, opts ...TransportOption) (*Transport, error) {
	cfg := transportConfig{log: logr.Discard(), readTimeout: defaultReadTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	port, err := Open(name, NewOptions())
	if err != nil {
		return nil, ferr.Wrap(ferr.Eof, "open serial port", err)
	}

	attrs, err := port.GetAttr()
	if err != nil {
		port.Close()
		return nil, err
	}
	attrs.MakeRaw()
	attrs.Iflag &= ^IXOFF
	attrs.Cflag &= ^(CSTOPB | CRTSCTS)
	attrs.SetSpeed(B57600)
	if err := port.SetAttr(TCSANOW, attrs); err != nil {
		port.Close()
		return nil, err
	}
	port.SetReadTimeout(cfg.readTimeout)

	return &Transport{port: port, log: cfg.log}, nil
}

// newTransport wraps an already-configured Port, without changing its
// termios settings.
func newTransport(port *Port, log logr.Logger) *Transport {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Transport{port: port, log: log}
}

// Close releases the underlying file descriptor.
func (t *Transport) Close() error {
	return t.port.Close()
}

// Flush discards unread input and unwritten output, per §4.2's "flush
// the transport" recovery action on any protocol failure.
func (t *Transport) Flush() error {
	t.buf = t.buf[:0]
	return t.port.Flush(TCIOFLUSH)
}

// Write sends data verbatim, failing ShortWrite if the kernel accepted
// fewer bytes than offered.
func (t *Transport) Write(data []byte) error {
	t.log.V(2).Info("write", "bytes", data)
	n, err := t.port.Write(data)
	if err != nil {
		return ferr.Wrap(ferr.ShortWrite, "write", err)
	}
	if n != len(data) {
		return ferr.New(ferr.ShortWrite, "short write")
	}
	return nil
}

func (t *Transport) fill(timeout time.Duration) error {
	buf := make([]byte, fillSize)
	n, err := t.port.ReadTimeout(buf, timeout)
	if err != nil {
		return ferr.Wrap(ferr.Timeout, "read timed out", err)
	}
	if n == 0 {
		return ferr.New(ferr.Eof, "read returned no data")
	}
	t.buf = append(t.buf, buf[:n]...)
	return nil
}

// ReadLine returns the next \n-terminated chunk of the stream,
// inclusive of the trailing \n, except that a leading XON or XOFF byte
// is returned alone.
func (t *Transport) ReadLine(timeout time.Duration) ([]byte, error) {
	if len(t.buf) == 0 {
		if err := t.fill(timeout); err != nil {
			return nil, err
		}
	}
	if t.buf[0] == XON || t.buf[0] == XOFF {
		b := t.buf[0]
		t.buf = t.buf[1:]
		t.log.V(2).Info("read marker", "byte", b)
		return []byte{b}, nil
	}
	for {
		if idx := indexByte(t.buf, '\n'); idx != -1 {
			line := t.buf[:idx+1]
			t.buf = t.buf[idx+1:]
			t.log.V(2).Info("read line", "bytes", line)
			return line, nil
		}
		if err := t.fill(timeout); err != nil {
			return nil, err
		}
	}
}

// ReadBlock returns the next opaque binary chunk: everything currently
// buffered up to (but not including) the next XON/XOFF marker, or the
// whole of one refill if no marker is present yet. Unlike ReadLine it
// never waits for a newline, since binary payloads may contain any
// byte value.
func (t *Transport) ReadBlock(timeout time.Duration) ([]byte, error) {
	if len(t.buf) == 0 {
		if err := t.fill(timeout); err != nil {
			return nil, err
		}
	}
	if t.buf[0] == XON || t.buf[0] == XOFF {
		b := t.buf[0]
		t.buf = t.buf[1:]
		t.log.V(2).Info("read marker", "byte", b)
		return []byte{b}, nil
	}
	idx := indexMarker(t.buf)
	if idx == -1 {
		block := t.buf
		t.buf = nil
		t.log.V(2).Info("read block", "len", len(block))
		return block, nil
	}
	block := t.buf[:idx]
	t.buf = t.buf[idx:]
	t.log.V(2).Info("read block", "len", len(block))
	return block, nil
}

func indexByte(buf []byte, b byte) int {
	for i, c := range buf {
		if c == b {
			return i
		}
	}
	return -1
}

func indexMarker(buf []byte) int {
	for i, c := range buf {
		if c == XON || c == XOFF {
			return i
		}
	}
	return -1
}
