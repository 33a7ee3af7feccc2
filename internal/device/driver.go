package device

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/flytecfs/internal/ferr"
	"github.com/twpayne/flytecfs/internal/logging"
	"github.com/twpayne/flytecfs/internal/nmea"
	"github.com/twpayne/flytecfs/internal/serial"
)

const (
	// DefaultTimeout bounds ordinary query exchanges.
	DefaultTimeout = time.Second
	// CommitTimeout bounds PBRCONF/PBRRTX, which reboot or rewrite
	// on-device state.
	CommitTimeout = 4 * time.Second
	// DeleteAllTimeout bounds PBRWPX, the slowest command in the set.
	DeleteAllTimeout = 8 * time.Second
)

var (
	pbrmemrRE = regexp.MustCompile(`^PBRMEMR,([0-9A-F]+),([0-9A-F]+(?:,[0-9A-F]+)*)$`)
	pbrrtsRE1 = regexp.MustCompile(`^PBRRTS,(\d+),(\d+),0+,(.*)$`)
	pbrrtsRE2 = regexp.MustCompile(`^PBRRTS,(\d+),(\d+),(\d+),([^,]*),(.*?)$`)
	pbrsnpRE  = regexp.MustCompile(`^PBRSNP,([^,]*),([^,]*),([^,]*),([^,]*)$`)
	pbrtlRE   = regexp.MustCompile(`^PBRTL,(\d+),(\d+),(\d+)\.(\d+)\.(\d+),(\d+):(\d+):(\d+),(\d+):(\d+):(\d+)$`)
	pbrwpsRE  = regexp.MustCompile(`^PBRWPS,(\d{2})(\d{2})\.(\d{3}),([NS]),(\d{3})(\d{2})\.(\d{3}),([EW]),([^,]*),([^,]*),(\d+)$`)
)

// Transport is the subset of *serial.Transport the driver needs,
// narrowed so tests can substitute a fake.
type Transport interface {
	Write(data []byte) error
	ReadLine(timeout time.Duration) ([]byte, error)
	ReadBlock(timeout time.Duration) ([]byte, error)
	Flush() error
}

var _ Transport = (*serial.Transport)(nil)

// Driver issues PBR* commands over a Transport and parses their
// responses. It is not safe for concurrent use: callers must funnel
// every call through a single goroutine (internal/proxy does this).
type Driver struct {
	t   Transport
	log *logging.Logger
	snp *SNP
}

// New wraps t. log may be nil, in which case protocol exchanges are
// not logged.
func New(t Transport, log *logging.Logger) *Driver {
	if log == nil {
		log = logging.DefaultLogger()
	}
	return &Driver{t: t, log: log}
}

// exchange implements the send/XOFF/payload.../XON state machine
// common to every PBR command. It returns the raw decoded payload of
// each line (for line-framed commands) or block (for block-framed
// commands), depending on useBlocks.
func (d *Driver) exchange(command string, timeout time.Duration, useBlocks bool) ([][]byte, error) {
	frame, err := nmea.Encode([]byte(command))
	if err != nil {
		return nil, err
	}
	d.log.Trace("write command", "command", command)
	if err := d.t.Write(frame); err != nil {
		d.t.Flush()
		return nil, err
	}

	marker, err := d.t.ReadLine(timeout)
	if err != nil {
		d.t.Flush()
		return nil, err
	}
	if len(marker) != 1 || marker[0] != serial.XOFF {
		d.t.Flush()
		return nil, ferr.New(ferr.MissingXoff, "expected XOFF after command")
	}

	var payloads [][]byte
	for {
		var chunk []byte
		if useBlocks {
			chunk, err = d.t.ReadBlock(timeout)
		} else {
			chunk, err = d.t.ReadLine(timeout)
		}
		if err != nil {
			d.t.Flush()
			return nil, err
		}
		if len(chunk) == 1 && chunk[0] == serial.XON {
			return payloads, nil
		}
		if useBlocks {
			payloads = append(payloads, chunk)
			continue
		}
		payload, err := nmea.Decode(chunk)
		if err != nil {
			d.t.Flush()
			return nil, err
		}
		payloads = append(payloads, payload)
	}
}

// exchangeLines runs exchange in line mode.
func (d *Driver) exchangeLines(command string, timeout time.Duration) ([][]byte, error) {
	return d.exchange(command, timeout, false)
}

// exchangeBlocks runs exchange in block mode, for opaque binary
// payloads such as tracklog bodies.
func (d *Driver) exchangeBlocks(command string, timeout time.Duration) ([][]byte, error) {
	return d.exchange(command, timeout, true)
}

// none expects zero response lines.
func (d *Driver) none(command string, timeout time.Duration) error {
	lines, err := d.exchangeLines(command, timeout)
	if err != nil {
		return err
	}
	if len(lines) != 0 {
		return ferr.New(ferr.UnexpectedLine, "expected no response lines")
	}
	return nil
}

// one expects exactly one response line.
func (d *Driver) one(command string, timeout time.Duration) ([]byte, error) {
	lines, err := d.exchangeLines(command, timeout)
	if err != nil {
		return nil, err
	}
	if len(lines) != 1 {
		return nil, ferr.New(ferr.UnexpectedLine, "expected exactly one response line")
	}
	return lines[0], nil
}

// PBRSNP returns the device identity, reading it from the device only
// once per Driver lifetime.
func (d *Driver) PBRSNP() (*SNP, error) {
	if d.snp != nil {
		return d.snp, nil
	}
	line, err := d.one("PBRSNP,", DefaultTimeout)
	if err != nil {
		return nil, err
	}
	m := pbrsnpRE.FindSubmatch(line)
	if m == nil {
		d.t.Flush()
		return nil, ferr.New(ferr.UnexpectedLine, "malformed PBRSNP response")
	}
	d.snp = &SNP{
		Instrument:      string(m[1]),
		PilotName:       string(m[2]),
		SerialNumber:    string(m[3]),
		SoftwareVersion: string(m[4]),
	}
	return d.snp, nil
}

// PBRCONF commits pending configuration changes / reboots the device.
func (d *Driver) PBRCONF() error {
	return d.none("PBRCONF,", CommitTimeout)
}

// PBRMEMR reads length bytes of parameter memory starting at address.
func (d *Driver) PBRMEMR(address, length int) ([]byte, error) {
	result := make([]byte, 0, length)
	first := address
	last := address + length
	for first < last {
		cmd := "PBRMEMR," + hex4(first)
		line, err := d.one(cmd, DefaultTimeout)
		if err != nil {
			return nil, err
		}
		m := pbrmemrRE.FindSubmatch(line)
		if m == nil {
			return nil, ferr.New(ferr.UnexpectedLine, "malformed PBRMEMR response")
		}
		echoed, err := strconv.ParseInt(string(m[1]), 16, 64)
		if err != nil || int(echoed) != first {
			return nil, ferr.New(ferr.AddressMismatch, "PBRMEMR echoed address mismatch")
		}
		fields := strings.Split(string(m[2]), ",")
		data := make([]byte, 0, len(fields))
		for _, f := range fields {
			b, err := strconv.ParseUint(f, 16, 8)
			if err != nil {
				return nil, ferr.New(ferr.UnexpectedLine, "malformed PBRMEMR data byte")
			}
			data = append(data, byte(b))
		}
		result = append(result, data...)
		first += len(data)
	}
	if len(result) > length {
		result = result[:length]
	}
	return result, nil
}

func hex4(n int) string {
	s := strconv.FormatInt(int64(n), 16)
	for len(s) < 4 {
		s = "0" + s
	}
	return strings.ToUpper(s)
}

// PBRRTS lists the device's routes.
func (d *Driver) PBRRTS() ([]Route, error) {
	lines, err := d.exchangeLines("PBRRTS,", DefaultTimeout)
	if err != nil {
		return nil, err
	}
	var routes []Route
	var index, count int
	var name string
	var routepoints []Routepoint
	for _, raw := range lines {
		line := string(raw)
		if m := pbrrtsRE1.FindStringSubmatch(line); m != nil {
			index, _ = strconv.Atoi(m[1])
			count, _ = strconv.Atoi(m[2])
			name = m[3]
			if count == 1 {
				routes = append(routes, Route{Index: index, Name: name})
				continue
			}
			routepoints = nil
			continue
		}
		m := pbrrtsRE2.FindStringSubmatch(line)
		if m == nil {
			return nil, ferr.New(ferr.UnexpectedLine, "malformed PBRRTS response: "+line)
		}
		routepointIndex, _ := strconv.Atoi(m[3])
		routepoints = append(routepoints, Routepoint{ShortName: m[4], LongName: m[5]})
		if routepointIndex == count-1 {
			routes = append(routes, Route{Index: index, Name: name, Routepoints: routepoints})
		}
	}
	return routes, nil
}

// PBRRTX deletes the named route, or every route if name is empty.
func (d *Driver) PBRRTX(name string) error {
	var cmd string
	if name != "" {
		cmd = "PBRRTX," + padRight(name, 17)
	} else {
		cmd = "PBRRTX,"
	}
	return d.none(cmd, CommitTimeout)
}

// PBRTL lists the device's tracklog index. IGC filenames are not
// assigned here; use SiblingIndex/IGCFilename once the full set of
// relevant datetimes (device plus cache directory) is known.
func (d *Driver) PBRTL() ([]TracklogHeader, error) {
	lines, err := d.exchangeLines("PBRTL,", DefaultTimeout)
	if err != nil {
		return nil, err
	}
	headers := make([]TracklogHeader, 0, len(lines))
	for _, raw := range lines {
		m := pbrtlRE.FindSubmatch(raw)
		if m == nil {
			return nil, ferr.New(ferr.UnexpectedLine, "malformed PBRTL response")
		}
		atoi := func(b []byte) int { n, _ := strconv.Atoi(string(b)); return n }
		count, index := atoi(m[1]), atoi(m[2])
		day, month, year := atoi(m[3]), atoi(m[4]), atoi(m[5])
		hour, minute, second := atoi(m[6]), atoi(m[7]), atoi(m[8])
		dt := time.Date(2000+year, time.Month(month), day, hour, minute, second, 0, time.UTC)
		durH, durM, durS := atoi(m[9]), atoi(m[10]), atoi(m[11])
		duration := time.Duration(durH)*time.Hour + time.Duration(durM)*time.Minute + time.Duration(durS)*time.Second
		headers = append(headers, TracklogHeader{Count: count, Index: index, DT: dt, Duration: duration})
	}
	return headers, nil
}

// PBRTR downloads the tracklog body (raw IGC bytes) for the tracklog
// at the given device index.
func (d *Driver) PBRTR(index int) ([]byte, error) {
	blocks, err := d.exchangeBlocks("PBRTR,"+pad2(index), DeleteAllTimeout)
	if err != nil {
		return nil, err
	}
	return joinBlocks(blocks), nil
}

// PBRIGC downloads the current (in-progress) session as IGC bytes.
func (d *Driver) PBRIGC() ([]byte, error) {
	blocks, err := d.exchangeBlocks("PBRIGC,", DeleteAllTimeout)
	if err != nil {
		return nil, err
	}
	return joinBlocks(blocks), nil
}

func joinBlocks(blocks [][]byte) []byte {
	n := 0
	for _, b := range blocks {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}

func pad2(n int) string {
	s := strconv.Itoa(n)
	if len(s) < 2 {
		s = "0" + s
	}
	return s
}

// PBRWPS lists the device's waypoints.
func (d *Driver) PBRWPS() ([]Waypoint, error) {
	lines, err := d.exchangeLines("PBRWPS,", DefaultTimeout)
	if err != nil {
		return nil, err
	}
	waypoints := make([]Waypoint, 0, len(lines))
	for _, raw := range lines {
		m := pbrwpsRE.FindSubmatch(raw)
		if m == nil {
			return nil, ferr.New(ferr.UnexpectedLine, "malformed PBRWPS response")
		}
		atoi := func(b []byte) int { n, _ := strconv.Atoi(string(b)); return n }
		lat := 60000*atoi(m[1]) + 1000*atoi(m[2]) + atoi(m[3])
		if string(m[4]) == "S" {
			lat = -lat
		}
		lon := 60000*atoi(m[5]) + 1000*atoi(m[6]) + atoi(m[7])
		if string(m[8]) == "W" {
			lon = -lon
		}
		waypoints = append(waypoints, Waypoint{
			Lat:       lat,
			Lon:       lon,
			ShortName: string(m[9]),
			LongName:  string(m[10]),
			Ele:       atoi(m[11]),
		})
	}
	return waypoints, nil
}

// PBRWPR creates or updates a waypoint.
func (d *Driver) PBRWPR(w Waypoint) error {
	longName := nmea.ScrubPrintable(w.LongName)
	if len(longName) > 17 {
		longName = longName[:17]
	}
	cmd := "PBRWPR," + w.NMEA() + ",," + padRight(longName, 17) + "," + pad4(w.Ele)
	return d.none(cmd, DefaultTimeout)
}

// PBRWPX deletes the named waypoint, or every waypoint if longName is
// empty.
func (d *Driver) PBRWPX(longName string) error {
	var cmd string
	if longName != "" {
		cmd = "PBRWPX," + padRight(nmea.ScrubPrintable(longName), 17)
	} else {
		cmd = "PBRWPX,"
	}
	return d.none(cmd, DeleteAllTimeout)
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func pad4(n int) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.Itoa(n)
	for len(s) < 4 {
		s = "0" + s
	}
	if neg {
		s = "-" + s
	}
	return s
}
