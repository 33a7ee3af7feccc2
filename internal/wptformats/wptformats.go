// Package wptformats parses the assorted plain-text waypoint formats
// GPS software in the wild actually produces: OziExplorer's waypoint
// CSV, two variants of Compe-GPS's "W" record, and FormatGEO's DMS
// line. Each source line is tried against every format in turn; the
// first match wins.
package wptformats

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/twpayne/flytecfs/internal/device"
)

var (
	oziRE = regexp.MustCompile(
		`^\s*\d+\s*,` +
			`\s*(\S{3})(\d{3})\s*,` +
			`\s*(-?\d+\.\d+)\s*,` +
			`\s*(-?\d+\.\d+)\s*,` +
			`(?:\s*[^,]*\s*,){6}` +
			`([^,]*)`)

	wRecordRE = regexp.MustCompile(
		`^W\s+` +
			`(\S{3})(.{3})\s+` +
			`([NS])(\d+\.\d+)\s+` +
			`([EW])(\d+\.\d+)\s+` +
			`\S+\s+` +
			`\S+\s+` +
			`(-?\d+)\s+` +
			`(.*)`)

	wRecordDegreeRE = regexp.MustCompile(
		`^W\s+` +
			`(\S{3})(\d+)\s+` +
			`A\s+` +
			`(\d+\.\d+)\xba([NS])\s+` +
			`(\d+\.\d+)\xba([EW])\s+` +
			`\S+\s+` +
			`\S+\s+` +
			`(-?\d+\.\d+)\s+` +
			`(.*)`)

	formatGEORE = regexp.MustCompile(
		`^(\S{3})(\d{3})\s+` +
			`([NS])\s+(\d\d)\s+(\d\d)\s+(\d\d),(\d\d)\s+` +
			`([EW])\s+(\d{3})\s+(\d\d)\s+(\d\d),(\d\d)\s+` +
			`(\d+)\s+` +
			`(.*)`)
)

// ParseAll reads every waypoint it can recognize from r, skipping
// lines that match none of the known formats.
func ParseAll(r io.Reader) ([]device.Waypoint, error) {
	var waypoints []device.Waypoint
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if w, ok := parseLine(line); ok {
			waypoints = append(waypoints, w)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return waypoints, nil
}

func parseLine(line string) (device.Waypoint, bool) {
	if m := oziRE.FindStringSubmatch(line); m != nil {
		return parseOzi(m), true
	}
	if m := wRecordRE.FindStringSubmatch(line); m != nil {
		return parseWRecord(m), true
	}
	degreeLine := line
	if !utf8.ValidString(line) {
		// regexp matches runes, so a raw Latin-1 0xBA byte is re-encoded
		// as U+00BA before the degree-sign pattern is tried.
		degreeLine = strings.ReplaceAll(line, "\xba", "º")
	}
	if m := wRecordDegreeRE.FindStringSubmatch(degreeLine); m != nil {
		return parseWRecordDegree(m), true
	}
	if m := formatGEORE.FindStringSubmatch(line); m != nil {
		return parseFormatGEO(m), true
	}
	return device.Waypoint{}, false
}

func round60000(deg float64) int {
	if deg >= 0 {
		return int(deg*60000 + 0.5)
	}
	return -int(-deg*60000 + 0.5)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// parseOzi handles OziExplorer's numbered waypoint CSV: index, a
// 3-letter/3-digit code (code = elevation/10), lat, lon, six
// don't-care fields, and a description.
func parseOzi(m []string) device.Waypoint {
	lat := round60000(atof(m[3]))
	lon := round60000(atof(m[4]))
	ele := 10 * atoi(m[2])
	return device.Waypoint{
		Lat:       lat,
		Lon:       lon,
		ShortName: m[1] + m[2],
		LongName:  m[1] + " " + m[5],
		Ele:       ele,
	}
}

// parseWRecord handles Compe-GPS's "W" record with decimal-degree
// lat/lon and an elevation field that degrades to code-derived
// elevation (or zero) on the sentinel value -9999.
func parseWRecord(m []string) device.Waypoint {
	lat := round60000(atof(m[4]))
	if m[3] == "S" {
		lat = -lat
	}
	lon := round60000(atof(m[6]))
	if m[5] == "W" {
		lon = -lon
	}
	longName := m[1] + " " + m[8]
	ele := atoi(m[7])
	if ele == -9999 {
		if code := m[2]; isAllDigits(code) {
			ele = 10 * atoi(code)
		} else {
			ele = 0
		}
	}
	shortName := m[1] + pad3((ele+5)/10)
	return device.Waypoint{Lat: lat, Lon: lon, ShortName: shortName, LongName: longName, Ele: ele}
}

// parseWRecordDegree handles the variant of Compe-GPS's "W" record
// that spells out lat/lon with a degree sign and a fractional-degree
// elevation field.
func parseWRecordDegree(m []string) device.Waypoint {
	lat := round60000(atof(m[3]))
	if m[4] == "S" {
		lat = -lat
	}
	lon := round60000(atof(m[5]))
	if m[6] == "W" {
		lon = -lon
	}
	longName := m[8]
	ele := int(atof(m[7]))
	if ele == -9999 {
		ele = 10 * atoi(m[2])
	}
	shortName := padRight3(m[1]) + pad3((ele+5)/10)
	return device.Waypoint{Lat: lat, Lon: lon, ShortName: shortName, LongName: longName, Ele: ele}
}

// parseFormatGEO handles FormatGEO's degrees-minutes-seconds.centiseconds
// line.
func parseFormatGEO(m []string) device.Waypoint {
	lat := round60000(dms(m[4], m[5], m[6], m[7]))
	if m[3] == "S" {
		lat = -lat
	}
	lon := round60000(dms(m[9], m[10], m[11], m[12]))
	if m[8] == "W" {
		lon = -lon
	}
	ele := atoi(m[13])
	longName := m[1] + " " + m[14]
	shortName := m[1] + pad3((ele+5)/10)
	return device.Waypoint{Lat: lat, Lon: lon, ShortName: shortName, LongName: longName, Ele: ele}
}

func dms(deg, min, sec, csec string) float64 {
	return float64(atoi(deg)) + float64(atoi(min))/60.0 + float64(atoi(sec))/3600.0 + float64(atoi(csec))/360000.0
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pad3(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}

func padRight3(s string) string {
	for len(s) < 3 {
		s += " "
	}
	return s
}
