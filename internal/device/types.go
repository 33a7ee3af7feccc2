// Package device implements the PBR* command family spoken by
// Flytec/Brauniger instruments: it issues NMEA sentences over a
// Transport, parses the XOFF-bracketed responses, and decodes them
// into waypoints, routes, tracklog headers, and memory pages.
package device

import (
	"fmt"
	"time"
)

// SNP is the device identity record, read once per mount and cached
// for the driver's lifetime.
type SNP struct {
	Instrument      string
	PilotName       string
	SerialNumber    string
	SoftwareVersion string
}

// Manufacturer is the (letter, 3-letter code, vendor name) tuple
// derived from an SNP's instrument field.
type Manufacturer struct {
	Letter string
	Code   string
	Vendor string
}

var unknownManufacturer = Manufacturer{"X", "XXX", "Unknown"}

var manufacturerTable = map[string]Manufacturer{
	"COMPEO":     {"B", "XBR", "Brauniger"},
	"COMPEO+":    {"B", "XBR", "Brauniger"},
	"COMPETINO":  {"B", "XBR", "Brauniger"},
	"COMPETINO+": {"B", "XBR", "Brauniger"},
	"GALILEO":    {"B", "XBR", "Brauniger"},
	"5020":       {"F", "FLY", "Flytec"},
	"5030":       {"F", "FLY", "Flytec"},
	"6020":       {"F", "FLY", "Flytec"},
	"6030":       {"F", "FLY", "Flytec"},
}

// ManufacturerOf maps an SNP instrument string to its manufacturer
// tuple, defaulting to an explicit "unknown" tuple for instruments
// outside the closed table.
func ManufacturerOf(instrument string) Manufacturer {
	if m, ok := manufacturerTable[instrument]; ok {
		return m
	}
	return unknownManufacturer
}

// Routepoint references a Waypoint by long name; it never stands
// alone outside a Route.
type Routepoint struct {
	ShortName string
	LongName  string
}

// Route is a named, ordered sequence of routepoints. Index 0 is the
// reserved/competition route and cannot be deleted.
type Route struct {
	Index       int
	Name        string
	Routepoints []Routepoint
}

// Waypoint is a device or externally sourced waypoint record.
// Lat/Lon are signed milliminutes (60000 = 1 degree).
type Waypoint struct {
	Lat       int
	Lon       int
	ShortName string
	LongName  string
	Ele       int
}

// NMEA renders the waypoint's coordinates in the DDMM.mmm,H /
// DDDMM.mmm,H form PBRWPR expects.
func (w Waypoint) NMEA() string {
	latHemi := "N"
	lat := w.Lat
	if lat < 0 {
		latHemi = "S"
		lat = -lat
	}
	latDeg, latRem := lat/60000, lat%60000
	latMin, latMMin := latRem/1000, latRem%1000

	lonHemi := "E"
	lon := w.Lon
	if lon < 0 {
		lonHemi = "W"
		lon = -lon
	}
	lonDeg, lonRem := lon/60000, lon%60000
	lonMin, lonMMin := lonRem/1000, lonRem%1000

	return fmt.Sprintf("%02d%02d.%03d,%s,%03d%02d.%03d,%s",
		latDeg, latMin, latMMin, latHemi,
		lonDeg, lonMin, lonMMin, lonHemi)
}

// TracklogHeader is one entry of the device's tracklog index. The IGC
// filename is not computed here: it depends on manufacturer/serial
// context and on sibling tracklogs, so it is derived separately by
// SiblingIndex and IGCFilename.
type TracklogHeader struct {
	Count    int
	Index    int
	DT       time.Time
	Duration time.Duration
}

// ID is the stable identifier used to key the on-disk cache: the
// UTC start time in RFC3339 form.
func (h TracklogHeader) ID() string {
	return h.DT.UTC().Format("2006-01-02T15:04:05Z")
}
