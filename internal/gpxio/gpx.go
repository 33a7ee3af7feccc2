package gpxio

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/twpayne/flytecfs/internal/device"
	"github.com/twpayne/flytecfs/internal/ferr"
)

const (
	namespace      = "http://www.topografix.com/GPX/1/1"
	schemaLocation = "http://www.topografix.com/GPX/1/1 http://www.topografix.com/GPX/1/1/gpx.xsd"
	creator        = "https://github.com/twpayne/flytecfs"
)

// Route is a named, ordered sequence of waypoints already resolved
// from routepoints, ready for GPX emission.
type Route struct {
	Name      string
	Waypoints []device.Waypoint
}

// formatCoord renders milliminutes as decimal degrees with up to 8
// fractional digits, trailing zeros (and a bare trailing point)
// stripped.
func formatCoord(milliminutes int) string {
	s := strconv.FormatFloat(float64(milliminutes)/60000.0, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		s = "0"
	}
	return s
}

func waypointTag(w *Writer, name string, wpt device.Waypoint) {
	w.OpenTag(name,
		Attr{"lat", formatCoord(wpt.Lat)},
		Attr{"lon", formatCoord(wpt.Lon)},
	)
	w.OpenTag("name")
	w.Data(strings.TrimRight(wpt.LongName, " "))
	w.CloseTag()
	w.OpenTag("ele")
	w.Data(strconv.Itoa(wpt.Ele))
	w.CloseTag()
	w.CloseTag()
}

// Write emits a GPX 1.1 document containing waypoints as top-level
// <wpt> elements and routes as <rte> elements with resolved <rtept>
// children.
func Write(out io.Writer, waypoints []device.Waypoint, routes []Route) error {
	w := NewWriter()
	w.OpenTag("gpx",
		Attr{"creator", creator},
		Attr{"version", "1.1"},
		Attr{"xmlns", namespace},
		Attr{"xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance"},
		Attr{"xsi:schemaLocation", schemaLocation},
	)
	for _, wpt := range waypoints {
		waypointTag(w, "wpt", wpt)
	}
	for _, route := range routes {
		w.OpenTag("rte")
		w.OpenTag("name")
		w.Data(strings.TrimRight(route.Name, " "))
		w.CloseTag()
		for _, wpt := range route.Waypoints {
			waypointTag(w, "rtept", wpt)
		}
		w.CloseTag()
	}
	if err := w.CloseTag(); err != nil {
		return err
	}
	root, err := w.Close()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(out, "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n"); err != nil {
		return err
	}
	return WriteXML(root, out, "\t")
}

type gpxDoc struct {
	XMLName xml.Name  `xml:"gpx"`
	Wpt     []gpxWpt  `xml:"wpt"`
}

type gpxWpt struct {
	Lat  string  `xml:"lat,attr"`
	Lon  string  `xml:"lon,attr"`
	Ele  *string `xml:"ele"`
	Name *string `xml:"name"`
}

// ParseWaypoints reads a GPX 1.1 document's top-level <wpt> elements
// into Waypoints. GPX has no short-name field, so every short name is
// synthesized by ShortName from the <name> text (the long name, empty
// when absent) and the elevation.
func ParseWaypoints(r io.Reader) ([]device.Waypoint, error) {
	var doc gpxDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, ferr.Wrap(ferr.InvalidPayload, "parse gpx", err)
	}
	waypoints := make([]device.Waypoint, 0, len(doc.Wpt))
	for _, wpt := range doc.Wpt {
		lat, err := strconv.ParseFloat(wpt.Lat, 64)
		if err != nil {
			return nil, ferr.Wrap(ferr.InvalidPayload, "parse gpx lat", err)
		}
		lon, err := strconv.ParseFloat(wpt.Lon, 64)
		if err != nil {
			return nil, ferr.Wrap(ferr.InvalidPayload, "parse gpx lon", err)
		}
		ele := 0
		if wpt.Ele != nil {
			v, err := strconv.ParseFloat(strings.TrimSpace(*wpt.Ele), 64)
			if err == nil {
				ele = int(v + 0.5)
			}
		}
		longName := ""
		if wpt.Name != nil {
			longName = *wpt.Name
		}
		waypoints = append(waypoints, device.Waypoint{
			Lat:       int(lat*60000 + sign(lat)*0.5),
			Lon:       int(lon*60000 + sign(lon)*0.5),
			ShortName: ShortName(longName, ele),
			LongName:  longName,
			Ele:       ele,
		})
	}
	return waypoints, nil
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

// ShortName synthesizes a 6-character short name from the first three
// (uppercased) characters of longName and elevation/10 rounded to a
// zero-padded 3-digit field, the fallback every external waypoint
// parser uses when its source format has no dedicated short-name
// field.
func ShortName(longName string, ele int) string {
	head := longName
	if len(head) > 3 {
		head = head[:3]
	}
	head = strings.ToUpper(head)
	return fmt.Sprintf("%-3s%03d", head, (ele+5)/10)
}
