// Package cache is the high-level, revision-tracked view over the
// proxy: lazy in-process snapshots of routes/waypoints/tracklogs, the
// on-disk gzipped tracklog body cache, rename persistence, and the
// memory pseudo-file page cache.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/twpayne/flytecfs/internal/device"
	"github.com/twpayne/flytecfs/internal/ferr"
	"github.com/twpayne/flytecfs/internal/logging"
	"github.com/twpayne/flytecfs/internal/proxy"
)

// Proxy is the subset of *proxy.Proxy the cache dispatches to.
type Proxy interface {
	SNP() (*device.SNP, error)
	RTS() ([]device.Route, error)
	RTX(name string) error
	TL() ([]device.TracklogHeader, error)
	TR(index int) ([]byte, error)
	WPS() ([]device.Waypoint, error)
	WPR(w device.Waypoint) error
	WPX(longName string) error
	MemR(address, length int) ([]byte, error)
}

var _ Proxy = (*proxy.Proxy)(nil)

// Cache may be used from multiple goroutines: it holds one mutex
// internally, taken around every access to its mutable state. SNP and
// Manufacturer return values fixed at construction and take no lock.
type Cache struct {
	proxy Proxy
	log   *logging.Logger

	baseDir string // <cache root>/<instrument>/<serial>

	mu sync.Mutex

	snp *device.SNP
	mfg device.Manufacturer

	routes       []device.Route
	routesRev    int
	routesFresh  int
	fineRevs     map[string]int

	waypoints       []device.Waypoint
	waypointsByName map[string]device.Waypoint
	waypointsRev    int
	waypointsFresh  int

	tracklogs      []Tracklog
	tracklogsRev   int
	tracklogsFresh int

	bodies map[string][]byte // in-process tracklog body cache, keyed by id

	memPages map[int][]byte // page start address -> bytes actually returned
}

// Option configures New.
type Option func(*Cache)

// WithLogger attaches a logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// New builds a Cache rooted at <cacheRoot>/<instrument>/<serial>,
// reading the SNP (and thus the subdirectory name) once up front.
func New(p Proxy, cacheRoot string, opts ...Option) (*Cache, error) {
	c := &Cache{
		proxy:    p,
		log:      logging.DefaultLogger(),
		fineRevs: make(map[string]int),
		bodies:   make(map[string][]byte),
		memPages: make(map[int][]byte),
	}
	for _, opt := range opts {
		opt(c)
	}

	snp, err := p.SNP()
	if err != nil {
		return nil, err
	}
	c.snp = snp
	c.mfg = device.ManufacturerOf(snp.Instrument)
	c.baseDir = filepath.Join(cacheRoot, snp.Instrument, snp.SerialNumber)
	return c, nil
}

func (c *Cache) tracklogsDir() string       { return filepath.Join(c.baseDir, "tracklogs") }
func (c *Cache) contentsDir() string        { return filepath.Join(c.tracklogsDir(), "contents") }
func (c *Cache) renameDir() string          { return filepath.Join(c.tracklogsDir(), "rename") }
func (c *Cache) hiddenDir() string          { return filepath.Join(c.tracklogsDir(), "hidden") }

// SNP returns the device identity recorded at cache construction.
func (c *Cache) SNP() *device.SNP {
	return c.snp
}

// Manufacturer returns the manufacturer tuple derived from the SNP.
func (c *Cache) Manufacturer() device.Manufacturer {
	return c.mfg
}

func (c *Cache) bumpRoutes(name string) {
	c.routesRev++
	if name != "" {
		c.fineRevs["route_"+name]++
	}
}

func (c *Cache) bumpWaypoints(longName string) {
	c.waypointsRev++
	if longName != "" {
		c.fineRevs["waypoint_"+longName]++
	}
}

func (c *Cache) bumpTracklogs(id string) {
	c.tracklogsRev++
	if id != "" {
		c.fineRevs["tracklog_"+id]++
	}
}

// Routes returns the current route snapshot, refetching from the
// device if a mutation has bumped the routes revision since the
// snapshot was taken.
func (c *Cache) Routes() ([]device.Route, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.routes == nil || c.routesFresh != c.routesRev {
		routes, err := c.proxy.RTS()
		if err != nil {
			return nil, err
		}
		c.routes = routes
		c.routesFresh = c.routesRev
	}
	return c.routes, nil
}

// RouteUnlink deletes a route by name. The reserved index-0 route
// cannot be deleted.
func (c *Cache) RouteUnlink(name string) error {
	routes, err := c.Routes()
	if err != nil {
		return err
	}
	for _, r := range routes {
		if strings.TrimRight(r.Name, " ") == name {
			if r.Index == 0 {
				return ferr.New(ferr.PermissionDenied, "cannot delete the reserved route")
			}
			break
		}
	}
	if err := c.proxy.RTX(name); err != nil {
		return err
	}
	c.mu.Lock()
	c.bumpRoutes(name)
	c.mu.Unlock()
	return nil
}

// Waypoints returns the current waypoint snapshot.
func (c *Cache) Waypoints() ([]device.Waypoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waypointsLocked()
}

func (c *Cache) waypointsLocked() ([]device.Waypoint, error) {
	if c.waypoints == nil || c.waypointsFresh != c.waypointsRev {
		waypoints, err := c.proxy.WPS()
		if err != nil {
			return nil, err
		}
		c.waypoints = waypoints
		c.waypointsByName = make(map[string]device.Waypoint, len(waypoints))
		for _, w := range waypoints {
			c.waypointsByName[strings.TrimRight(w.LongName, " ")] = w
		}
		c.waypointsFresh = c.waypointsRev
	}
	return c.waypoints, nil
}

// WaypointGet resolves a waypoint by long name, used when rendering a
// route's routepoints to full waypoints.
func (c *Cache) WaypointGet(longName string) (device.Waypoint, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.waypointsLocked(); err != nil {
		return device.Waypoint{}, false, err
	}
	w, ok := c.waypointsByName[strings.TrimRight(longName, " ")]
	return w, ok, nil
}

// WaypointCreate uploads a new or updated waypoint.
func (c *Cache) WaypointCreate(w device.Waypoint) error {
	const maxLat = 60000 * 90
	const maxLon = 60000 * 180
	if w.Lat <= -maxLat || w.Lat >= maxLat {
		return ferr.New(ferr.InvalidPayload, "latitude out of range")
	}
	if w.Lon <= -maxLon || w.Lon >= maxLon {
		return ferr.New(ferr.InvalidPayload, "longitude out of range")
	}
	if err := c.proxy.WPR(w); err != nil {
		return err
	}
	c.mu.Lock()
	c.bumpWaypoints(strings.TrimRight(w.LongName, " "))
	c.mu.Unlock()
	return nil
}

// WaypointUnlink deletes a waypoint by long name, refusing (without
// making any device call) if a current route references it.
func (c *Cache) WaypointUnlink(longName string) (bool, error) {
	longName = strings.TrimRight(longName, " ")
	routes, err := c.Routes()
	if err != nil {
		return false, err
	}
	for _, r := range routes {
		for _, rp := range r.Routepoints {
			if strings.TrimRight(rp.LongName, " ") == longName {
				return false, nil
			}
		}
	}
	if err := c.proxy.WPX(longName); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.bumpWaypoints(longName)
	c.mu.Unlock()
	return true, nil
}

// Revision returns the coarse revision counter for kind ("routes",
// "waypoints", "tracklogs") and the fine counter for a named entity
// (kind + "_" + name), mainly for tests asserting monotonicity.
func (c *Cache) Revision(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case "routes":
		return c.routesRev
	case "waypoints":
		return c.waypointsRev
	case "tracklogs":
		return c.tracklogsRev
	default:
		return c.fineRevs[kind]
	}
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func writeAtomic(dir, finalPath string, write func(f *os.File) error) error {
	if err := ensureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func symlinkAtomic(dir, finalPath, target string) error {
	if err := ensureDir(dir); err != nil {
		return err
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf(".tmp-link-%d", os.Getpid()))
	os.Remove(tmpPath)
	if err := os.Symlink(target, tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// sortedFileNames returns the base names present in dir, or nil if
// dir does not exist.
func sortedFileNames(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
