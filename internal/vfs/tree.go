package vfs

import (
	"archive/zip"
	"bytes"

	"github.com/twpayne/flytecfs/internal/cache"
	"github.com/twpayne/flytecfs/internal/device"
	"github.com/twpayne/flytecfs/internal/ferr"
	"github.com/twpayne/flytecfs/internal/gpxio"
)

// root builds the top-level directory: routes/, settings/, tracklogs/,
// waypoints/.
func root(c *cache.Cache) dirEntry {
	return dirEntry{children: func() ([]namedEntry, error) {
		return []namedEntry{
			{"routes", routesDir(c)},
			{"settings", settingsDir(c)},
			{"tracklogs", tracklogsDir(c)},
			{"waypoints", waypointsDir(c)},
		}, nil
	}}
}

func resolveRoute(c *cache.Cache, route device.Route) (gpxio.Route, error) {
	resolved := gpxio.Route{Name: trimmed(route.Name)}
	for _, rp := range route.Routepoints {
		w, ok, err := c.WaypointGet(rp.LongName)
		if err != nil {
			return gpxio.Route{}, err
		}
		if !ok {
			return gpxio.Route{}, ferr.New(ferr.NotFound, "route references unknown waypoint: "+trimmed(rp.LongName))
		}
		resolved.Waypoints = append(resolved.Waypoints, w)
	}
	return resolved, nil
}

func routesDir(c *cache.Cache) dirEntry {
	return dirEntry{children: func() ([]namedEntry, error) {
		routes, err := c.Routes()
		if err != nil {
			return nil, err
		}
		entries := make([]namedEntry, 0, len(routes)+1)
		for _, route := range routes {
			route := route
			entries = append(entries, namedEntry{
				name: trimmed(route.Name) + ".gpx",
				entry: fileEntry{
					content: func() ([]byte, error) {
						resolved, err := resolveRoute(c, route)
						if err != nil {
							return nil, err
						}
						var buf bytes.Buffer
						if err := gpxio.Write(&buf, nil, []gpxio.Route{resolved}); err != nil {
							return nil, err
						}
						return buf.Bytes(), nil
					},
					unlink: func() error {
						return c.RouteUnlink(trimmed(route.Name))
					},
				},
			})
		}
		entries = append(entries, namedEntry{
			name: "routes.gpx",
			entry: fileEntry{content: func() ([]byte, error) {
				routes, err := c.Routes()
				if err != nil {
					return nil, err
				}
				resolved := make([]gpxio.Route, 0, len(routes))
				for _, route := range routes {
					r, err := resolveRoute(c, route)
					if err != nil {
						return nil, err
					}
					resolved = append(resolved, r)
				}
				var buf bytes.Buffer
				if err := gpxio.Write(&buf, nil, resolved); err != nil {
					return nil, err
				}
				return buf.Bytes(), nil
			}},
		})
		return entries, nil
	}}
}

func waypointsDir(c *cache.Cache) dirEntry {
	return dirEntry{children: func() ([]namedEntry, error) {
		waypoints, err := c.Waypoints()
		if err != nil {
			return nil, err
		}
		entries := make([]namedEntry, 0, len(waypoints)+1)
		for _, w := range waypoints {
			w := w
			entries = append(entries, namedEntry{
				name: trimmed(w.LongName) + ".gpx",
				entry: fileEntry{
					content: func() ([]byte, error) {
						var buf bytes.Buffer
						if err := gpxio.Write(&buf, []device.Waypoint{w}, nil); err != nil {
							return nil, err
						}
						return buf.Bytes(), nil
					},
					unlink: func() error {
						ok, err := c.WaypointUnlink(trimmed(w.LongName))
						if err != nil {
							return err
						}
						if !ok {
							return ferr.New(ferr.PermissionDenied, "waypoint is referenced by a route")
						}
						return nil
					},
				},
			})
		}
		entries = append(entries, namedEntry{
			name: "waypoints.gpx",
			entry: fileEntry{content: func() ([]byte, error) {
				waypoints, err := c.Waypoints()
				if err != nil {
					return nil, err
				}
				var buf bytes.Buffer
				if err := gpxio.Write(&buf, waypoints, nil); err != nil {
					return nil, err
				}
				return buf.Bytes(), nil
			}},
		})
		return entries, nil
	}}
}

func settingsDir(c *cache.Cache) dirEntry {
	return dirEntry{children: func() ([]namedEntry, error) {
		return []namedEntry{
			{".memory", fileEntry{content: func() ([]byte, error) {
				return c.Memory(0, 352)
			}}},
		}, nil
	}}
}

func tracklogsDir(c *cache.Cache) dirEntry {
	return dirEntry{children: func() ([]namedEntry, error) {
		tracklogs, err := c.Tracklogs()
		if err != nil {
			return nil, err
		}
		entries := make([]namedEntry, 0, len(tracklogs)+1)
		for _, t := range tracklogs {
			t := t
			entries = append(entries, namedEntry{
				name: t.UserFilename,
				entry: fileEntry{
					content: func() ([]byte, error) { return c.TracklogBody(t) },
					ctime:   t.DT,
					mtime:   t.DT.Add(t.Duration),
					unlink:  func() error { return c.TracklogUnlink(t.ID) },
					rename:  func(newName string) error { return c.TracklogRename(t.ID, newName) },
				},
			})
		}
		entries = append(entries, namedEntry{
			name: "tracklogs.zip",
			entry: fileEntry{content: func() ([]byte, error) { return zipTracklogs(c) }},
		})
		return entries, nil
	}}
}

func zipTracklogs(c *cache.Cache) ([]byte, error) {
	tracklogs, err := c.Tracklogs()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, t := range tracklogs {
		body, err := c.TracklogBody(t)
		if err != nil {
			return nil, err
		}
		fh := &zip.FileHeader{
			Name:     t.IGCFilename,
			Method:   zip.Deflate,
			Modified: t.DT.Add(t.Duration),
		}
		fh.SetMode(0o444)
		w, err := zw.CreateHeader(fh)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
