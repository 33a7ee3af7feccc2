package cache

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/twpayne/flytecfs/internal/device"
)

// Tracklog is a TracklogHeader enriched with its derived stable id,
// canonical IGC filename, and user-chosen filename (falling back to
// the canonical one).
type Tracklog struct {
	device.TracklogHeader
	ID           string
	IGCFilename  string
	UserFilename string
}

// Tracklogs returns the current tracklog snapshot: the device index,
// refreshed on revision mismatch, with sibling-index/IGC filenames
// computed over the union of device-reported and cache-directory
// observed datetimes, hidden tracklogs filtered out, and renamed
// filenames applied.
func (c *Cache) Tracklogs() ([]Tracklog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracklogs == nil || c.tracklogsFresh != c.tracklogsRev {
		headers, err := c.proxy.TL()
		if err != nil {
			return nil, err
		}
		hidden := c.hiddenSetLocked()

		headerIDs := make(map[string]bool, len(headers))
		allDTs := make([]time.Time, 0, len(headers))
		for _, h := range headers {
			headerIDs[h.ID()] = true
			allDTs = append(allDTs, h.DT)
		}
		for _, dt := range c.cacheDirDatetimesLocked() {
			if !headerIDs[dt.UTC().Format("2006-01-02T15:04:05Z")] {
				allDTs = append(allDTs, dt)
			}
		}
		indices := device.SiblingIndex(allDTs)

		tracklogs := make([]Tracklog, 0, len(headers))
		for _, h := range headers {
			id := h.ID()
			if hidden[id] {
				continue
			}
			igcName := device.IGCFilename(h.DT, c.mfg, c.snp.SerialNumber, indices[h.DT])
			userName := c.renameTargetLocked(id)
			if userName == "" {
				userName = igcName
			}
			tracklogs = append(tracklogs, Tracklog{
				TracklogHeader: h,
				ID:             id,
				IGCFilename:    igcName,
				UserFilename:   userName,
			})
		}
		c.tracklogs = tracklogs
		c.tracklogsFresh = c.tracklogsRev
	}
	return c.tracklogs, nil
}

// hiddenSetLocked reads the hidden-marker directory. Caller holds c.mu.
func (c *Cache) hiddenSetLocked() map[string]bool {
	hidden := map[string]bool{}
	for _, name := range sortedFileNames(c.hiddenDir()) {
		hidden[name] = true
	}
	return hidden
}

// cacheDirDatetimesLocked parses the ids of every cached tracklog body
// into a datetime, so a tracklog deleted from the device but still
// cached on disk keeps contributing to sibling-index numbering.
func (c *Cache) cacheDirDatetimesLocked() []time.Time {
	var dts []time.Time
	for _, name := range sortedFileNames(c.contentsDir()) {
		dt, err := time.Parse("2006-01-02T15:04:05Z", name)
		if err != nil {
			continue
		}
		dts = append(dts, dt)
	}
	return dts
}

// renameTargetLocked reads the rename symlink for id, if any. Caller
// holds c.mu.
func (c *Cache) renameTargetLocked(id string) string {
	target, err := os.Readlink(filepath.Join(c.renameDir(), id))
	if err != nil {
		return ""
	}
	return target
}

// TracklogBody returns the IGC bytes for t, using the in-process
// cache, then the on-disk gzip cache, and finally the device itself
// as a last resort — writing through to disk on that path. Any
// on-disk IO failure is swallowed; the device bytes are still
// returned.
func (c *Cache) TracklogBody(t Tracklog) ([]byte, error) {
	c.mu.Lock()
	if body, ok := c.bodies[t.ID]; ok {
		c.mu.Unlock()
		return body, nil
	}
	c.mu.Unlock()

	contentPath := filepath.Join(c.contentsDir(), t.ID)
	if body, err := readGzipFile(contentPath); err == nil {
		c.mu.Lock()
		c.bodies[t.ID] = body
		c.mu.Unlock()
		return body, nil
	}

	body, err := c.proxy.TR(t.Index)
	if err != nil {
		return nil, err
	}

	// Best-effort: cache write failures never fail the read.
	_ = writeAtomic(c.contentsDir(), contentPath, func(f *os.File) error {
		gw, err := gzip.NewWriterLevel(f, gzip.BestCompression)
		if err != nil {
			return err
		}
		if _, err := gw.Write(body); err != nil {
			gw.Close()
			return err
		}
		return gw.Close()
	})

	c.mu.Lock()
	c.bodies[t.ID] = body
	c.mu.Unlock()
	return body, nil
}

func readGzipFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, gr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TracklogRename sets the user-chosen filename for the tracklog with
// the given stable id, persisted as a symlink.
func (c *Cache) TracklogRename(id, newName string) error {
	if err := symlinkAtomic(c.renameDir(), filepath.Join(c.renameDir(), id), newName); err != nil {
		return err
	}
	c.mu.Lock()
	c.bumpTracklogs(id)
	c.mu.Unlock()
	return nil
}

// TracklogUnlink hides a tracklog from future enumeration. There is
// no device command to delete a tracklog, so this records a local
// marker instead of contacting the device; the tracklog's datetime
// still contributes to sibling-index numbering for other tracklogs on
// the same date via cacheDirDatetimesLocked/Tracklogs.
func (c *Cache) TracklogUnlink(id string) error {
	if err := writeAtomic(c.hiddenDir(), filepath.Join(c.hiddenDir(), id), func(f *os.File) error {
		return nil
	}); err != nil {
		return err
	}
	c.mu.Lock()
	c.bumpTracklogs(id)
	c.mu.Unlock()
	return nil
}
