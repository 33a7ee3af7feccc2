// Package vfs is the FUSE-facing virtual directory tree: a lazy,
// path-resolved view over a *cache.Cache that the source this was
// distilled from built as a tree of Direntry/File/Directory objects
// whose content() methods were re-evaluated on every lookup. That
// laziness is kept here: every directory's children and every file's
// bytes are recomputed from the cache on each call, so cache-layer
// revision bumps are visible immediately without any invalidation
// wiring in this package.
package vfs

import (
	"os"
	"strings"
	"time"

	"github.com/twpayne/flytecfs/internal/ferr"
)

// namedEntry pairs a path component with the entry it names.
type namedEntry struct {
	name  string
	entry entry
}

// entry is either a dirEntry or a fileEntry.
type entry interface {
	isDir() bool
}

// dirEntry lists its children afresh on every call.
type dirEntry struct {
	children func() ([]namedEntry, error)
}

func (dirEntry) isDir() bool { return true }

// fileEntry renders its full content afresh on every call. unlink and
// rename are nil when the entry does not support that operation.
type fileEntry struct {
	content func() ([]byte, error)
	ctime   time.Time
	mtime   time.Time
	unlink  func() error
	rename  func(newName string) error
}

func (fileEntry) isDir() bool { return false }

// resolve walks path's slash-separated components from root, calling
// children() at each directory level, mirroring the original
// Filesystem.get walker.
func resolve(root dirEntry, path string) (entry, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return root, nil
	}
	var cur entry = root
	for _, name := range strings.Split(path, "/") {
		dir, ok := cur.(dirEntry)
		if !ok {
			return nil, ferr.New(ferr.NotFound, "not a directory")
		}
		children, err := dir.children()
		if err != nil {
			return nil, err
		}
		found := false
		for _, c := range children {
			if c.name == name {
				cur = c.entry
				found = true
				break
			}
		}
		if !found {
			return nil, ferr.New(ferr.NotFound, "no such entry: "+name)
		}
	}
	return cur, nil
}

func trimmed(s string) string {
	return strings.TrimRight(s, " ")
}

var processOwner = struct {
	Uid uint32
	Gid uint32
}{uint32(os.Getuid()), uint32(os.Getgid())}
