package vfs

import (
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/nodefs"
	"github.com/hanwen/go-fuse/v2/pathfs"

	"github.com/twpayne/flytecfs/internal/cache"
	"github.com/twpayne/flytecfs/internal/logging"
)

// Mount wires a Cache into a FUSE server rooted at mountpoint. The
// returned server is not yet serving; call Serve (optionally in its
// own goroutine) to start handling upcalls, and Unmount to tear down.
func Mount(mountpoint string, c *cache.Cache, log *logging.Logger) (*fuse.Server, error) {
	fs := New(c, log)
	nfs := pathfs.NewPathNodeFs(fs, nil)
	conn := nodefs.NewFileSystemConnector(nfs.Root(), nodefs.NewOptions())
	opts := &fuse.MountOptions{
		Name:       "flytecfs",
		FsName:     "flytecfs",
		SingleThreaded: false,
		Debug:      false,
	}
	server, err := fuse.NewServer(conn.RawFS(), mountpoint, opts)
	if err != nil {
		return nil, err
	}
	return server, nil
}
