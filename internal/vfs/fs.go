package vfs

import (
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/nodefs"
	"github.com/hanwen/go-fuse/v2/pathfs"

	"github.com/twpayne/flytecfs/internal/cache"
	"github.com/twpayne/flytecfs/internal/ferr"
	"github.com/twpayne/flytecfs/internal/logging"
)

// FileSystem adapts a *cache.Cache to pathfs.FileSystem. Every upcall
// resolves the path against a freshly-built root each time; the tree
// itself holds no state, so staleness is entirely the cache's problem.
type FileSystem struct {
	pathfs.FileSystem
	cache *cache.Cache
	log   *logging.Logger
}

var _ pathfs.FileSystem = (*FileSystem)(nil)

// New returns a FileSystem backed by c.
func New(c *cache.Cache, log *logging.Logger) *FileSystem {
	return &FileSystem{
		FileSystem: pathfs.NewDefaultFileSystem(),
		cache:      c,
		log:        log,
	}
}

func (fs *FileSystem) resolve(name string) (entry, fuse.Status) {
	e, err := resolve(root(fs.cache), name)
	if err != nil {
		return nil, toStatus(err)
	}
	return e, fuse.OK
}

// toStatus maps the taxonomy this module uses internally onto the
// errno values FUSE expects on the wire.
func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	return fuse.Status(ferr.ToErrno(err))
}

func (fs *FileSystem) GetAttr(name string, context *fuse.Context) (*fuse.Attr, fuse.Status) {
	e, status := fs.resolve(name)
	if !status.Ok() {
		return nil, status
	}
	attr := &fuse.Attr{Owner: fuse.Owner{Uid: processOwner.Uid, Gid: processOwner.Gid}}
	now := time.Now()
	switch v := e.(type) {
	case dirEntry:
		children, err := v.children()
		if err != nil {
			return nil, toStatus(err)
		}
		subdirs := uint32(0)
		for _, c := range children {
			if c.entry.isDir() {
				subdirs++
			}
		}
		attr.Mode = syscall.S_IFDIR | 0o555
		attr.Nlink = 2 + subdirs
		setAttrTimes(attr, now, now, now)
	case fileEntry:
		content, err := v.content()
		if err != nil {
			return nil, toStatus(err)
		}
		attr.Mode = syscall.S_IFREG | 0o444
		attr.Nlink = 1
		attr.Size = uint64(len(content))
		attr.Blksize = 8
		attr.Blocks = (attr.Size + uint64(attr.Blksize) - 1) / uint64(attr.Blksize)
		ctime, mtime := now, now
		if !v.ctime.IsZero() {
			ctime = v.ctime
		}
		if !v.mtime.IsZero() {
			mtime = v.mtime
		}
		setAttrTimes(attr, mtime, mtime, ctime)
	}
	return attr, fuse.OK
}

func setAttrTimes(attr *fuse.Attr, atime, mtime, ctime time.Time) {
	attr.Atime = uint64(atime.Unix())
	attr.Atimensec = uint32(atime.Nanosecond())
	attr.Mtime = uint64(mtime.Unix())
	attr.Mtimensec = uint32(mtime.Nanosecond())
	attr.Ctime = uint64(ctime.Unix())
	attr.Ctimensec = uint32(ctime.Nanosecond())
}

func (fs *FileSystem) OpenDir(name string, context *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	e, status := fs.resolve(name)
	if !status.Ok() {
		return nil, status
	}
	dir, ok := e.(dirEntry)
	if !ok {
		return nil, fuse.ENOTDIR
	}
	children, err := dir.children()
	if err != nil {
		return nil, toStatus(err)
	}
	result := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		mode := uint32(syscall.S_IFREG)
		if c.entry.isDir() {
			mode = syscall.S_IFDIR
		}
		result = append(result, fuse.DirEntry{Name: c.name, Mode: mode})
	}
	return result, fuse.OK
}

func (fs *FileSystem) Open(name string, flags uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, fuse.EACCES
	}
	e, status := fs.resolve(name)
	if !status.Ok() {
		return nil, status
	}
	f, ok := e.(fileEntry)
	if !ok {
		return nil, fuse.EISDIR
	}
	content, err := f.content()
	if err != nil {
		return nil, toStatus(err)
	}
	return nodefs.NewDataFile(content), fuse.OK
}

func (fs *FileSystem) Unlink(name string, context *fuse.Context) fuse.Status {
	e, status := fs.resolve(name)
	if !status.Ok() {
		return status
	}
	f, ok := e.(fileEntry)
	if !ok || f.unlink == nil {
		return fuse.EPERM
	}
	if err := f.unlink(); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

func (fs *FileSystem) Rename(oldName, newName string, context *fuse.Context) fuse.Status {
	e, status := fs.resolve(oldName)
	if !status.Ok() {
		return status
	}
	f, ok := e.(fileEntry)
	if !ok || f.rename == nil {
		return fuse.EPERM
	}
	target := newName
	if i := lastSlash(target); i >= 0 {
		target = target[i+1:]
	}
	if err := f.rename(target); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
