// Package fuse exposes a vfs session as a read-only FUSE filesystem.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/meigma/pak/vfs"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// It is created if it does not exist.
	Mountpoint string

	// Session provides the files. It must be initialized.
	Session *vfs.Session

	// Mu serializes access to Session. FUSE callbacks run concurrently and
	// a Session is not safe for concurrent use, so any other code touching
	// the session while mounted must hold Mu too. If nil, an internal
	// mutex is created.
	Mu *sync.Mutex

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, logging is disabled.
	Logger *slog.Logger

	view *vfs.FS
}

// Mount mounts the session at the configured mountpoint. The caller must
// call Unmount on the returned server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	if options.Session == nil {
		return nil, errors.New("session is required")
	}
	if options.Session.State() != vfs.StateInitialized {
		return nil, vfs.ErrNotInitialized
	}
	if options.Mu == nil {
		options.Mu = &sync.Mutex{}
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	options.view = options.Session.FS()

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &dirNode{options: &options, name: "."}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "pak",
			Name:       "pak",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("pak FUSE filesystem mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

func (o *Options) stat(name string) (fs.FileInfo, error) {
	o.Mu.Lock()
	defer o.Mu.Unlock()
	return o.view.Stat(name)
}

// dirNode is a directory synthesized from the session's paths.
type dirNode struct {
	gofuse.Inode
	options *Options
	name    string // "." for the root
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) child(name string) string {
	if d.name == "." {
		return name
	}
	return path.Join(d.name, name)
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	full := d.child(name)
	info, err := d.options.stat(full)
	if err != nil {
		return nil, syscall.ENOENT
	}

	if info.IsDir() {
		child := d.NewInode(ctx, &dirNode{options: d.options, name: full}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
		out.Mode = syscall.S_IFDIR | 0o555
		return child, 0
	}

	child := d.NewInode(ctx, &fileNode{options: d.options, name: full}, gofuse.StableAttr{Mode: syscall.S_IFREG})
	fileAttr(&out.Attr, info)
	return child, 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	d.options.Mu.Lock()
	entries, err := d.options.view.ReadDir(d.name)
	d.options.Mu.Unlock()
	if err != nil {
		return nil, syscall.ENOENT
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.IsDir() {
			mode = syscall.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name(), Mode: mode})
	}
	return gofuse.NewListDirStream(out), 0
}

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o555
	return 0
}

// fileNode is a path resolved through the session's override order.
type fileNode struct {
	gofuse.Inode
	options *Options
	name    string
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := n.options.stat(n.name)
	if err != nil {
		return syscall.ENOENT
	}
	fileAttr(&out.Attr, info)
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}

	n.options.Mu.Lock()
	file, err := n.options.Session.LoadSingleFile(n.name)
	n.options.Mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, syscall.ENOENT
		}
		n.options.Logger.Error("read failed", "path", n.name, "error", err)
		return nil, 0, syscall.EIO
	}
	n.options.Logger.Debug("opened file", "path", n.name, "module", int(file.Module))

	// Content is fixed for the lifetime of the handle.
	return &fileHandle{data: file.Data}, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *fileNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h, ok := f.(*fileHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := min(off+int64(len(dest)), int64(len(h.data)))
	return fuse.ReadResultData(h.data[off:end]), 0
}

// fileHandle holds the content loaded on open.
type fileHandle struct {
	data []byte
}

func fileAttr(out *fuse.Attr, info fs.FileInfo) {
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(info.Size()) //nolint:gosec // sizes are non-negative
	out.Blocks = (out.Size + 511) / 512
	mtime := info.ModTime()
	out.SetTimes(nil, &mtime, nil)
}
