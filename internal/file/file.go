// Package file provides the fs.File, fs.FileInfo and fs.DirEntry types shared
// by the archive and the layered filesystem views.
package file

import (
	"io"
	"io/fs"
	"time"

	"github.com/meigma/pak/internal/pathutil"
)

// Source is the random-access content behind a File, typically an
// *io.SectionReader over an archive or a *bytes.Reader.
type Source interface {
	io.ReadSeeker
	io.ReaderAt
}

// File is a read-only fs.File over an in-memory or section-backed reader.
type File struct {
	r    Source
	info *Info
}

// NewFile wraps r as an fs.File.
func NewFile(r Source, info *Info) *File {
	return &File{r: r, info: info}
}

// Stat implements fs.File.
func (f *File) Stat() (fs.FileInfo, error) { return f.info, nil }

// Read implements fs.File.
func (f *File) Read(p []byte) (int, error) { return f.r.Read(p) }

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) { return f.r.ReadAt(p, off) }

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) { return f.r.Seek(offset, whence) }

// Close implements fs.File. The underlying source is owned by the caller.
func (f *File) Close() error { return nil }

// Info implements fs.FileInfo for regular files.
type Info struct {
	name    string
	size    int64
	modTime time.Time
}

// NewInfo creates an Info for a regular read-only file.
func NewInfo(name string, size int64, modTime time.Time) *Info {
	return &Info{name: name, size: size, modTime: modTime}
}

func (fi *Info) Name() string       { return fi.name }
func (fi *Info) Size() int64        { return fi.size }
func (fi *Info) Mode() fs.FileMode  { return 0o444 }
func (fi *Info) ModTime() time.Time { return fi.modTime }
func (fi *Info) IsDir() bool        { return false }
func (fi *Info) Sys() any           { return nil }

// DirInfo implements fs.FileInfo for synthetic directories.
type DirInfo struct {
	name string
}

// NewDirInfo creates a DirInfo with the given name.
func NewDirInfo(name string) *DirInfo {
	return &DirInfo{name: name}
}

func (di *DirInfo) Name() string       { return di.name }
func (di *DirInfo) Size() int64        { return 0 }
func (di *DirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (di *DirInfo) ModTime() time.Time { return time.Time{} }
func (di *DirInfo) IsDir() bool        { return true }
func (di *DirInfo) Sys() any           { return nil }

// DirEntry implements fs.DirEntry by wrapping fs.FileInfo.
type DirEntry struct {
	info    fs.FileInfo
	infoErr error
}

// NewDirEntry creates a DirEntry wrapping the given FileInfo.
func NewDirEntry(info fs.FileInfo, err error) *DirEntry {
	return &DirEntry{info: info, infoErr: err}
}

func (de *DirEntry) Name() string               { return de.info.Name() }
func (de *DirEntry) IsDir() bool                { return de.info.IsDir() }
func (de *DirEntry) Type() fs.FileMode          { return de.info.Mode().Type() }
func (de *DirEntry) Info() (fs.FileInfo, error) { return de.info, de.infoErr }

// StatFunc returns file info for a full stored path.
type StatFunc func(path string) (fs.FileInfo, error)

// ReadDir synthesizes the entries of directory name from a sorted path list.
// Files nested deeper than one level yield one synthetic directory entry per
// distinct child. The result is sorted by name because sorted is.
func ReadDir(sorted []string, name string, stat StatFunc) []fs.DirEntry {
	prefix := pathutil.DirPrefix(name)
	lo, hi := pathutil.PrefixRange(sorted, prefix)

	entries := make([]fs.DirEntry, 0, hi-lo)
	lastName := ""
	for _, path := range sorted[lo:hi] {
		childName, isSubDir := pathutil.Child(path, prefix)
		if childName == lastName {
			continue
		}
		lastName = childName

		if isSubDir {
			entries = append(entries, NewDirEntry(NewDirInfo(childName), nil))
			continue
		}
		info, err := stat(path)
		if err != nil {
			info = NewInfo(childName, 0, time.Time{})
		}
		entries = append(entries, NewDirEntry(info, err))
	}
	return entries
}

// Dir implements fs.File and fs.ReadDirFile for synthetic directories.
type Dir struct {
	name    string
	entries []fs.DirEntry
	offset  int
}

// NewDir returns an open directory listing entries.
func NewDir(name string, entries []fs.DirEntry) *Dir {
	return &Dir{name: name, entries: entries}
}

func (d *Dir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *Dir) Stat() (fs.FileInfo, error) {
	return NewDirInfo(pathutil.Base(d.name)), nil
}

func (d *Dir) Close() error { return nil }

// ReadDir implements fs.ReadDirFile.
func (d *Dir) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.offset += n
	return rest[:n], nil
}
