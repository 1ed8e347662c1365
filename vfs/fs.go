package vfs

import (
	"bytes"
	"errors"
	"io/fs"
	"slices"
	"time"

	"github.com/meigma/pak/internal/file"
	"github.com/meigma/pak/internal/pathutil"
)

// Interface compliance.
var (
	_ fs.FS         = (*FS)(nil)
	_ fs.StatFS     = (*FS)(nil)
	_ fs.ReadFileFS = (*FS)(nil)
	_ fs.ReadDirFS  = (*FS)(nil)
)

// FS is a read-only fs.FS over a session. Each path resolves to the copy
// LoadSingleFile returns; directories are synthesized from the registry.
type FS struct {
	s *Session
}

// FS returns a filesystem view of the session. The view reflects modules
// loaded after it was created.
func (s *Session) FS() *FS {
	return &FS{s: s}
}

// Open implements fs.FS. File content is read into memory on open.
func (v *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if name != "." && len(v.s.owners[name]) > 0 {
		f, err := v.s.LoadSingleFile(name)
		if err != nil {
			return nil, err
		}
		info := file.NewInfo(pathutil.Base(name), int64(len(f.Data)), v.modTime(f.Module, name))
		return file.NewFile(bytes.NewReader(f.Data), info), nil
	}
	if name == "." || pathutil.IsDir(v.s.keys, name) {
		return file.NewDir(name, file.ReadDir(v.s.keys, name, v.statPath)), nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// ReadFile implements fs.ReadFileFS.
func (v *FS) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) || name == "." {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	f, err := v.s.LoadSingleFile(name)
	if err != nil {
		return nil, err
	}
	return f.Data, nil
}

// Stat implements fs.StatFS. File info comes from the same module that
// LoadSingleFile would read, falling back past layers that cannot stat it.
func (v *FS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if name != "." {
		if info, err := v.statPath(name); err == nil {
			return info, nil
		}
	}
	if name == "." || pathutil.IsDir(v.s.keys, name) {
		return file.NewDirInfo(pathutil.Base(name)), nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS.
func (v *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	entries := file.ReadDir(v.s.keys, name, v.statPath)
	if len(entries) == 0 && name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	return entries, nil
}

func (v *FS) statPath(name string) (fs.FileInfo, error) {
	owners := v.s.owners[name]
	if len(owners) == 0 {
		return nil, fs.ErrNotExist
	}
	var errs []error
	for _, id := range slices.Backward(owners) {
		info, err := v.s.modules[id].Stat(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return file.NewInfo(pathutil.Base(name), info.Size(), info.ModTime()), nil
	}
	return nil, errors.Join(errs...)
}

func (v *FS) modTime(id ModuleID, name string) time.Time {
	info, err := v.s.modules[id].Stat(name)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
