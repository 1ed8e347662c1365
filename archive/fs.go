package archive

import (
	"io/fs"

	"github.com/meigma/pak/internal/file"
	"github.com/meigma/pak/internal/pathutil"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// Open implements fs.FS.
//
// Files support Read, ReadAt and Seek. Directories are synthesized from
// stored paths since the format does not record them.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if a.f == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrClosed}
	}

	if name != "." {
		if i, ok := a.dict.search(name); ok {
			r, err := a.OpenStream(name)
			if err != nil {
				return nil, err
			}
			return file.NewFile(r, a.info(i)), nil
		}
	}

	if pathutil.IsDir(a.dict.paths, name) || name == "." {
		return file.NewDir(name, file.ReadDir(a.dict.paths, name, a.statPath)), nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if name != "." {
		if i, ok := a.dict.search(name); ok {
			return a.info(i), nil
		}
	}
	if name == "." || pathutil.IsDir(a.dict.paths, name) {
		return file.NewDirInfo(pathutil.Base(name)), nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS.
//
// Entries are sorted by name.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	entries := file.ReadDir(a.dict.paths, name, a.statPath)
	if len(entries) == 0 && name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	return entries, nil
}

func (a *Archive) info(i int) *file.Info {
	rec := &a.dict.infos[i]
	e := entryFromRecord(a.dict.paths[i], rec)
	return file.NewInfo(pathutil.Base(e.Path), int64(e.OriginalSize), e.ModTime) //nolint:gosec // validated on load
}

func (a *Archive) statPath(path string) (fs.FileInfo, error) {
	i, ok := a.dict.search(path)
	if !ok {
		return nil, fs.ErrNotExist
	}
	return a.info(i), nil
}
