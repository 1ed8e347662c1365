package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/pak/internal/file"
)

// Stats summarizes a batch operation.
type Stats struct {
	// FileCount is the number of files written.
	FileCount int

	// TotalBytes is the content size of the files written.
	TotalBytes uint64

	// Skipped is the number of files left alone: rejected by the replace
	// policy, or with paths that cannot be stored.
	Skipped int
}

// Pack inserts every regular file under dir, using each file's modification
// time as its timestamp.
//
// Paths are stored relative to dir with forward slashes. Symbolic links and
// other non-regular files are not followed. Files rejected by policy, and
// paths longer than MaxPathLen, are counted in Stats.Skipped; I/O errors abort
// the walk.
func (a *Archive) Pack(ctx context.Context, dir string, policy ReplacePolicy) (Stats, error) {
	var stats Stats
	if err := a.writable(); err != nil {
		return stats, err
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return stats, err
	}
	defer root.Close()

	self, err := a.f.Stat()
	if err != nil {
		return stats, fmt.Errorf("stat archive: %w", err)
	}

	a.log().Info("packing directory", "dir", dir, "archive", a.path, "policy", policy.String())

	err = fs.WalkDir(root.FS(), ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			if d.Type()&fs.ModeSymlink != 0 {
				a.log().Debug("skipped symlink", "path", path)
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if os.SameFile(info, self) {
			return nil
		}
		data, err := root.ReadFile(filepath.FromSlash(path))
		if err != nil {
			return err
		}

		err = a.Insert(path, data, info.ModTime(), policy)
		switch {
		case err == nil:
			stats.FileCount++
			stats.TotalBytes += uint64(len(data))
		case skippable(err):
			a.log().Debug("skipped file", "path", path, "error", err)
			stats.Skipped++
		default:
			return err
		}
		a.reportProgress(StagePacking, path, stats.TotalBytes, stats.FileCount, 0)
		return nil
	})
	if err != nil {
		return stats, err
	}

	a.log().Info("packed directory", "dir", dir, "files", stats.FileCount, "bytes", stats.TotalBytes, "skipped", stats.Skipped)
	return stats, nil
}

// Unpack writes every file to dest, preserving each file's timestamp.
//
// Parent directories are created as needed and files are replaced atomically
// using temp files and renames. Compressed entries cannot be read and are
// counted in Stats.Skipped.
func (a *Archive) Unpack(ctx context.Context, dest string) (Stats, error) {
	var stats Stats
	if a.f == nil {
		return stats, ErrClosed
	}
	if dest == "" {
		return stats, errors.New("archive: unpack destination is empty")
	}

	total := a.dict.len()
	buf := make([]byte, 32*1024)
	a.log().Info("unpacking archive", "archive", a.path, "dest", dest, "files", total)

	for entry := range a.Entries() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if entry.Compressed() {
			a.log().Warn("skipped compressed entry", "path", entry.Path)
			stats.Skipped++
			continue
		}
		if err := a.unpackEntry(ctx, dest, &entry, buf); err != nil {
			return stats, err
		}
		stats.FileCount++
		stats.TotalBytes += entry.OriginalSize
		a.reportProgress(StageUnpacking, entry.Path, stats.TotalBytes, stats.FileCount, total)
	}
	return stats, nil
}

// unpackEntry writes a single entry under dest.
func (a *Archive) unpackEntry(ctx context.Context, dest string, entry *Entry, buf []byte) error {
	if !fs.ValidPath(entry.Path) {
		return &fs.PathError{Op: "unpack", Path: entry.Path, Err: fs.ErrInvalid}
	}
	target := filepath.Join(dest, filepath.FromSlash(entry.Path))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", entry.Path, err)
	}
	src, err := a.OpenStream(entry.Path)
	if err != nil {
		return err
	}
	return writeFileAtomic(ctx, target, src, entry, buf)
}

// writeFileAtomic writes content from src to target atomically using a temp
// file, then applies the entry's modification time.
func writeFileAtomic(ctx context.Context, target string, src io.Reader, entry *Entry, buf []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".pak-")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := file.Copy(ctx, tmp, src, buf); err != nil {
		return fmt.Errorf("copying %s: %w", entry.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}
	if err := os.Chtimes(tmpPath, entry.ModTime, entry.ModTime); err != nil {
		return fmt.Errorf("setting times: %w", err)
	}

	// Refuse to replace a directory with a file.
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return &fs.PathError{Op: "unpack", Path: target, Err: errors.New("is a directory")}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("renaming to destination: %w", err)
	}
	success = true
	return nil
}

// Merge inserts every file of the archive at otherPath into a.
//
// The other archive is opened read-only and each file keeps its timestamp,
// so ReplaceIfNewer merges only files newer than those already stored.
// Files rejected by policy are counted in Stats.Skipped.
func (a *Archive) Merge(ctx context.Context, otherPath string, policy ReplacePolicy) (Stats, error) {
	var stats Stats
	if err := a.writable(); err != nil {
		return stats, err
	}

	other, err := Open(otherPath, WithReadOnly(), WithLogger(a.logger))
	if err != nil {
		return stats, err
	}
	defer other.Close()

	total := other.Len()
	a.log().Info("merging archive", "source", otherPath, "archive", a.path, "files", total, "policy", policy.String())

	for entry := range other.Entries() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, err := other.ReadFile(entry.Path)
		if err != nil {
			if errors.Is(err, ErrUnsupported) {
				a.log().Warn("skipped compressed entry", "path", entry.Path, "source", otherPath)
				stats.Skipped++
				continue
			}
			return stats, err
		}
		err = a.Insert(entry.Path, data, entry.ModTime, policy)
		switch {
		case err == nil:
			stats.FileCount++
			stats.TotalBytes += uint64(len(data))
		case skippable(err):
			a.log().Debug("skipped file", "path", entry.Path, "error", err)
			stats.Skipped++
		default:
			return stats, err
		}
		a.reportProgress(StageMerging, entry.Path, stats.TotalBytes, stats.FileCount, total)
	}
	return stats, nil
}

// skippable reports whether an Insert error only concerns the one file.
func skippable(err error) bool {
	return errors.Is(err, ErrExists) ||
		errors.Is(err, ErrStaleWrite) ||
		errors.Is(err, ErrPathTooLong) ||
		errors.Is(err, ErrInvalidPath)
}
