package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/meigma/pak/archive/internal/format"
	"github.com/meigma/pak/internal/file"
)

// Rebuild compacts the archive.
//
// Every file still referenced by the dictionary is streamed, in path order,
// into a temporary file next to the archive, followed by the header and
// dictionary. The temporary file then atomically replaces the original.
// Afterwards Header().Back equals HeaderSize plus the sum of all stored sizes.
func (a *Archive) Rebuild() error {
	if err := a.writable(); err != nil {
		return err
	}

	a.log().Info("rebuilding archive", "path", a.path, "files", a.dict.len(), "back", a.header.Back)

	tmp, err := os.CreateTemp(filepath.Dir(a.path), ".pak-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	var blank [format.HeaderSize]byte
	if _, err := tmp.Write(blank[:]); err != nil {
		return fmt.Errorf("write placeholder header: %w", err)
	}

	infos := make([]format.Entry, a.dict.len())
	off := uint64(format.HeaderSize)
	buf := make([]byte, 32*1024)
	for i := range a.dict.infos {
		rec := a.dict.infos[i]
		src := io.NewSectionReader(a.f, int64(rec.Offset), int64(rec.SizeCompressed)) //nolint:gosec // validated on load
		n, err := file.Copy(context.Background(), tmp, src, buf)
		if err != nil {
			return fmt.Errorf("copy %s: %w", a.dict.paths[i], err)
		}
		if uint64(n) != rec.SizeCompressed { //nolint:gosec // n is non-negative
			return fmt.Errorf("copy %s: short read (%d of %d bytes)", a.dict.paths[i], n, rec.SizeCompressed)
		}
		rec.Offset = off
		infos[i] = rec
		off += rec.SizeCompressed
		a.reportProgress(StageRebuilding, a.dict.paths[i], off-format.HeaderSize, i+1, len(infos))
	}

	header := a.header
	header.Back = off
	header.NumFiles = uint32(len(infos)) //nolint:gosec // bounded by Insert
	if _, err := tmp.Write(format.MarshalDictionary(a.dict.paths, infos)); err != nil {
		return fmt.Errorf("write dictionary: %w", err)
	}
	hdr := format.MarshalHeader(&header)
	if _, err := tmp.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if info, err := a.f.Stat(); err == nil {
		_ = os.Chmod(tmpPath, info.Mode().Perm()) //nolint:errcheck // keep the temp file's mode on failure
	}

	// The handle must be released before the rename for platforms that
	// refuse to replace open files.
	if err := a.f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		f, reopenErr := os.OpenFile(a.path, os.O_RDWR, 0)
		if reopenErr != nil {
			a.f = nil
			return errors.Join(fmt.Errorf("replace archive: %w", err), reopenErr)
		}
		a.f = f
		return fmt.Errorf("replace archive: %w", err)
	}
	success = true

	f, err := os.OpenFile(a.path, os.O_RDWR, 0)
	if err != nil {
		a.f = nil
		return fmt.Errorf("reopen archive: %w", err)
	}
	a.f = f
	a.header = header
	a.dict.infos = infos
	a.modified = false
	a.holes = false
	a.log().Info("rebuilt archive", "path", a.path, "files", len(infos), "back", header.Back)
	return nil
}
