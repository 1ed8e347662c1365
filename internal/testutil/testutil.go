// Package testutil builds archives and module trees for tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pak/archive"
)

// DefaultModTime is the timestamp given to files that do not set one.
var DefaultModTime = time.Unix(1_700_000_000, 0)

// File describes a file to write into an archive or tree.
type File struct {
	Content string
	ModTime time.Time
}

// Files maps slash-separated paths to file contents, all with DefaultModTime.
func Files(contents map[string]string) map[string]File {
	out := make(map[string]File, len(contents))
	for path, content := range contents {
		out[path] = File{Content: content}
	}
	return out
}

func (f File) modTime() time.Time {
	if f.ModTime.IsZero() {
		return DefaultModTime
	}
	return f.ModTime
}

// WriteArchive creates an archive at path holding files and closes it.
func WriteArchive(tb testing.TB, path string, files map[string]File) {
	tb.Helper()
	a, err := archive.Open(path)
	require.NoError(tb, err)
	for name, f := range files {
		require.NoError(tb, a.Insert(name, []byte(f.Content), f.modTime(), archive.Replace))
	}
	require.NoError(tb, a.Close())
}

// WriteTree writes files below dir on the host filesystem.
func WriteTree(tb testing.TB, dir string, files map[string]File) {
	tb.Helper()
	for name, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(tb, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(tb, os.WriteFile(path, []byte(f.Content), 0o644))
		require.NoError(tb, os.Chtimes(path, f.modTime(), f.modTime()))
	}
}

// WriteMemTree writes files below dir in fsys.
func WriteMemTree(tb testing.TB, fsys afero.Fs, dir string, files map[string]File) {
	tb.Helper()
	for name, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(tb, fsys.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(tb, afero.WriteFile(fsys, path, []byte(f.Content), 0o644))
		require.NoError(tb, fsys.Chtimes(path, f.modTime(), f.modTime()))
	}
}

// ModInfo renders a minimal modinfo.toml.
func ModInfo(name, version string, priority int) string {
	return fmt.Sprintf("name = %q\nversion = %q\npriority = %d\n", name, version, priority)
}
