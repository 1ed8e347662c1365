// Package module provides named, versioned content units backed by either an
// archive file or a directory tree.
package module

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/meigma/pak/archive"
	"github.com/meigma/pak/internal/pathutil"
)

// Kind describes how a module stores its files.
type Kind int

const (
	// KindUnknown is the kind of a module that has not been opened yet.
	KindUnknown Kind = iota
	// KindArchive modules read from a single archive file.
	KindArchive
	// KindDirectory modules read from a directory tree.
	KindDirectory
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Module is a content unit.
//
// A Module is not safe for concurrent use.
type Module struct {
	path   string
	fsys   afero.Fs
	kind   Kind
	arc    *archive.Archive
	desc   Descriptor
	info   bool
	files  []string
	logger *slog.Logger
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the logger used for diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) {
		m.logger = logger
	}
}

// WithFs sets the filesystem used for directory-backed modules.
// Archive-backed modules always read from the host filesystem.
// Defaults to afero.NewOsFs.
func WithFs(fsys afero.Fs) Option {
	return func(m *Module) {
		m.fsys = fsys
	}
}

// New returns a module rooted at path. Nothing is read until Open,
// LoadModInfo or LoadFileList.
func New(path string, opts ...Option) *Module {
	m := &Module{path: path}
	for _, opt := range opts {
		opt(m)
	}
	if m.fsys == nil {
		m.fsys = afero.NewOsFs()
	}
	return m
}

// log returns the logger, falling back to a discard logger if nil.
func (m *Module) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// Path returns the module's archive or directory path.
func (m *Module) Path() string {
	return m.path
}

// Kind returns the storage kind, resolving it on first use.
func (m *Module) Kind() Kind {
	if m.kind == KindUnknown {
		_ = m.resolveKind() //nolint:errcheck // reported by Open
	}
	return m.kind
}

// Name returns the descriptor name, or the base name of the path without
// its extension when no name is set.
func (m *Module) Name() string {
	if m.desc.Name != "" {
		return m.desc.Name
	}
	base := filepath.Base(m.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Descriptor returns the parsed mod info. It is the zero Descriptor until
// LoadModInfo succeeds.
func (m *Module) Descriptor() Descriptor {
	return m.desc
}

// HasModInfo reports whether LoadModInfo found and parsed a descriptor.
func (m *Module) HasModInfo() bool {
	return m.info
}

// IsOpen reports whether the module can serve reads.
func (m *Module) IsOpen() bool {
	switch m.kind {
	case KindArchive:
		return m.arc != nil && m.arc.IsOpen()
	case KindDirectory:
		return true
	default:
		return false
	}
}

func (m *Module) resolveKind() error {
	info, err := m.fsys.Stat(m.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, m.path, err)
	}
	switch {
	case info.IsDir():
		m.kind = KindDirectory
	case info.Mode().IsRegular():
		m.kind = KindArchive
	default:
		return fmt.Errorf("%w: %s", ErrNotFound, m.path)
	}
	return nil
}

// Open prepares the module for reading. Archive-backed modules open their
// archive read-only; for directories Open only checks the path exists.
// Open on an open module is a no-op.
func (m *Module) Open() error {
	if m.kind == KindUnknown {
		if err := m.resolveKind(); err != nil {
			return err
		}
	}
	if m.kind != KindArchive || m.arc != nil {
		return nil
	}
	arc, err := archive.Open(m.path, archive.WithReadOnly(), archive.WithLogger(m.logger))
	if err != nil {
		return fmt.Errorf("open module %s: %w", m.path, err)
	}
	m.arc = arc
	m.log().Debug("opened module", "path", m.path, "kind", m.kind.String())
	return nil
}

// Close releases the module's archive. It is a no-op for directories and
// closed modules.
func (m *Module) Close() error {
	if m.arc == nil {
		return nil
	}
	err := m.arc.Close()
	m.arc = nil
	return err
}

// LoadModInfo reads and parses modinfo.toml.
//
// A module without modinfo.toml keeps the zero Descriptor and HasModInfo
// stays false. A malformed descriptor fails with ErrInvalidFormat.
// Archive-backed modules are opened temporarily if needed.
func (m *Module) LoadModInfo() error {
	if m.kind == KindUnknown {
		if err := m.resolveKind(); err != nil {
			return err
		}
	}
	if m.kind == KindArchive && m.arc == nil {
		if err := m.Open(); err != nil {
			return err
		}
		defer m.Close()
	}

	data, err := m.readRaw(ModInfoName)
	if errors.Is(err, fs.ErrNotExist) {
		m.log().Debug("module has no mod info", "path", m.path)
		return nil
	}
	if err != nil {
		return err
	}

	desc, err := ParseDescriptor(data)
	if err != nil {
		m.log().Error("invalid mod info", "path", m.path, "error", err)
		return fmt.Errorf("%s: %w", m.path, err)
	}
	m.desc = desc
	m.info = true
	m.log().Debug("loaded mod info", "path", m.path, "name", m.Name(), "version", desc.Version.String())
	return nil
}

// Icon returns the content of modicon.png.
func (m *Module) Icon() ([]byte, error) {
	return m.readRaw(IconName)
}

// LoadFileList builds the sorted list of files the module provides.
//
// For archives the dictionary order is kept as is. Directory trees are
// walked; backslashes are normalized to forward slashes and paths longer
// than 63 bytes are logged and skipped. Reserved names at the module root
// are never listed.
func (m *Module) LoadFileList() error {
	if err := m.Open(); err != nil {
		return err
	}
	switch m.kind {
	case KindArchive:
		paths := m.arc.Paths()
		m.files = slices.DeleteFunc(paths, isReserved)
	case KindDirectory:
		files, err := m.walk()
		if err != nil {
			return err
		}
		m.files = files
	}
	m.log().Info("loaded file list", "module", m.Name(), "files", len(m.files))
	return nil
}

func (m *Module) walk() ([]string, error) {
	var files []string
	err := afero.Walk(m.fsys, m.path, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(m.path, path)
		if err != nil {
			return err
		}
		p, err := pathutil.Clean(filepath.ToSlash(rel))
		switch {
		case errors.Is(err, pathutil.ErrTooLong):
			m.log().Warn("skipped file with long path", "module", m.Name(), "path", rel)
			return nil
		case err != nil:
			m.log().Warn("skipped file with invalid path", "module", m.Name(), "path", rel, "error", err)
			return nil
		}
		if isReserved(p) {
			return nil
		}

		i, found := slices.BinarySearch(files, p)
		if found {
			return &fs.PathError{Op: "walk", Path: p, Err: ErrDuplicatePath}
		}
		files = slices.Insert(files, i, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk module %s: %w", m.path, err)
	}
	return files, nil
}

// Files returns the sorted file list. The slice must not be modified.
func (m *Module) Files() []string {
	return m.files
}

// Has reports whether path is in the file list.
func (m *Module) Has(path string) bool {
	_, ok := slices.BinarySearch(m.files, path)
	return ok
}

// ReadFile returns the content of the file at path.
func (m *Module) ReadFile(path string) ([]byte, error) {
	if !fs.ValidPath(path) || path == "." {
		return nil, &fs.PathError{Op: "readfile", Path: path, Err: fs.ErrInvalid}
	}
	return m.readRaw(path)
}

// Stat returns file info for path.
func (m *Module) Stat(path string) (fs.FileInfo, error) {
	if !fs.ValidPath(path) {
		return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrInvalid}
	}
	switch m.kind {
	case KindArchive:
		if m.arc == nil {
			return nil, &fs.PathError{Op: "stat", Path: path, Err: ErrNotOpen}
		}
		return m.arc.Stat(path)
	case KindDirectory:
		return m.fsys.Stat(m.hostPath(path))
	default:
		return nil, &fs.PathError{Op: "stat", Path: path, Err: ErrNotOpen}
	}
}

func (m *Module) readRaw(path string) ([]byte, error) {
	switch m.kind {
	case KindArchive:
		if m.arc == nil {
			return nil, &fs.PathError{Op: "readfile", Path: path, Err: ErrNotOpen}
		}
		return m.arc.ReadFile(path)
	case KindDirectory:
		data, err := afero.ReadFile(m.fsys, m.hostPath(path))
		if err != nil {
			return nil, err
		}
		return data, nil
	default:
		return nil, &fs.PathError{Op: "readfile", Path: path, Err: ErrNotOpen}
	}
}

func (m *Module) hostPath(path string) string {
	return filepath.Join(m.path, filepath.FromSlash(path))
}

func isReserved(p string) bool {
	return p == ModInfoName || p == IconName
}
