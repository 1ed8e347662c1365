// Package vfs merges the file lists of many modules into one namespace where
// later modules override earlier ones.
package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"

	"github.com/meigma/pak/internal/pathutil"
	"github.com/meigma/pak/module"
)

// ModuleID identifies a module within a Session. IDs are assigned in load
// order starting at zero; the base module is always 0.
type ModuleID int

// State is the lifecycle state of a Session.
type State int

const (
	// StateUninitialized sessions have no modules loaded.
	StateUninitialized State = iota
	// StateInitialized sessions have their base module loaded.
	StateInitialized
)

// String returns the state name.
func (s State) String() string {
	if s == StateInitialized {
		return "initialized"
	}
	return "uninitialized"
}

// File is one module's copy of a file.
type File struct {
	Module ModuleID
	Path   string
	Data   []byte
}

// FolderEntry is a path and the modules providing it, in load order.
type FolderEntry struct {
	Path   string
	Owners []ModuleID
}

// Session owns a set of loaded modules and the registry mapping each path to
// the modules that provide it.
//
// A Session is not safe for concurrent use.
type Session struct {
	state   State
	modules []*module.Module
	names   map[string]ModuleID

	// owners maps each path to its providers in load order; keys holds the
	// same paths sorted for prefix queries.
	owners map[string][]ModuleID
	keys   []string

	logger *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New returns an uninitialized session.
func New(opts ...Option) *Session {
	s := &Session{}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	return s
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Session) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

func (s *Session) reset() {
	s.state = StateUninitialized
	s.modules = nil
	s.names = make(map[string]ModuleID)
	s.owners = make(map[string][]ModuleID)
	s.keys = nil
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Init loads the mandatory base module. The session takes ownership of base.
//
// Init on an initialized session fails with ErrAlreadyInitialized. If base
// cannot be loaded the session stays uninitialized.
func (s *Session) Init(base *module.Module) error {
	if s.state == StateInitialized {
		s.log().Error("session initialized twice", "base", base.Path())
		return ErrAlreadyInitialized
	}
	if _, err := s.load(base); err != nil {
		s.log().Error("failed to load base module", "path", base.Path(), "error", err)
		return fmt.Errorf("load base module: %w", err)
	}
	s.state = StateInitialized
	s.log().Info("session initialized", "base", base.Name(), "files", len(s.keys))
	return nil
}

// LoadModule loads m on top of every module loaded so far and returns its ID.
// The session takes ownership of m and closes it on Shutdown, or immediately
// if loading fails.
func (s *Session) LoadModule(m *module.Module) (ModuleID, error) {
	if s.state != StateInitialized {
		return -1, ErrNotInitialized
	}
	return s.load(m)
}

func (s *Session) load(m *module.Module) (ModuleID, error) {
	if !m.HasModInfo() {
		if err := m.LoadModInfo(); err != nil {
			m.Close()
			s.log().Warn("skipped module with invalid mod info", "path", m.Path(), "error", err)
			return -1, err
		}
	}
	name := m.Name()
	if _, ok := s.names[name]; ok {
		m.Close()
		return -1, fmt.Errorf("%w: %s", ErrDuplicateModule, name)
	}
	if err := m.LoadFileList(); err != nil {
		m.Close()
		s.log().Warn("skipped unreadable module", "path", m.Path(), "error", err)
		return -1, err
	}

	id := ModuleID(len(s.modules))
	s.modules = append(s.modules, m)
	s.names[name] = id

	files := m.Files()
	var added []string
	for _, p := range files {
		list, ok := s.owners[p]
		if !ok {
			added = append(added, p)
		}
		s.owners[p] = append(list, id)
	}
	s.keys = mergeSorted(s.keys, added)

	s.log().Info("loaded module", "name", name, "id", int(id), "files", len(files), "new_paths", len(added))
	return id, nil
}

// mergeSorted merges two sorted, disjoint slices.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// LoadSingleFile returns the copy of path from the last loaded module that
// provides it. If that module fails to read the file, earlier providers are
// tried in turn.
func (s *Session) LoadSingleFile(path string) (File, error) {
	p, owners, err := s.lookup("load", path)
	if err != nil {
		return File{}, err
	}

	var errs []error
	for _, id := range slices.Backward(owners) {
		data, err := s.modules[id].ReadFile(p)
		if err != nil {
			s.log().Warn("module failed to read file", "module", s.modules[id].Name(), "path", p, "error", err)
			errs = append(errs, err)
			continue
		}
		return File{Module: id, Path: p, Data: data}, nil
	}
	return File{}, &fs.PathError{Op: "load", Path: p, Err: errors.Join(errs...)}
}

// LoadAllFiles returns every module's copy of path, earliest loaded first.
// Copies that fail to read are logged and left out.
func (s *Session) LoadAllFiles(path string) ([]File, error) {
	p, owners, err := s.lookup("loadall", path)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(owners))
	for _, id := range owners {
		data, err := s.modules[id].ReadFile(p)
		if err != nil {
			s.log().Warn("module failed to read file", "module", s.modules[id].Name(), "path", p, "error", err)
			continue
		}
		files = append(files, File{Module: id, Path: p, Data: data})
	}
	return files, nil
}

// LoadEverythingInFolder returns every path starting with prefix, in sorted
// order, with its providers in load order. The prefix is matched as a plain
// string, so "textures/" selects a folder and "textures" also matches
// "textures.txt".
func (s *Session) LoadEverythingInFolder(prefix string) []FolderEntry {
	lo, hi := pathutil.PrefixRange(s.keys, prefix)
	out := make([]FolderEntry, 0, hi-lo)
	for _, p := range s.keys[lo:hi] {
		out = append(out, FolderEntry{Path: p, Owners: slices.Clone(s.owners[p])})
	}
	return out
}

// Owners returns the modules providing path in load order.
func (s *Session) Owners(path string) []ModuleID {
	p, err := pathutil.Clean(path)
	if err != nil {
		return nil
	}
	return slices.Clone(s.owners[p])
}

// Module returns the module with the given ID, or nil.
func (s *Session) Module(id ModuleID) *module.Module {
	if id < 0 || int(id) >= len(s.modules) {
		return nil
	}
	return s.modules[id]
}

// Lookup returns the ID of the loaded module named name.
func (s *Session) Lookup(name string) (ModuleID, bool) {
	id, ok := s.names[name]
	return id, ok
}

// Modules returns the IDs of all loaded modules in load order.
func (s *Session) Modules() []ModuleID {
	ids := make([]ModuleID, len(s.modules))
	for i := range ids {
		ids[i] = ModuleID(i)
	}
	return ids
}

// Paths returns the number of distinct paths in the registry.
func (s *Session) Paths() int {
	return len(s.keys)
}

// Shutdown closes every module and returns the session to the
// uninitialized state. Close errors are joined.
func (s *Session) Shutdown() error {
	var errs []error
	for _, m := range s.modules {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close module %s: %w", m.Name(), err))
		}
	}
	n := len(s.modules)
	s.reset()
	s.log().Info("session shut down", "modules", n)
	return errors.Join(errs...)
}

func (s *Session) lookup(op, path string) (string, []ModuleID, error) {
	p, err := pathutil.Clean(path)
	if err != nil {
		return path, nil, &fs.PathError{Op: op, Path: path, Err: fs.ErrInvalid}
	}
	owners := s.owners[p]
	if len(owners) == 0 {
		return p, nil, &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
	}
	return p, owners, nil
}
