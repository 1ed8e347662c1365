package vfs

import "errors"

var (
	// ErrAlreadyInitialized is returned by Init on an initialized session.
	ErrAlreadyInitialized = errors.New("vfs: session already initialized")

	// ErrNotInitialized is returned by LoadModule before Init.
	ErrNotInitialized = errors.New("vfs: session not initialized")

	// ErrDuplicateModule is returned when a module name is already loaded.
	ErrDuplicateModule = errors.New("vfs: module already loaded")

	// ErrMissingDependency is reported for modules whose dependencies are
	// not loaded or too old.
	ErrMissingDependency = errors.New("vfs: missing dependency")

	// ErrConflict is reported for modules that conflict with a loaded module.
	ErrConflict = errors.New("vfs: conflicting module loaded")
)
