package module

import "errors"

var (
	// ErrInvalidFormat is returned when a module descriptor cannot be parsed.
	ErrInvalidFormat = errors.New("module: invalid mod info")

	// ErrInvalidVersion is returned for versions not of the form major.minor.patch.
	ErrInvalidVersion = errors.New("module: invalid version")

	// ErrDuplicatePath is returned when a directory walk yields the same
	// normalized path twice.
	ErrDuplicatePath = errors.New("module: duplicate path")

	// ErrNotOpen is returned when an archive-backed module is read before Open.
	ErrNotOpen = errors.New("module: not open")

	// ErrNotFound is returned when the module path is neither a directory
	// nor a regular file.
	ErrNotFound = errors.New("module: no archive or directory at path")
)
