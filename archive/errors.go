package archive

import "errors"

// Sentinel errors.
var (
	// ErrInvalidFormat is returned when a file is not a readable archive.
	ErrInvalidFormat = errors.New("archive: invalid format")

	// ErrPathTooLong is returned for paths longer than 63 bytes.
	ErrPathTooLong = errors.New("archive: path exceeds 63 bytes")

	// ErrInvalidPath is returned for empty paths and paths with "." or ".." elements.
	ErrInvalidPath = errors.New("archive: invalid path")

	// ErrExists is returned when inserting an existing path with DoNotReplace.
	ErrExists = errors.New("archive: file already exists")

	// ErrStaleWrite is returned when ReplaceIfNewer rejects an older or equal timestamp.
	ErrStaleWrite = errors.New("archive: stored file is not older")

	// ErrUnsupported is returned when reading a compressed entry.
	// The format reserves compression but no decompressor is implemented.
	ErrUnsupported = errors.New("archive: compressed entries are not supported")

	// ErrClosed is returned by operations on a closed archive.
	ErrClosed = errors.New("archive: closed")

	// ErrReadOnly is returned by mutations on an archive opened with WithReadOnly.
	ErrReadOnly = errors.New("archive: read-only")

	// ErrShortBuffer is returned by ExtractInto when dst cannot hold the file.
	ErrShortBuffer = errors.New("archive: destination buffer too small")
)
