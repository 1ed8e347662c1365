package archive

import (
	"fmt"
	"time"

	"github.com/meigma/pak/archive/internal/format"
)

// Entry describes one file stored in the archive.
type Entry struct {
	// Path is the file path relative to the archive root (e.g., "textures/wall.png").
	Path string

	// DataOffset is the byte offset of the file content in the archive file.
	DataOffset uint64

	// DataSize is the stored size in bytes. For compressed entries this is the
	// compressed size.
	DataSize uint64

	// OriginalSize is the uncompressed size in bytes.
	// Equal to DataSize for raw entries.
	OriginalSize uint64

	// ModTime is the last-write time, with second precision.
	ModTime time.Time

	// Flags holds the per-entry flag word. No bits are currently assigned.
	Flags uint32
}

// Compressed reports whether the entry is stored compressed.
func (e *Entry) Compressed() bool {
	return e.DataSize != e.OriginalSize
}

func entryFromRecord(path string, rec *format.Entry) Entry {
	return Entry{
		Path:         path,
		DataOffset:   rec.Offset,
		DataSize:     rec.SizeCompressed,
		OriginalSize: rec.SizeUncompressed,
		ModTime:      time.Unix(rec.Timestamp, 0),
		Flags:        rec.Flags,
	}
}

// ReplacePolicy decides what Insert does when the path already exists.
type ReplacePolicy uint8

const (
	// DoNotReplace keeps the stored file and fails with ErrExists.
	DoNotReplace ReplacePolicy = iota

	// Replace always overwrites the stored file.
	Replace

	// ReplaceIfNewer overwrites only when the incoming timestamp is strictly
	// newer, failing with ErrStaleWrite otherwise.
	ReplaceIfNewer
)

// String returns the name used by ParseReplacePolicy.
func (p ReplacePolicy) String() string {
	switch p {
	case DoNotReplace:
		return "never"
	case Replace:
		return "always"
	case ReplaceIfNewer:
		return "newer"
	default:
		return "unknown"
	}
}

// ParseReplacePolicy parses "never", "always" or "newer".
func ParseReplacePolicy(s string) (ReplacePolicy, error) {
	switch s {
	case "never":
		return DoNotReplace, nil
	case "always":
		return Replace, nil
	case "newer":
		return ReplaceIfNewer, nil
	default:
		return 0, fmt.Errorf("archive: unknown replace policy %q (want never, always or newer)", s)
	}
}
