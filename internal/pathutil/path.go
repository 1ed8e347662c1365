// Package pathutil provides path manipulation for slash-separated archive paths.
package pathutil

import (
	"errors"
	"sort"
	"strings"
	"unicode/utf8"
)

// MaxLen is the longest path, in bytes, that fits an archive path slot.
const MaxLen = 63

var (
	// ErrTooLong is returned by Clean for paths longer than MaxLen bytes.
	ErrTooLong = errors.New("path exceeds 63 bytes")

	// ErrInvalid is returned by Clean for empty paths, invalid UTF-8, NUL
	// bytes and "." or ".." elements.
	ErrInvalid = errors.New("invalid path")
)

// Clean converts a user-provided path to the canonical stored form.
//
// Backslashes become forward slashes, leading and trailing slashes are
// stripped and consecutive slashes collapse. The result must be non-empty
// valid UTF-8 with no NUL byte and no "." or ".." element, and fit MaxLen bytes.
func Clean(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return "", ErrInvalid
	}
	if !utf8.ValidString(p) || strings.IndexByte(p, 0) >= 0 {
		return "", ErrInvalid
	}

	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		switch part {
		case "":
			continue
		case ".", "..":
			return "", ErrInvalid
		}
		result = append(result, part)
	}
	p = strings.Join(result, "/")
	if len(p) > MaxLen {
		return "", ErrTooLong
	}
	return p, nil
}

// Base returns the last element of a slash-separated path.
// If path is empty or ".", it returns ".".
func Base(path string) string {
	if path == "" || path == "." {
		return "."
	}
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// DirPrefix converts a path to its directory prefix form.
// For "." or "", returns "" (empty prefix matches all).
// For other paths, appends "/" to match children.
func DirPrefix(name string) string {
	if name == "." || name == "" {
		return ""
	}
	return strings.TrimSuffix(name, "/") + "/"
}

// Child extracts the immediate child name from a full path given a prefix.
// Returns the child name and whether it's a subdirectory (has more path components).
// If path doesn't have the prefix, behavior is undefined.
func Child(path, prefix string) (name string, isSubDir bool) {
	relPath := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(relPath, "/"); idx >= 0 {
		return relPath[:idx], true
	}
	return relPath, false
}

// PrefixRange returns the half-open range [lo, hi) of sorted that starts
// with prefix. sorted must be in ascending byte order.
func PrefixRange(sorted []string, prefix string) (lo, hi int) {
	lo = sort.SearchStrings(sorted, prefix)
	rest := sorted[lo:]
	hi = lo + sort.Search(len(rest), func(i int) bool {
		return !strings.HasPrefix(rest[i], prefix)
	})
	return lo, hi
}

// IsDir reports whether any path in sorted lies under name.
// The root "." is a directory whenever sorted is non-empty.
func IsDir(sorted []string, name string) bool {
	if name == "." {
		return len(sorted) > 0
	}
	lo, hi := PrefixRange(sorted, DirPrefix(name))
	return hi > lo
}
