// Package archive implements a single-file, path-addressed blob store.
//
// An archive file has three contiguous regions:
//   - Header: magic, dictionary offset, flags, file count and format version
//   - Blob region: raw file contents in insertion order
//   - Dictionary: fixed 64-byte path slots followed by fixed 64-byte info records
//
// The dictionary is kept fully in memory, sorted by path, and rewritten on
// Close. New content is always appended at the end of the blob region, so
// replacing or erasing files leaves holes that Rebuild reclaims.
//
// An Archive is not safe for concurrent use, and at most one Archive should
// hold a given file open for writing.
//
// Archive implements fs.FS, fs.StatFS, fs.ReadFileFS and fs.ReadDirFS so
// archive contents can be read like any other filesystem.
package archive
