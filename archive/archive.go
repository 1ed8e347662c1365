package archive

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/pak/archive/internal/format"
	"github.com/meigma/pak/internal/pathutil"
)

// Header mirrors the archive header record.
type Header struct {
	// Back is the offset of the dictionary, which is also the end of blob data.
	Back     uint64
	Flags    uint32
	NumFiles uint32
	Version  uint16
}

// HeaderSize is the size of the header record; an empty archive's blob
// region starts here.
const HeaderSize = format.HeaderSize

// MaxPathLen is the longest storable path in bytes.
const MaxPathLen = format.MaxPathLen

// Archive is an open archive file.
//
// The header and dictionary live in memory; blob content is read on demand.
type Archive struct {
	path     string
	f        *os.File
	header   format.Header
	dict     dictionary
	modified bool
	holes    bool
	readOnly bool
	logger   *slog.Logger
	progress ProgressFunc
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Open opens the archive at path.
//
// If the file does not exist, its parent directories are created and a new
// empty archive is written, unless WithReadOnly is set. An existing file must
// carry a valid header; otherwise Open fails with ErrInvalidFormat and nothing
// is left open.
func Open(path string, opts ...Option) (*Archive, error) {
	a := &Archive{path: path}
	for _, opt := range opts {
		opt(a)
	}

	flag := os.O_RDWR
	if a.readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if errors.Is(err, fs.ErrNotExist) && !a.readOnly {
		if err := create(path); err != nil {
			return nil, err
		}
		a.log().Info("created archive", "path", path)
		f, err = os.OpenFile(path, flag, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if err := a.load(f); err != nil {
		f.Close()
		return nil, err
	}
	a.f = f
	a.log().Debug("opened archive", "path", path, "files", a.dict.len(), "read_only", a.readOnly)
	return a, nil
}

// create writes a fresh header to a new file at path.
func create(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	h := format.NewHeader()
	buf := format.MarshalHeader(&h)
	if _, err := f.Write(buf[:]); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write archive header: %w", err)
	}
	return f.Close()
}

// load parses the header and dictionary from f.
func (a *Archive) load(f *os.File) error {
	var buf [format.HeaderSize]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		a.log().Error("archive header unreadable", "path", a.path, "error", err)
		return fmt.Errorf("%w: %s: read header: %w", ErrInvalidFormat, a.path, err)
	}
	h, err := format.UnmarshalHeader(buf[:])
	if err != nil {
		a.log().Error("invalid archive header", "path", a.path, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrInvalidFormat, a.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}
	n := int(h.NumFiles)
	dictSize := format.DictionarySize(n)
	if h.Back > uint64(info.Size()) || uint64(info.Size())-h.Back < uint64(dictSize) { //nolint:gosec // size is non-negative
		a.log().Error("archive truncated", "path", a.path, "back", h.Back, "files", n, "size", info.Size())
		return fmt.Errorf("%w: %s: dictionary extends past end of file", ErrInvalidFormat, a.path)
	}

	a.header = h
	a.dict = dictionary{}
	if n == 0 {
		return nil
	}

	raw := make([]byte, dictSize)
	if _, err := f.ReadAt(raw, int64(h.Back)); err != nil { //nolint:gosec // bounded by file size above
		return fmt.Errorf("read dictionary: %w", err)
	}
	paths, infos, err := format.UnmarshalDictionary(raw, n)
	if err != nil {
		a.log().Error("invalid archive dictionary", "path", a.path, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrInvalidFormat, a.path, err)
	}
	a.dict = dictionary{paths: paths, infos: infos}
	if !a.dict.validate(h.Back) {
		a.log().Error("archive dictionary out of order or out of range", "path", a.path)
		return fmt.Errorf("%w: %s: corrupt dictionary", ErrInvalidFormat, a.path)
	}
	return nil
}

// Close persists pending changes and releases the file handle.
//
// If files were replaced or erased since the last flush, the archive is
// rebuilt first. Close on a closed archive is a no-op.
func (a *Archive) Close() error {
	if a.f == nil {
		return nil
	}
	err := a.Flush()
	closeErr := a.f.Close()
	a.f = nil
	a.log().Debug("closed archive", "path", a.path)
	return errors.Join(err, closeErr)
}

// Flush persists the header and dictionary without closing the archive,
// rebuilding first when holes exist.
func (a *Archive) Flush() error {
	if a.f == nil {
		return ErrClosed
	}
	if !a.modified {
		return nil
	}
	if a.holes {
		return a.Rebuild()
	}
	return a.writeTail()
}

// writeTail writes the dictionary at back, rewrites the header and drops
// anything past the new end of file.
func (a *Archive) writeTail() error {
	a.header.NumFiles = uint32(a.dict.len()) //nolint:gosec // bounded by Insert
	dict := format.MarshalDictionary(a.dict.paths, a.dict.infos)
	if _, err := a.f.WriteAt(dict, int64(a.header.Back)); err != nil { //nolint:gosec // offsets fit in int64
		return fmt.Errorf("write dictionary: %w", err)
	}
	hdr := format.MarshalHeader(&a.header)
	if _, err := a.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := a.f.Truncate(int64(a.header.Back) + int64(len(dict))); err != nil { //nolint:gosec // offsets fit in int64
		return fmt.Errorf("truncate archive: %w", err)
	}
	if err := a.f.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	a.modified = false
	return nil
}

// Path returns the file path the archive was opened from.
func (a *Archive) Path() string {
	return a.path
}

// IsOpen reports whether the archive holds an open file handle.
func (a *Archive) IsOpen() bool {
	return a.f != nil
}

// Header returns a copy of the in-memory header. NumFiles reflects the
// current dictionary even before it is flushed.
func (a *Archive) Header() Header {
	return Header{
		Back:     a.header.Back,
		Flags:    a.header.Flags,
		NumFiles: uint32(a.dict.len()), //nolint:gosec // bounded by Insert
		Version:  a.header.Version,
	}
}

// NeedsRebuild reports whether replaced or erased content is waiting to be
// reclaimed.
func (a *Archive) NeedsRebuild() bool {
	return a.holes
}

// Modified reports whether the archive has unflushed changes.
func (a *Archive) Modified() bool {
	return a.modified
}

// Len returns the number of files in the archive.
func (a *Archive) Len() int {
	return a.dict.len()
}

// Paths returns a copy of the sorted path list.
func (a *Archive) Paths() []string {
	out := make([]string, len(a.dict.paths))
	copy(out, a.dict.paths)
	return out
}

// Entries returns an iterator over all entries in path order.
func (a *Archive) Entries() iter.Seq[Entry] {
	return a.entriesIn(0, a.dict.len())
}

// EntriesWithPrefix returns an iterator over entries whose path starts with prefix.
func (a *Archive) EntriesWithPrefix(prefix string) iter.Seq[Entry] {
	lo, hi := a.dict.prefixRange(prefix)
	return a.entriesIn(lo, hi)
}

func (a *Archive) entriesIn(lo, hi int) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i := lo; i < hi && i < a.dict.len(); i++ {
			if !yield(entryFromRecord(a.dict.paths[i], &a.dict.infos[i])) {
				return
			}
		}
	}
}

// Entry returns the entry for path. Path resolution matches ReadFile.
func (a *Archive) Entry(path string) (Entry, bool) {
	i, p, err := a.lookup("entry", path)
	if err != nil {
		return Entry{}, false
	}
	return entryFromRecord(p, &a.dict.infos[i]), true
}

// Insert stores data under path with the given last-write time.
//
// Backslashes in path are converted to forward slashes. Paths longer than
// MaxPathLen bytes fail with ErrPathTooLong. When path already exists, policy
// decides whether the stored file is replaced. Content is always appended
// after the existing blobs; replaced content stays on disk until Rebuild.
func (a *Archive) Insert(path string, data []byte, modTime time.Time, policy ReplacePolicy) error {
	if err := a.writable(); err != nil {
		return &fs.PathError{Op: "insert", Path: path, Err: err}
	}
	p, err := cleanPath(path)
	if err != nil {
		return &fs.PathError{Op: "insert", Path: path, Err: err}
	}

	ts := modTime.Unix()
	i, found := a.dict.search(p)
	if found {
		switch policy {
		case DoNotReplace:
			return &fs.PathError{Op: "insert", Path: p, Err: ErrExists}
		case ReplaceIfNewer:
			if ts <= a.dict.infos[i].Timestamp {
				return &fs.PathError{Op: "insert", Path: p, Err: ErrStaleWrite}
			}
		case Replace:
		default:
			return &fs.PathError{Op: "insert", Path: p, Err: fmt.Errorf("unknown replace policy %d", policy)}
		}
	} else if uint64(a.dict.len()) >= math.MaxUint32 {
		return &fs.PathError{Op: "insert", Path: p, Err: errors.New("archive: file count limit reached")}
	}

	size := uint64(len(data))
	off := a.header.Back
	if off+size < off {
		return &fs.PathError{Op: "insert", Path: p, Err: errors.New("archive: size overflow")}
	}
	if _, err := a.f.WriteAt(data, int64(off)); err != nil { //nolint:gosec // offsets fit in int64
		return &fs.PathError{Op: "insert", Path: p, Err: err}
	}

	rec := format.Entry{
		Offset:           off,
		SizeCompressed:   size,
		SizeUncompressed: size,
		Timestamp:        ts,
	}
	a.header.Back = off + size
	if found {
		a.dict.infos[i] = rec
		a.holes = true
	} else {
		a.dict.insertAt(i, p, rec)
	}
	a.modified = true
	a.log().Debug("inserted file", "path", p, "size", size, "replaced", found)
	return nil
}

// ReadFile returns the content of the file at path.
//
// Missing files fail with fs.ErrNotExist and compressed entries with
// ErrUnsupported.
func (a *Archive) ReadFile(path string) ([]byte, error) {
	i, p, err := a.lookup("readfile", path)
	if err != nil {
		return nil, err
	}
	rec := &a.dict.infos[i]
	if !rec.Raw() {
		return nil, &fs.PathError{Op: "readfile", Path: p, Err: ErrUnsupported}
	}
	buf := make([]byte, rec.SizeCompressed)
	if err := a.readBlob(rec, buf); err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: p, Err: err}
	}
	return buf, nil
}

// ExtractInto reads the file at path into dst and returns the number of
// bytes written. dst must be at least as large as the file.
func (a *Archive) ExtractInto(path string, dst []byte) (int, error) {
	i, p, err := a.lookup("extract", path)
	if err != nil {
		return 0, err
	}
	rec := &a.dict.infos[i]
	if !rec.Raw() {
		return 0, &fs.PathError{Op: "extract", Path: p, Err: ErrUnsupported}
	}
	if uint64(len(dst)) < rec.SizeUncompressed {
		return 0, &fs.PathError{Op: "extract", Path: p, Err: ErrShortBuffer}
	}
	buf := dst[:rec.SizeUncompressed]
	if err := a.readBlob(rec, buf); err != nil {
		return 0, &fs.PathError{Op: "extract", Path: p, Err: err}
	}
	return len(buf), nil
}

// OpenStream returns a seekable reader over the stored bytes of path.
// The reader is valid until the archive is closed or rebuilt.
func (a *Archive) OpenStream(path string) (*io.SectionReader, error) {
	i, p, err := a.lookup("open", path)
	if err != nil {
		return nil, err
	}
	rec := &a.dict.infos[i]
	if !rec.Raw() {
		return nil, &fs.PathError{Op: "open", Path: p, Err: ErrUnsupported}
	}
	return io.NewSectionReader(a.f, int64(rec.Offset), int64(rec.SizeCompressed)), nil //nolint:gosec // validated on load
}

// Digest returns the sha256 digest of the file content at path.
func (a *Archive) Digest(path string) (digest.Digest, error) {
	r, err := a.OpenStream(path)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", &fs.PathError{Op: "digest", Path: path, Err: err}
	}
	return digest.NewDigest(digest.SHA256, h), nil
}

// Erase removes path from the dictionary. Its content stays in the file
// until the next Rebuild.
func (a *Archive) Erase(path string) error {
	if err := a.writable(); err != nil {
		return &fs.PathError{Op: "erase", Path: path, Err: err}
	}
	i, p, err := a.lookup("erase", path)
	if err != nil {
		return err
	}
	a.dict.removeAt(i)
	a.modified = true
	a.holes = true
	a.log().Debug("erased file", "path", p)
	return nil
}

// lookup resolves path to its dictionary index. Backslashes are accepted as
// separators, otherwise path must already be in stored form.
func (a *Archive) lookup(op, path string) (int, string, error) {
	if a.f == nil {
		return 0, path, &fs.PathError{Op: op, Path: path, Err: ErrClosed}
	}
	p := strings.ReplaceAll(path, `\`, "/")
	switch {
	case len(p) > MaxPathLen:
		return 0, path, &fs.PathError{Op: op, Path: path, Err: ErrPathTooLong}
	case p == "." || !fs.ValidPath(p):
		return 0, path, &fs.PathError{Op: op, Path: path, Err: ErrInvalidPath}
	}
	i, ok := a.dict.search(p)
	if !ok {
		return 0, p, &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
	}
	return i, p, nil
}

// readBlob reads the raw content described by rec into buf.
func (a *Archive) readBlob(rec *format.Entry, buf []byte) error {
	if !rec.Raw() {
		return ErrUnsupported
	}
	if len(buf) == 0 {
		return nil
	}
	if _, err := a.f.ReadAt(buf, int64(rec.Offset)); err != nil { //nolint:gosec // validated on load
		return fmt.Errorf("read content: %w", err)
	}
	return nil
}

func (a *Archive) writable() error {
	if a.f == nil {
		return ErrClosed
	}
	if a.readOnly {
		return ErrReadOnly
	}
	return nil
}

// cleanPath maps pathutil errors onto the archive's sentinel errors.
func cleanPath(path string) (string, error) {
	p, err := pathutil.Clean(path)
	switch {
	case errors.Is(err, pathutil.ErrTooLong):
		return "", ErrPathTooLong
	case err != nil:
		return "", ErrInvalidPath
	}
	return p, nil
}
