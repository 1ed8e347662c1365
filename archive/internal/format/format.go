// Package format encodes and decodes the fixed-size records of the archive
// file: the header, the per-file info records and the path slots.
//
// All integers are little-endian. Records are serialized field by field so the
// layout never depends on host struct padding.
package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// HeaderSize is the encoded size of Header.
	HeaderSize = 64

	// EntrySize is the encoded size of Entry.
	EntrySize = 64

	// PathSize is the encoded size of a path slot.
	PathSize = 64

	// MaxPathLen is the number of usable bytes in a path slot. The last byte
	// is always the NUL terminator.
	MaxPathLen = PathSize - 1

	// Version is the only format version this package reads and writes.
	Version = 1
)

// Magic identifies an archive file.
var Magic = [8]byte{'P', 'A', 'K', 'A', 'R', 'C', 'H', 0}

var (
	// ErrBadMagic is returned when a header does not start with Magic.
	ErrBadMagic = errors.New("format: bad magic")

	// ErrBadVersion is returned for headers written by an unknown format version.
	ErrBadVersion = errors.New("format: unsupported version")

	// ErrShortRecord is returned when a buffer is smaller than the record it should hold.
	ErrShortRecord = errors.New("format: short record")

	// ErrBadPath is returned when a path slot is not NUL-terminated valid UTF-8.
	ErrBadPath = errors.New("format: malformed path slot")

	// ErrCorrupt is returned when header fields are inconsistent.
	ErrCorrupt = errors.New("format: corrupt header")
)

// Header is the first record of every archive.
type Header struct {
	// Back is the offset of the dictionary, which is also the end of valid blob data.
	Back     uint64
	Flags    uint32
	NumFiles uint32
	Version  uint16
}

// NewHeader returns the header of an empty archive.
func NewHeader() Header {
	return Header{Back: HeaderSize, Version: Version}
}

// Entry is the on-disk description of one stored blob.
type Entry struct {
	Offset           uint64
	SizeCompressed   uint64
	SizeUncompressed uint64
	// Timestamp is the last-write time in seconds since the Unix epoch.
	Timestamp int64
	Flags     uint32
}

// Raw reports whether the blob is stored without compression.
func (e *Entry) Raw() bool {
	return e.SizeCompressed == e.SizeUncompressed
}

// MarshalHeader encodes h into a HeaderSize buffer.
func MarshalHeader(h *Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint64(buf[8:16], h.Back)
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], h.NumFiles)
	binary.LittleEndian.PutUint16(buf[24:26], h.Version)
	// buf[26:64] is reserved and stays zero.
	return buf
}

// UnmarshalHeader decodes and validates a header.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortRecord
	}
	if !bytes.Equal(buf[0:8], Magic[:]) {
		return Header{}, fmt.Errorf("%w: %q", ErrBadMagic, buf[0:8])
	}
	h := Header{
		Back:     binary.LittleEndian.Uint64(buf[8:16]),
		Flags:    binary.LittleEndian.Uint32(buf[16:20]),
		NumFiles: binary.LittleEndian.Uint32(buf[20:24]),
		Version:  binary.LittleEndian.Uint16(buf[24:26]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	if h.Back < HeaderSize {
		return Header{}, fmt.Errorf("%w: dictionary offset %d inside header", ErrCorrupt, h.Back)
	}
	return h, nil
}

// MarshalEntry encodes e into dst, which must hold at least EntrySize bytes.
func MarshalEntry(dst []byte, e *Entry) {
	_ = dst[EntrySize-1]
	binary.LittleEndian.PutUint64(dst[0:8], e.Offset)
	binary.LittleEndian.PutUint64(dst[8:16], e.SizeCompressed)
	binary.LittleEndian.PutUint64(dst[16:24], e.SizeUncompressed)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(e.Timestamp)) //nolint:gosec // two's complement round-trips
	binary.LittleEndian.PutUint32(dst[32:36], e.Flags)
	clear(dst[36:EntrySize])
}

// UnmarshalEntry decodes an entry record.
func UnmarshalEntry(buf []byte) (Entry, error) {
	if len(buf) < EntrySize {
		return Entry{}, ErrShortRecord
	}
	return Entry{
		Offset:           binary.LittleEndian.Uint64(buf[0:8]),
		SizeCompressed:   binary.LittleEndian.Uint64(buf[8:16]),
		SizeUncompressed: binary.LittleEndian.Uint64(buf[16:24]),
		Timestamp:        int64(binary.LittleEndian.Uint64(buf[24:32])), //nolint:gosec // two's complement round-trips
		Flags:            binary.LittleEndian.Uint32(buf[32:36]),
	}, nil
}

// MarshalPath writes p into a PathSize slot at dst, NUL padded.
// The caller validates length; MarshalPath panics on an oversized path.
func MarshalPath(dst []byte, p string) {
	_ = dst[PathSize-1]
	if len(p) > MaxPathLen {
		panic("format: path exceeds slot")
	}
	n := copy(dst[:PathSize], p)
	clear(dst[n:PathSize])
}

// UnmarshalPath decodes a path slot.
func UnmarshalPath(buf []byte) (string, error) {
	if len(buf) < PathSize {
		return "", ErrShortRecord
	}
	slot := buf[:PathSize]
	n := bytes.IndexByte(slot, 0)
	if n < 0 {
		return "", ErrBadPath
	}
	if !utf8.Valid(slot[:n]) {
		return "", ErrBadPath
	}
	return string(slot[:n]), nil
}

// DictionarySize is the encoded size of a dictionary holding n files.
func DictionarySize(n int) int64 {
	return int64(n) * (PathSize + EntrySize)
}

// MarshalDictionary encodes paths followed by entries. The slices must have
// equal length.
func MarshalDictionary(paths []string, entries []Entry) []byte {
	n := len(paths)
	buf := make([]byte, DictionarySize(n))
	for i, p := range paths {
		MarshalPath(buf[i*PathSize:], p)
	}
	base := n * PathSize
	for i := range entries {
		MarshalEntry(buf[base+i*EntrySize:], &entries[i])
	}
	return buf
}

// UnmarshalDictionary decodes n paths followed by n entries.
func UnmarshalDictionary(buf []byte, n int) ([]string, []Entry, error) {
	if int64(len(buf)) < DictionarySize(n) {
		return nil, nil, ErrShortRecord
	}
	paths := make([]string, n)
	entries := make([]Entry, n)
	for i := range n {
		p, err := UnmarshalPath(buf[i*PathSize:])
		if err != nil {
			return nil, nil, fmt.Errorf("path %d: %w", i, err)
		}
		paths[i] = p
	}
	base := n * PathSize
	for i := range n {
		e, err := UnmarshalEntry(buf[base+i*EntrySize:])
		if err != nil {
			return nil, nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries[i] = e
	}
	return paths, entries, nil
}
