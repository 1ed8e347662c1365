package format

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderLayout(t *testing.T) {
	h := Header{Back: 0x0102030405060708, Flags: 7, NumFiles: 3, Version: Version}
	buf := MarshalHeader(&h)

	assert.Equal(t, Magic[:], buf[0:8])
	assert.Equal(t, uint64(0x0102030405060708), binary.LittleEndian.Uint64(buf[8:16]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[16:20]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf[20:24]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(buf[24:26]))
	assert.Equal(t, make([]byte, 38), buf[26:64])

	got, err := UnmarshalHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestUnmarshalHeaderErrors(t *testing.T) {
	good := NewHeader()
	valid := MarshalHeader(&good)

	tests := []struct {
		name    string
		mutate  func(b []byte) []byte
		wantErr error
	}{
		{"short", func(b []byte) []byte { return b[:10] }, ErrShortRecord},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrBadMagic},
		{"bad version", func(b []byte) []byte { binary.LittleEndian.PutUint16(b[24:26], 9); return b }, ErrBadVersion},
		{"back inside header", func(b []byte) []byte { binary.LittleEndian.PutUint64(b[8:16], 10); return b }, ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := valid
			_, err := UnmarshalHeader(tt.mutate(buf[:]))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEntryLayout(t *testing.T) {
	e := Entry{Offset: 64, SizeCompressed: 5, SizeUncompressed: 5, Timestamp: -42, Flags: 1}
	buf := make([]byte, EntrySize)
	for i := range buf {
		buf[i] = 0xff
	}
	MarshalEntry(buf, &e)

	assert.Equal(t, make([]byte, 28), buf[36:64], "reserved bytes are zeroed")
	got, err := UnmarshalEntry(buf)
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.True(t, got.Raw())
}

func TestPathSlot(t *testing.T) {
	buf := make([]byte, PathSize)
	MarshalPath(buf, "a/b.txt")
	assert.Equal(t, byte(0), buf[7])

	got, err := UnmarshalPath(buf)
	require.NoError(t, err)
	assert.Equal(t, "a/b.txt", got)

	longest := strings.Repeat("x", MaxPathLen)
	MarshalPath(buf, longest)
	got, err = UnmarshalPath(buf)
	require.NoError(t, err)
	assert.Equal(t, longest, got)

	assert.Panics(t, func() { MarshalPath(buf, longest+"x") })

	for i := range buf {
		buf[i] = 'y'
	}
	_, err = UnmarshalPath(buf)
	require.ErrorIs(t, err, ErrBadPath)
}

func TestDictionaryRoundTrip(t *testing.T) {
	paths := []string{"a", "b/c", "d"}
	entries := []Entry{
		{Offset: 64, SizeCompressed: 1, SizeUncompressed: 1, Timestamp: 1},
		{Offset: 65, SizeCompressed: 2, SizeUncompressed: 2, Timestamp: 2},
		{Offset: 67, SizeCompressed: 3, SizeUncompressed: 3, Timestamp: 3},
	}
	buf := MarshalDictionary(paths, entries)
	require.Len(t, buf, int(DictionarySize(3)))

	gotPaths, gotEntries, err := UnmarshalDictionary(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, paths, gotPaths)
	assert.Equal(t, entries, gotEntries)

	_, _, err = UnmarshalDictionary(buf[:100], 3)
	require.ErrorIs(t, err, ErrShortRecord)
}
