package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pak/archive/internal/format"
)

func openTemp(t *testing.T) (*Archive, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "test.pak")
	a, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, path
}

func reopen(t *testing.T, a *Archive) *Archive {
	t.Helper()
	require.NoError(t, a.Close())
	b, err := Open(a.Path())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func storedSum(a *Archive) uint64 {
	var sum uint64
	for e := range a.Entries() {
		sum += e.DataSize
	}
	return sum
}

func TestOpen_CreatesFreshArchive(t *testing.T) {
	t.Parallel()

	a, path := openTemp(t)
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, Header{Back: HeaderSize, Version: 1}, a.Header())
	assert.False(t, a.Modified())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize), info.Size())
}

func TestOpen_RejectsBadMagic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.pak")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 200), 0o644))

	a, err := Open(path)
	require.ErrorIs(t, err, ErrInvalidFormat)
	require.ErrorIs(t, err, format.ErrBadMagic)
	assert.Nil(t, a)
}

func TestOpen_RejectsTruncatedDictionary(t *testing.T) {
	t.Parallel()

	a, path := openTemp(t)
	require.NoError(t, a.Insert("a.txt", []byte("hello"), time.Unix(1, 0), DoNotReplace))
	require.NoError(t, a.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-10))

	_, err = Open(path)
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestOpen_ReadOnlyMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing.pak")
	_, err := Open(path, WithReadOnly())
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "read-only open must not create the file")
}

func TestScenario_InsertCloseReopenExtract(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	require.NoError(t, a.Insert("a/b.txt", []byte("hi"), time.Unix(100, 0), ReplaceIfNewer))

	b := reopen(t, a)
	assert.Equal(t, uint32(1), b.Header().NumFiles)

	got, err := b.ReadFile("a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got)

	e, ok := b.Entry("a/b.txt")
	require.True(t, ok)
	assert.Equal(t, int64(100), e.ModTime.Unix())
	assert.Equal(t, uint64(2), e.DataSize)
	assert.Equal(t, uint64(2), e.OriginalSize)
}

func TestScenario_ReplaceIfNewerMarksRebuild(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	require.NoError(t, a.Insert("x", []byte("AAAA"), time.Unix(5, 0), DoNotReplace))
	require.NoError(t, a.Insert("x", []byte("BB"), time.Unix(10, 0), ReplaceIfNewer))

	got, err := a.ReadFile("x")
	require.NoError(t, err)
	assert.Equal(t, []byte("BB"), got)
	assert.True(t, a.NeedsRebuild())
	assert.Equal(t, uint64(HeaderSize+6), a.Header().Back, "new bytes are appended, never overwritten")

	b := reopen(t, a)
	assert.False(t, b.NeedsRebuild())
	assert.Equal(t, uint64(HeaderSize+2), b.Header().Back, "close rebuilds when holes exist")
	got, err = b.ReadFile("x")
	require.NoError(t, err)
	assert.Equal(t, []byte("BB"), got)
}

func TestRoundTrip_RandomPathSets(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	for round := range 5 {
		t.Run(fmt.Sprintf("round%d", round), func(t *testing.T) {
			a, _ := openTemp(t)
			want := make(map[string][]byte)
			times := make(map[string]int64)
			for i := range 40 {
				path := fmt.Sprintf("dir%d/file-%d-%d.bin", rng.IntN(4), i, rng.IntN(1000))
				data := make([]byte, rng.IntN(300))
				for j := range data {
					data[j] = byte(rng.IntN(256))
				}
				ts := rng.Int64N(1 << 40)
				require.NoError(t, a.Insert(path, data, time.Unix(ts, 0), Replace))
				want[path] = data
				times[path] = ts
			}

			b := reopen(t, a)
			require.Equal(t, len(want), b.Len())
			for path, data := range want {
				got, err := b.ReadFile(path)
				require.NoError(t, err)
				assert.Equal(t, data, got, path)
				e, ok := b.Entry(path)
				require.True(t, ok)
				assert.Equal(t, times[path], e.ModTime.Unix())
			}
		})
	}
}

func TestSortInvariant_AfterInsertsAndErases(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	rng := rand.New(rand.NewPCG(7, 7))
	names := make([]string, 0, 64)
	for i := range 64 {
		names = append(names, fmt.Sprintf("p/%03d", i))
	}
	rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })

	for i, name := range names {
		require.NoError(t, a.Insert(name, []byte(name), time.Unix(int64(i), 0), DoNotReplace))
		if i%3 == 0 {
			require.NoError(t, a.Erase(names[i/2]))
		}
		// Re-inserting an erased path must not produce a duplicate.
		if i%5 == 0 {
			err := a.Insert(names[i/2], []byte("again"), time.Unix(1000, 0), Replace)
			require.NoError(t, err)
		}
		paths := a.Paths()
		assert.True(t, slices.IsSorted(paths))
		assert.Len(t, slices.Compact(slices.Clone(paths)), len(paths), "no duplicates")
	}

	b := reopen(t, a)
	assert.True(t, slices.IsSorted(b.Paths()))
}

func TestInsert_Policies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policy   ReplacePolicy
		incoming int64
		wantErr  error
		want     string
	}{
		{"do not replace", DoNotReplace, 200, ErrExists, "original"},
		{"replace older", Replace, 50, nil, "incoming"},
		{"replace newer", Replace, 200, nil, "incoming"},
		{"newer accepts strictly newer", ReplaceIfNewer, 101, nil, "incoming"},
		{"newer rejects tie", ReplaceIfNewer, 100, ErrStaleWrite, "original"},
		{"newer rejects older", ReplaceIfNewer, 99, ErrStaleWrite, "original"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, _ := openTemp(t)
			require.NoError(t, a.Insert("f", []byte("original"), time.Unix(100, 0), DoNotReplace))
			before := a.Header()

			err := a.Insert("f", []byte("incoming"), time.Unix(tt.incoming, 0), tt.policy)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, a.Header(), "rejected writes do not mutate")
				assert.False(t, a.NeedsRebuild())
			} else {
				require.NoError(t, err)
				assert.True(t, a.NeedsRebuild())
			}

			got, err := a.ReadFile("f")
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestInsert_PathHandling(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	require.NoError(t, a.Insert(`textures\stone\wall.png`, []byte("png"), time.Unix(1, 0), DoNotReplace))
	assert.Equal(t, []string{"textures/stone/wall.png"}, a.Paths())

	got, err := a.ReadFile(`textures\stone\wall.png`)
	require.NoError(t, err)
	assert.Equal(t, "png", string(got))

	err = a.Insert(strings.Repeat("x", MaxPathLen+1), nil, time.Unix(1, 0), DoNotReplace)
	require.ErrorIs(t, err, ErrPathTooLong)
	require.NoError(t, a.Insert(strings.Repeat("x", MaxPathLen), nil, time.Unix(1, 0), DoNotReplace))

	err = a.Insert("../escape", nil, time.Unix(1, 0), DoNotReplace)
	require.ErrorIs(t, err, ErrInvalidPath)
	err = a.Insert("", nil, time.Unix(1, 0), DoNotReplace)
	require.ErrorIs(t, err, ErrInvalidPath)

	// Entry resolves paths exactly like ReadFile.
	_, ok := a.Entry(`textures\stone\wall.png`)
	assert.True(t, ok)
	_, ok = a.Entry("/textures/stone/wall.png")
	assert.False(t, ok)
	_, err = a.ReadFile("/textures/stone/wall.png")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestInsert_RejectsInvalidUTF8(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	require.NoError(t, a.Insert("good.txt", []byte("good"), time.Unix(1, 0), DoNotReplace))
	err := a.Insert("caf\xe9.txt", []byte("latin1"), time.Unix(1, 0), DoNotReplace)
	require.ErrorIs(t, err, ErrInvalidPath)

	b := reopen(t, a)
	assert.Equal(t, []string{"good.txt"}, b.Paths())
	got, err := b.ReadFile("good.txt")
	require.NoError(t, err)
	assert.Equal(t, "good", string(got))
}

func TestReadFile_Errors(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	_, err := a.ReadFile("missing")
	require.ErrorIs(t, err, fs.ErrNotExist)

	var pathErr *fs.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "readfile", pathErr.Op)
}

func TestReadFile_CompressedEntryUnsupported(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	require.NoError(t, a.Insert("packed.bin", []byte("zz"), time.Unix(1, 0), DoNotReplace))
	i, ok := a.dict.search("packed.bin")
	require.True(t, ok)
	a.dict.infos[i].SizeUncompressed = 10

	_, err := a.ReadFile("packed.bin")
	require.ErrorIs(t, err, ErrUnsupported)
	_, err = a.OpenStream("packed.bin")
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestReadFile_HugeUncompressedSize(t *testing.T) {
	t.Parallel()

	a, path := openTemp(t)
	require.NoError(t, a.Insert("z.bin", []byte("zzzz"), time.Unix(1, 0), DoNotReplace))
	back := a.Header().Back
	require.NoError(t, a.Close())

	// The only entry record follows the single path slot.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], 1<<62)
	_, err = f.WriteAt(size[:], int64(back)+format.PathSize+16)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	b, err := Open(path, WithReadOnly())
	require.NoError(t, err)
	defer b.Close()

	_, err = b.ReadFile("z.bin")
	require.ErrorIs(t, err, ErrUnsupported)
	_, err = b.ExtractInto("z.bin", make([]byte, 4))
	require.ErrorIs(t, err, ErrUnsupported)

	dst, _ := openTemp(t)
	stats, err := dst.Merge(context.Background(), path, Replace)
	require.NoError(t, err)
	assert.Zero(t, stats.FileCount)
	assert.Equal(t, 1, stats.Skipped)
}

func TestExtractInto(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	require.NoError(t, a.Insert("f", []byte("hello"), time.Unix(1, 0), DoNotReplace))

	buf := make([]byte, 16)
	n, err := a.ExtractInto("f", buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = a.ExtractInto("f", make([]byte, 2))
	require.ErrorIs(t, err, ErrShortBuffer)

	n, err = a.ExtractInto("missing", buf)
	require.ErrorIs(t, err, fs.ErrNotExist)
	assert.Zero(t, n)
}

func TestErase(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	require.NoError(t, a.Insert("keep", []byte("k"), time.Unix(1, 0), DoNotReplace))
	require.NoError(t, a.Insert("drop", []byte("dddd"), time.Unix(1, 0), DoNotReplace))
	backBefore := a.Header().Back

	require.NoError(t, a.Erase("drop"))
	assert.True(t, a.NeedsRebuild())
	assert.Equal(t, backBefore, a.Header().Back, "erase only touches the dictionary")
	_, err := a.ReadFile("drop")
	require.ErrorIs(t, err, fs.ErrNotExist)

	require.ErrorIs(t, a.Erase("drop"), fs.ErrNotExist)

	b := reopen(t, a)
	assert.Equal(t, []string{"keep"}, b.Paths())
	assert.Equal(t, uint64(HeaderSize+1), b.Header().Back)
}

func TestRebuild_Compaction(t *testing.T) {
	t.Parallel()

	a, path := openTemp(t)
	for i := range 10 {
		name := fmt.Sprintf("f%02d", i)
		require.NoError(t, a.Insert(name, bytes.Repeat([]byte{byte(i)}, 100), time.Unix(1, 0), DoNotReplace))
	}
	for i := range 10 {
		if i%2 == 0 {
			require.NoError(t, a.Insert(fmt.Sprintf("f%02d", i), bytes.Repeat([]byte{byte(100 + i)}, 10+i), time.Unix(2, 0), Replace))
		} else if i%3 == 0 {
			require.NoError(t, a.Erase(fmt.Sprintf("f%02d", i)))
		}
	}

	require.NoError(t, a.Rebuild())
	assert.False(t, a.NeedsRebuild())
	assert.False(t, a.Modified())
	assert.Equal(t, HeaderSize+storedSum(a), a.Header().Back)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(a.Header().Back)+format.DictionarySize(a.Len()), info.Size())

	check := func(a *Archive) {
		for i := range 10 {
			name := fmt.Sprintf("f%02d", i)
			got, err := a.ReadFile(name)
			switch {
			case i%2 == 0:
				require.NoError(t, err)
				assert.Equal(t, bytes.Repeat([]byte{byte(100 + i)}, 10+i), got)
			case i%3 == 0:
				require.ErrorIs(t, err, fs.ErrNotExist)
			default:
				require.NoError(t, err)
				assert.Equal(t, bytes.Repeat([]byte{byte(i)}, 100), got)
			}
		}
	}
	check(a)
	check(reopen(t, a))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestRebuild_ReportsProgress(t *testing.T) {
	t.Parallel()

	var events []ProgressEvent
	path := filepath.Join(t.TempDir(), "p.pak")
	a, err := Open(path, WithProgress(func(e ProgressEvent) { events = append(events, e) }))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Insert("a", []byte("1"), time.Unix(1, 0), DoNotReplace))
	require.NoError(t, a.Insert("b", []byte("22"), time.Unix(1, 0), DoNotReplace))
	require.NoError(t, a.Rebuild())

	require.Len(t, events, 2)
	assert.Equal(t, StageRebuilding, events[1].Stage)
	assert.Equal(t, "b", events[1].Path)
	assert.Equal(t, uint64(3), events[1].BytesDone)
	assert.Equal(t, 2, events[1].FilesTotal)
}

func TestAppendAfterReopen(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	require.NoError(t, a.Insert("one", []byte("1"), time.Unix(1, 0), DoNotReplace))
	b := reopen(t, a)

	// The new blob overwrites the old on-disk dictionary; Close writes a new one.
	require.NoError(t, b.Insert("two", []byte("22"), time.Unix(2, 0), DoNotReplace))
	c := reopen(t, b)

	assert.Equal(t, []string{"one", "two"}, c.Paths())
	got, err := c.ReadFile("one")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
	got, err = c.ReadFile("two")
	require.NoError(t, err)
	assert.Equal(t, "22", string(got))
}

func TestClosedArchive(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "close is idempotent")
	assert.False(t, a.IsOpen())

	require.ErrorIs(t, a.Insert("f", nil, time.Unix(1, 0), Replace), ErrClosed)
	_, err := a.ReadFile("f")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, a.Erase("f"), ErrClosed)
	require.ErrorIs(t, a.Flush(), ErrClosed)
	require.ErrorIs(t, a.Rebuild(), ErrClosed)
}

func TestReadOnlyArchive(t *testing.T) {
	t.Parallel()

	a, path := openTemp(t)
	require.NoError(t, a.Insert("f", []byte("data"), time.Unix(1, 0), DoNotReplace))
	require.NoError(t, a.Close())

	ro, err := Open(path, WithReadOnly())
	require.NoError(t, err)
	defer ro.Close()

	got, err := ro.ReadFile("f")
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
	require.ErrorIs(t, ro.Insert("g", nil, time.Unix(1, 0), Replace), ErrReadOnly)
	require.ErrorIs(t, ro.Erase("f"), ErrReadOnly)
}

func TestOpenStreamAndDigest(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	content := []byte("stream me")
	require.NoError(t, a.Insert("s.txt", content, time.Unix(1, 0), DoNotReplace))

	r, err := a.OpenStream("s.txt")
	require.NoError(t, err)
	_, err = r.Seek(7, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "me", string(rest))

	d, err := a.Digest("s.txt")
	require.NoError(t, err)
	assert.Equal(t, digest.FromBytes(content), d)
}

func TestEntriesWithPrefix(t *testing.T) {
	t.Parallel()

	a, _ := openTemp(t)
	for _, p := range []string{"b/2", "a", "b/1", "c", "b0"} {
		require.NoError(t, a.Insert(p, []byte(p), time.Unix(1, 0), DoNotReplace))
	}
	var got []string
	for e := range a.EntriesWithPrefix("b/") {
		got = append(got, e.Path)
	}
	assert.Equal(t, []string{"b/1", "b/2"}, got)
}

func TestParseReplacePolicy(t *testing.T) {
	for _, p := range []ReplacePolicy{DoNotReplace, Replace, ReplaceIfNewer} {
		got, err := ParseReplacePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParseReplacePolicy("sometimes")
	require.Error(t, err)
}
