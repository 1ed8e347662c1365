package archive

import (
	"slices"

	"github.com/meigma/pak/archive/internal/format"
	"github.com/meigma/pak/internal/pathutil"
)

// dictionary is the in-memory directory: two co-indexed slices where
// infos[i] always describes paths[i] and paths is strictly ascending.
type dictionary struct {
	paths []string
	infos []format.Entry
}

func (d *dictionary) len() int {
	return len(d.paths)
}

// search returns the index of p, or the position where p would be inserted.
func (d *dictionary) search(p string) (int, bool) {
	return slices.BinarySearch(d.paths, p)
}

func (d *dictionary) insertAt(i int, p string, e format.Entry) {
	d.paths = slices.Insert(d.paths, i, p)
	d.infos = slices.Insert(d.infos, i, e)
}

func (d *dictionary) removeAt(i int) {
	d.paths = slices.Delete(d.paths, i, i+1)
	d.infos = slices.Delete(d.infos, i, i+1)
}

func (d *dictionary) prefixRange(prefix string) (lo, hi int) {
	return pathutil.PrefixRange(d.paths, prefix)
}

// validate checks the ordering invariant and that every blob lies inside
// the blob region.
func (d *dictionary) validate(back uint64) bool {
	for i := range d.paths {
		if i > 0 && d.paths[i-1] >= d.paths[i] {
			return false
		}
		e := &d.infos[i]
		end := e.Offset + e.SizeCompressed
		if e.Offset < format.HeaderSize || end < e.Offset || end > back {
			return false
		}
	}
	return true
}
