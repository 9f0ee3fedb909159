package pd

import (
	"bytes"

	"github.com/google/btree"

	regionpkg "nyxstore/internal/region"
)

const regionTreeDegree = 32

type regionItem struct {
	region *regionpkg.Region
}

func lessByStartKey(a, b regionItem) bool {
	return bytes.Compare(a.region.Range.Start, b.region.Range.Start) < 0
}

// regionTree indexes regions by start key. Ranges are assumed not to
// overlap; inserting a region evicts any region it overlaps.
type regionTree struct {
	tree *btree.BTreeG[regionItem]
}

func newRegionTree() *regionTree {
	return &regionTree{tree: btree.NewG[regionItem](regionTreeDegree, lessByStartKey)}
}

func pivot(key []byte) regionItem {
	return regionItem{region: &regionpkg.Region{Range: regionpkg.KeyRange{Start: key}}}
}

// update inserts region and returns the regions it displaced.
func (t *regionTree) update(region *regionpkg.Region) []*regionpkg.Region {
	overlaps := t.overlaps(region)
	for _, old := range overlaps {
		t.tree.Delete(regionItem{region: old})
	}
	t.tree.ReplaceOrInsert(regionItem{region: region})
	return overlaps
}

func (t *regionTree) remove(region *regionpkg.Region) {
	if item, ok := t.tree.Get(regionItem{region: region}); ok && item.region.ID == region.ID {
		t.tree.Delete(item)
	}
}

func (t *regionTree) overlaps(region *regionpkg.Region) []*regionpkg.Region {
	var out []*regionpkg.Region
	start := region.Range.Start
	if prev := t.search(start); prev != nil {
		start = prev.Range.Start
	}
	t.tree.AscendGreaterOrEqual(pivot(start), func(item regionItem) bool {
		if len(region.Range.End) > 0 && bytes.Compare(item.region.Range.Start, region.Range.End) >= 0 {
			return false
		}
		if len(item.region.Range.End) > 0 && bytes.Compare(item.region.Range.End, region.Range.Start) <= 0 {
			return true
		}
		out = append(out, item.region)
		return true
	})
	return out
}

// search returns the region containing key.
func (t *regionTree) search(key []byte) *regionpkg.Region {
	var found *regionpkg.Region
	t.tree.DescendLessOrEqual(pivot(key), func(item regionItem) bool {
		if item.region.ContainsKey(key) {
			found = item.region
		}
		return false
	})
	return found
}

// prev returns the region whose end key equals region's start key.
func (t *regionTree) prev(region *regionpkg.Region) *regionpkg.Region {
	if len(region.Range.Start) == 0 {
		return nil
	}
	var found *regionpkg.Region
	t.tree.DescendLessOrEqual(pivot(region.Range.Start), func(item regionItem) bool {
		if bytes.Equal(item.region.Range.Start, region.Range.Start) {
			return true
		}
		if bytes.Equal(item.region.Range.End, region.Range.Start) {
			found = item.region
		}
		return false
	})
	return found
}

// next returns the region starting at region's end key.
func (t *regionTree) next(region *regionpkg.Region) *regionpkg.Region {
	if len(region.Range.End) == 0 {
		return nil
	}
	item, ok := t.tree.Get(pivot(region.Range.End))
	if !ok {
		return nil
	}
	return item.region
}

func (t *regionTree) len() int {
	return t.tree.Len()
}
