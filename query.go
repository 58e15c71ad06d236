package pctiler

import (
	"github.com/RoaringBitmap/roaring"
)

// nodeKey bijects an OctreeNodeIndex into a uint32 for RoaringBitmap
// membership: the low 27 bits hold the index, the top 5 bits hold levels.
// This is exact (collision-free) for levels<=9, i.e. 3*levels<=27 bits of
// index. A node past that depth folds its high index bits away, so two
// distinct nodes at the same level can share a key and Contains can report
// a node that was never added. QueryAABB walks the whole NodeStore, so this
// applies whenever the tree is deeper than 9 levels.
func nodeKey(idx OctreeNodeIndex) uint32 {
	low := uint32(idx.Index() & 0x07FFFFFF)
	return (uint32(idx.Levels()) << 27) | low
}

// NodeIndexSet is a compact, RoaringBitmap-backed set of OctreeNodeIndex
// values, used to answer "which nodes does this query touch" over a tree
// that has finished indexing. This is the corpus's QueryBuilder pattern
// (bitmap membership plus AND/OR/NOT as O(1)-ish compressed-chunk
// operations) retargeted from document IDs to octree node keys.
type NodeIndexSet struct {
	bitmap    *roaring.Bitmap
	maxLevels uint32
}

// NewNodeIndexSet returns an empty set for nodes built at the given
// MaxLevels.
func NewNodeIndexSet(maxLevels uint32) *NodeIndexSet {
	return &NodeIndexSet{bitmap: roaring.New(), maxLevels: maxLevels}
}

func (s *NodeIndexSet) Add(idx OctreeNodeIndex) { s.bitmap.Add(nodeKey(idx)) }

func (s *NodeIndexSet) Contains(idx OctreeNodeIndex) bool { return s.bitmap.Contains(nodeKey(idx)) }

func (s *NodeIndexSet) Len() int { return int(s.bitmap.GetCardinality()) }

// Union returns the set of nodes present in either s or o.
func (s *NodeIndexSet) Union(o *NodeIndexSet) *NodeIndexSet {
	return &NodeIndexSet{bitmap: roaring.Or(s.bitmap, o.bitmap), maxLevels: s.maxLevels}
}

// Intersect returns the set of nodes present in both s and o.
func (s *NodeIndexSet) Intersect(o *NodeIndexSet) *NodeIndexSet {
	return &NodeIndexSet{bitmap: roaring.And(s.bitmap, o.bitmap), maxLevels: s.maxLevels}
}

// QueryAABB walks a finished NodeStore and returns the set of present
// nodes whose bounds intersect target. A node's bounds always contain all
// of its descendants' bounds, so failing the intersection test prunes the
// whole branch beneath it.
func QueryAABB(store *NodeStore, maxLevels uint32, target AABB) (*NodeIndexSet, error) {
	result := NewNodeIndexSet(maxLevels)
	err := queryWalk(store, RootNodeIndex(maxLevels), target, result)
	return result, err
}

func queryWalk(store *NodeStore, idx OctreeNodeIndex, target AABB, result *NodeIndexSet) error {
	st, ok := store.Get(idx)
	if !ok {
		return nil
	}
	if !intersects(st.Bounds, target) {
		return nil
	}
	result.Add(idx)
	for o := uint8(0); o < 8; o++ {
		if st.ChildrenPresent&(1<<o) == 0 {
			continue
		}
		child, err := idx.Child(o)
		if err != nil {
			return err
		}
		if err := queryWalk(store, child, target, result); err != nil {
			return err
		}
	}
	return nil
}

// intersects reports whether two AABBs overlap; touching boundaries count
// as overlap, matching AABB.Contains's inclusive convention.
func intersects(a, b AABB) bool {
	return a.Min.X <= b.Max.X && a.Max.X >= b.Min.X &&
		a.Min.Y <= b.Max.Y && a.Max.Y >= b.Min.Y &&
		a.Min.Z <= b.Max.Z && a.Max.Z >= b.Min.Z
}
