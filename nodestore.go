package pctiler

import (
	"hash/fnv"
	"math/rand"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// NodeState is everything the store tracks for one octree node: its
// in-memory point bucket, which of its 8 children exist, whether it has
// been flushed, and the AABB it covers. Invariants: if a node is present
// then all its ancestors are present (the Indexer only ever creates nodes
// while descending from an already-present parent); Bucket holds only
// points inside Bounds; every point's octant prefix against the root AABB
// matches this node's index prefix.
type NodeState struct {
	Bucket          PointBuffer
	ChildrenPresent uint8 // bitmask<8>, bit i set => child i exists
	Flushed         bool
	Bounds          AABB
	Err             error // set by Persistence on a failed flush (IoError)

	// PersistedCount is the running total of points durably handed to
	// Persistence for this node across every flush (a leaf can flush more
	// than once as points keep arriving). TilesetAssembler.count adds this
	// to the live Bucket.Len() instead of reading the bucket alone, since
	// TakeBucket empties it on every flush.
	PersistedCount int

	// gridOccupied tracks, for the Grid sampling strategy only, which of
	// the node's N^3 sub-cells already hold a representative point. A
	// roaring bitmap keeps this compact even at N=128 (2^21 cells) when
	// most cells stay empty.
	gridOccupied *roaring.Bitmap
	// seenCount is the Random strategy's reservoir-sampling counter: how
	// many points have ever been offered to this node.
	seenCount uint64
}

// ActionKind is the outcome NodeStore.PushPoint reports to the Indexer.
type ActionKind int

const (
	// Kept means the point was added to the node's bucket (possibly after
	// evicting a reservoir slot - see Action.Overflow).
	Kept ActionKind = iota
	// SplitRequested means the node's bucket is at max_points_per_node and
	// levels < L: the point did not fit and must cascade to Action.Octant.
	SplitRequested
	// FlushRequested means a leaf's bucket is at max_points_per_node: the
	// caller must detach the bucket via TakeBucket and enqueue it to
	// Persistence, then retry the point against the now-empty bucket.
	FlushRequested
	// CascadeToChild means the subsampling strategy declined the point at
	// this (non-leaf) node in favor of an existing representative; the
	// caller must descend to Action.Octant.
	CascadeToChild
)

// Action is NodeStore.PushPoint's result.
type Action struct {
	Kind ActionKind
	// Octant is valid for SplitRequested and CascadeToChild: which child
	// the point should go to next. The evicted point's child is
	// OverflowOctant.
	Octant uint8
	// Overflow is set when Random reservoir sampling evicted an existing
	// point from the bucket to make room for the new arrival; the caller
	// must independently re-insert it starting from this node's children
	// (it is never re-offered to this node, matching "the replaced point
	// cascades to the child").
	Overflow       *Point
	OverflowOctant uint8
}

// SamplingStrategy decides, for points arriving at a non-leaf node, whether
// the node's bucket already holds the "best" representative for that
// point's cell. Leaves never subsample: every arriving point is
// unconditionally a candidate for the bucket, gated only by capacity.
type SamplingStrategy interface {
	// TryAccept decides the fate of p at a non-leaf node with the given
	// bounds. accepted=false means cascade to child at the returned
	// octant. accepted=true with overflow!=nil means p was accepted but
	// evicted an existing bucket entry, which must cascade to
	// overflowOctant.
	TryAccept(state *NodeState, p Point, bounds AABB, maxPointsPerNode uint32) (accepted bool, octant uint8, overflow *Point, overflowOctant uint8)
	Name() string
}

// GridStrategy partitions a node's AABB into an N x N x N cell grid. A
// cell may hold at most one point; the first arrival wins and subsequent
// colliders cascade to the appropriate child octant.
type GridStrategy struct {
	N uint32
}

func (g GridStrategy) Name() string { return "grid" }

func (g GridStrategy) cellKey(p Vec3, bounds AABB) uint32 {
	ext := bounds.Extent()
	n := float64(g.N)
	cx := gridCoord((p.X-bounds.Min.X)/ext.X, g.N)
	cy := gridCoord((p.Y-bounds.Min.Y)/ext.Y, g.N)
	cz := gridCoord((p.Z-bounds.Min.Z)/ext.Z, g.N)
	_ = n
	return cx*g.N*g.N + cy*g.N + cz
}

func gridCoord(frac float64, n uint32) uint32 {
	if frac < 0 {
		return 0
	}
	c := uint32(frac * float64(n))
	if c >= n {
		c = n - 1
	}
	return c
}

func (g GridStrategy) TryAccept(state *NodeState, p Point, bounds AABB, maxPointsPerNode uint32) (bool, uint8, *Point, uint8) {
	if state.gridOccupied == nil {
		state.gridOccupied = roaring.New()
	}
	key := g.cellKey(p.Position, bounds)
	if state.gridOccupied.Contains(key) {
		return false, bounds.OctantFor(p.Position), nil, 0
	}
	state.gridOccupied.Add(key)
	return true, 0, nil, 0
}

// RandomStrategy reservoir-samples up to max_points_per_node points
// uniformly; once full, each new arrival replaces a uniformly random
// existing slot with probability max_points_per_node/seenCount, and the
// replaced point cascades down to its child octant.
type RandomStrategy struct {
	Rand *rand.Rand
}

func (r RandomStrategy) Name() string { return "random" }

func (r RandomStrategy) TryAccept(state *NodeState, p Point, bounds AABB, maxPointsPerNode uint32) (bool, uint8, *Point, uint8) {
	state.seenCount++
	n := state.seenCount
	cur := uint32(state.Bucket.Len())
	if cur < maxPointsPerNode {
		return true, 0, nil, 0
	}
	j := r.Rand.Uint64() % n
	if j >= uint64(maxPointsPerNode) {
		// Reservoir rejects the new point outright; it cascades instead.
		return false, bounds.OctantFor(p.Position), nil, 0
	}
	old := state.Bucket.At(int(j))
	replaceInPlace(&state.Bucket, int(j), p)
	return true, 0, &old, bounds.OctantFor(old.Position)
}

func replaceInPlace(b *PointBuffer, i int, p Point) {
	b.Position[i] = p.Position
	if b.Schema.Has(AttrRGB) {
		b.RGB[i] = p.RGB
	}
	if b.Schema.Has(AttrIntensity) {
		b.Intensity[i] = p.Intensity
	}
	if b.Schema.Has(AttrClassification) {
		b.Classification[i] = p.Classification
	}
	if b.Schema.Has(AttrGPSTime) {
		b.GPSTime[i] = p.GPSTime
	}
	if b.Schema.Has(AttrNormal) {
		b.Normal[i] = p.Normal
	}
}

type shard struct {
	mu    sync.Mutex
	nodes map[OctreeNodeIndex]*NodeState
}

// NodeStore holds the current in-memory tree: a map from OctreeNodeIndex to
// NodeState, partitioned into shards so indexing workers can mutate
// disjoint nodes without contending on a single lock. Sharding here uses a
// hash of the node's (index, levels) rather than a literal top-bit slice
// of the index, since shallow levels would otherwise skew almost every
// node into shard 0 - documented as a deliberate deviation in DESIGN.md.
type NodeStore struct {
	shards           []*shard
	maxPointsPerNode uint32
	maxLevels        uint32
	schema           AttributeSchema
	strategy         SamplingStrategy
}

// NewNodeStore builds a NodeStore with shardCount shards (rounded up to a
// power of two would be ideal but isn't required here) and seeds the root.
func NewNodeStore(shardCount int, maxPointsPerNode uint32, maxLevels uint32, schema AttributeSchema, strategy SamplingStrategy, rootBounds AABB) *NodeStore {
	if shardCount < 1 {
		shardCount = 1
	}
	ns := &NodeStore{
		shards:           make([]*shard, shardCount),
		maxPointsPerNode: maxPointsPerNode,
		maxLevels:        maxLevels,
		schema:           schema,
		strategy:         strategy,
	}
	for i := range ns.shards {
		ns.shards[i] = &shard{nodes: make(map[OctreeNodeIndex]*NodeState)}
	}
	root := RootNodeIndex(maxLevels)
	s := ns.shardFor(root)
	s.mu.Lock()
	s.nodes[root] = &NodeState{Bucket: NewPointBuffer(schema), Bounds: rootBounds}
	s.mu.Unlock()
	return ns
}

func (ns *NodeStore) shardFor(idx OctreeNodeIndex) *shard {
	h := fnv.New64a()
	var buf [12]byte
	buf[0] = byte(idx.levels)
	for i := 0; i < 8; i++ {
		buf[4+i] = byte(idx.index >> (8 * i))
	}
	h.Write(buf[:])
	return ns.shards[h.Sum64()%uint64(len(ns.shards))]
}

// GetOrCreate returns the handle for idx, creating it with the given
// bounds if it does not already exist. The caller is responsible for
// having already created idx's parent (invariant (a)).
func (ns *NodeStore) GetOrCreate(idx OctreeNodeIndex, bounds AABB) OctreeNodeIndex {
	s := ns.shardFor(idx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[idx]; !ok {
		s.nodes[idx] = &NodeState{Bucket: NewPointBuffer(ns.schema), Bounds: bounds}
	}
	return idx
}

// MarkChildPresent sets the child-present bit for octant o on parent.
func (ns *NodeStore) MarkChildPresent(parent OctreeNodeIndex, o uint8) {
	s := ns.shardFor(parent)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.nodes[parent]; ok {
		st.ChildrenPresent |= 1 << o
	}
}

// PushPoint offers p to the node identified by handle, applying the
// subsampling strategy (for non-leaf nodes) and the capacity policy.
func (ns *NodeStore) PushPoint(handle OctreeNodeIndex, p Point) Action {
	s := ns.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.nodes[handle]

	isLeaf := handle.Levels() == handle.MaxLevels()
	if isLeaf {
		if uint32(st.Bucket.Len()) >= ns.maxPointsPerNode {
			return Action{Kind: FlushRequested}
		}
		st.Bucket.Append(p)
		return Action{Kind: Kept}
	}

	accepted, octant, overflow, overflowOctant := ns.strategy.TryAccept(st, p, st.Bounds, ns.maxPointsPerNode)
	if !accepted {
		return Action{Kind: CascadeToChild, Octant: octant}
	}
	if overflow != nil {
		// The new point already replaced a slot in place; only the
		// evicted point needs to keep moving.
		return Action{Kind: Kept, Overflow: overflow, OverflowOctant: overflowOctant}
	}
	if uint32(st.Bucket.Len()) >= ns.maxPointsPerNode {
		return Action{Kind: SplitRequested, Octant: st.Bounds.OctantFor(p.Position)}
	}
	st.Bucket.Append(p)
	return Action{Kind: Kept}
}

// TakeBucket detaches handle's bucket, leaving the node present but empty,
// and returns what was taken.
func (ns *NodeStore) TakeBucket(handle OctreeNodeIndex) PointBuffer {
	s := ns.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.nodes[handle]
	taken := st.Bucket
	st.Bucket = NewPointBuffer(ns.schema)
	return taken
}

// Bounds returns the stored AABB for handle.
func (ns *NodeStore) Bounds(handle OctreeNodeIndex) AABB {
	s := ns.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[handle].Bounds
}

// BucketLen returns the current bucket length for handle, without taking
// it.
func (ns *NodeStore) BucketLen(handle OctreeNodeIndex) int {
	s := ns.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[handle].Bucket.Len()
}

// MarkFlushed records that handle's bucket has been durably persisted (or,
// on failure, attaches err to the node). count is the number of points in
// the bucket that was just flushed (zero on failure), added to the node's
// running PersistedCount so TilesetAssembler can report the true total
// even though TakeBucket already emptied the live bucket.
func (ns *NodeStore) MarkFlushed(handle OctreeNodeIndex, count int, err error) {
	s := ns.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.nodes[handle]
	st.Flushed = err == nil
	st.Err = err
	if err == nil {
		st.PersistedCount += count
	}
}

// Get returns a read-only snapshot of a node's state fields needed by
// TilesetAssembler and tests. The returned NodeState must not be mutated.
func (ns *NodeStore) Get(handle OctreeNodeIndex) (*NodeState, bool) {
	s := ns.shardFor(handle)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.nodes[handle]
	return st, ok
}

// Walk performs a DFS traversal of the present tree, parent before
// children, starting at the root.
func (ns *NodeStore) Walk(maxLevels uint32, fn func(idx OctreeNodeIndex, state *NodeState) error) error {
	root := RootNodeIndex(maxLevels)
	return ns.walk(root, fn)
}

func (ns *NodeStore) walk(idx OctreeNodeIndex, fn func(OctreeNodeIndex, *NodeState) error) error {
	st, ok := ns.Get(idx)
	if !ok {
		return nil
	}
	if err := fn(idx, st); err != nil {
		return err
	}
	for o := uint8(0); o < 8; o++ {
		if st.ChildrenPresent&(1<<o) == 0 {
			continue
		}
		child, err := idx.Child(o)
		if err != nil {
			return err
		}
		if err := ns.walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}
