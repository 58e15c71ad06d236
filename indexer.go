package pctiler

import (
	"log/slog"
)

// FlushRequest is what the Indexer hands to the persistence queue when a
// leaf's bucket fills up during the index phase. The drain phase does not
// use it: it calls Persistence directly for whatever remains.
type FlushRequest struct {
	NodeIndex OctreeNodeIndex
	Bounds    AABB
	Bucket    PointBuffer
}

// Indexer is the streaming point-to-node assignment engine: for every
// incoming point it walks the tree from the root, offering the point to
// each node's NodeStore.PushPoint until it is kept or a leaf needs
// flushing.
type Indexer struct {
	store      *NodeStore
	rootBounds AABB
	maxLevels  uint32
	stats      *Stats
	logger     *slog.Logger
	flushCh    chan<- FlushRequest
}

// NewIndexer wires an Indexer to its NodeStore and the channel flush
// requests are enqueued on (consumed by the writer pool).
func NewIndexer(store *NodeStore, rootBounds AABB, maxLevels uint32, stats *Stats, logger *slog.Logger, flushCh chan<- FlushRequest) *Indexer {
	return &Indexer{
		store:      store,
		rootBounds: rootBounds,
		maxLevels:  maxLevels,
		stats:      stats,
		logger:     logger,
		flushCh:    flushCh,
	}
}

// ProcessPoint runs the algorithm of spec.md 4.E on a single point: bounds
// check, then descend the tree until the point is kept or the walk hits a
// full leaf, which is flushed and retried.
func (idx *Indexer) ProcessPoint(p Point) {
	idx.stats.PointsProcessed.Add(1)
	if !idx.rootBounds.Contains(p.Position) {
		n := idx.stats.PointsDroppedOutOfBounds.Add(1)
		if n == 1 {
			idx.logger.Warn("dropping point outside root bounds", slog.Any("position", p.Position))
		}
		return
	}
	idx.descend(RootNodeIndex(idx.maxLevels), idx.rootBounds, p)
}

// descend walks the tree starting at (start, startBounds) offering p at
// each node until it is Kept (cascading any reservoir overflow
// separately) or a full leaf forces a flush-and-retry.
func (idx *Indexer) descend(start OctreeNodeIndex, startBounds AABB, p Point) {
	cur, bounds := start, startBounds
	idx.store.GetOrCreate(cur, bounds)

	for {
		action := idx.store.PushPoint(cur, p)
		switch action.Kind {
		case Kept:
			if action.Overflow != nil {
				childIdx, err := cur.Child(action.OverflowOctant)
				if err != nil {
					idx.logger.Error("reservoir overflow could not cascade", slog.Any("err", err))
					return
				}
				childBounds := bounds.Child(action.OverflowOctant)
				idx.store.GetOrCreate(childIdx, childBounds)
				idx.store.MarkChildPresent(cur, action.OverflowOctant)
				idx.descend(childIdx, childBounds, *action.Overflow)
			}
			return

		case SplitRequested, CascadeToChild:
			childIdx, err := cur.Child(action.Octant)
			if err != nil {
				idx.logger.Error("descent could not create child", slog.Any("err", err))
				return
			}
			childBounds := bounds.Child(action.Octant)
			idx.store.GetOrCreate(childIdx, childBounds)
			idx.store.MarkChildPresent(cur, action.Octant)
			cur, bounds = childIdx, childBounds

		case FlushRequested:
			bucket := idx.store.TakeBucket(cur)
			idx.flushCh <- FlushRequest{NodeIndex: cur, Bounds: bounds, Bucket: bucket}
			idx.stats.FlushesEnqueued.Add(1)
			// retry p against the now-empty bucket at the same node.
		}
	}
}
