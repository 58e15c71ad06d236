package pctiler

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Persistence is the capability set a flush target must provide: durably
// store a node's bucket, and retrieve whatever has been stored for a node
// so far (used on a duplicate flush to merge rather than overwrite).
type Persistence interface {
	Persist(node OctreeNodeIndex, bounds AABB, bucket PointBuffer) error
	Retrieve(node OctreeNodeIndex) (PointBuffer, AABB, bool, error)
}

// MemoryPersistence keeps flushed buckets in a process-local map, guarded by
// a single mutex. Intended for tests and small runs; DiskPersistence is what
// production pipelines use.
//
// Duplicate flushes of the same node (the Indexer can flush a leaf more than
// once as points keep arriving) are merged: retrieve whatever is already
// stored, concatenate, and re-store. This deliberately departs from the
// original MemoryPersistence, whose second flush of a node silently
// discarded the first - that loses points and breaks point conservation.
type MemoryPersistence struct {
	mu      sync.Mutex
	buckets map[OctreeNodeIndex]PointBuffer
	bounds  map[OctreeNodeIndex]AABB
}

// NewMemoryPersistence returns an empty MemoryPersistence.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		buckets: make(map[OctreeNodeIndex]PointBuffer),
		bounds:  make(map[OctreeNodeIndex]AABB),
	}
}

func (m *MemoryPersistence) Persist(node OctreeNodeIndex, bounds AABB, bucket PointBuffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.buckets[node]; ok {
		if err := existing.AppendBuffer(bucket); err != nil {
			return err
		}
		m.buckets[node] = existing
		return nil
	}
	m.buckets[node] = bucket
	m.bounds[node] = bounds
	return nil
}

func (m *MemoryPersistence) Retrieve(node OctreeNodeIndex) (PointBuffer, AABB, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[node]
	if !ok {
		return PointBuffer{}, AABB{}, false, nil
	}
	return b, m.bounds[node], true, nil
}

// DiskPersistence writes each node's bucket to its own point file under
// OutputDir, named by the node's string encoding under the given naming
// convention. Writes go through a bounded work queue served by a pool of
// writer goroutines, and every write is atomic: encode to a ".tmp" sibling,
// then os.Rename over the final path, so a crash mid-write never leaves a
// half-written point file for the assembler to trip over.
type DiskPersistence struct {
	dir        string
	convention NamingConvention
	schema     AttributeSchema
	logger     *slog.Logger
	stats      *Stats

	mu sync.Mutex // serializes retrieve-modify-persist merges per process

	jobs chan diskJob
	wg   sync.WaitGroup
}

type diskJob struct {
	node   OctreeNodeIndex
	bounds AABB
	bucket PointBuffer
	result chan<- error
}

// NewDiskPersistence creates dir if needed and starts workerCount writer
// goroutines pulling from a queue of depth queueDepth.
func NewDiskPersistence(dir string, convention NamingConvention, schema AttributeSchema, workerCount int, queueDepth int, stats *Stats, logger *slog.Logger) (*DiskPersistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IoError{Path: dir, Cause: err}
	}
	if workerCount < 1 {
		workerCount = 1
	}
	if queueDepth < 1 {
		queueDepth = workerCount
	}
	dp := &DiskPersistence{
		dir:        dir,
		convention: convention,
		schema:     schema,
		logger:     logger,
		stats:      stats,
		jobs:       make(chan diskJob, queueDepth),
	}
	for i := 0; i < workerCount; i++ {
		dp.wg.Add(1)
		go dp.worker()
	}
	return dp, nil
}

func (dp *DiskPersistence) worker() {
	defer dp.wg.Done()
	for job := range dp.jobs {
		err := dp.persistSync(job.node, job.bounds, job.bucket)
		if err != nil {
			dp.stats.IoErrors.Add(1)
			dp.logger.Error("disk persistence write failed", slog.String("node", job.node.ToString(dp.convention)), slog.Any("err", err))
		} else {
			dp.stats.FilesWritten.Add(1)
		}
		if job.result != nil {
			job.result <- err
		}
	}
}

// Persist enqueues a write and blocks until it completes. Blocking here
// (rather than fire-and-forget) keeps the flush channel's backpressure
// meaningful: a writer pool that falls behind stalls the indexing pool
// upstream of it instead of letting buckets pile up unbounded in memory.
func (dp *DiskPersistence) Persist(node OctreeNodeIndex, bounds AABB, bucket PointBuffer) error {
	result := make(chan error, 1)
	dp.jobs <- diskJob{node: node, bounds: bounds, bucket: bucket, result: result}
	return <-result
}

func (dp *DiskPersistence) path(node OctreeNodeIndex) string {
	return filepath.Join(dp.dir, node.ToString(dp.convention)+".bin")
}

func (dp *DiskPersistence) persistSync(node OctreeNodeIndex, bounds AABB, bucket PointBuffer) error {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	final := dp.path(node)
	merged := bucket
	mergedBounds := bounds
	if existing, existingBounds, ok, err := dp.retrieveLocked(node); err != nil {
		return err
	} else if ok {
		merged = existing
		if err := merged.AppendBuffer(bucket); err != nil {
			return err
		}
		mergedBounds = existingBounds.Union(bounds)
	}

	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &IoError{Path: tmp, Cause: err}
	}
	if err := EncodePointBuffer(f, mergedBounds, merged); err != nil {
		f.Close()
		os.Remove(tmp)
		return &IoError{Path: tmp, Cause: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &IoError{Path: tmp, Cause: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		return &IoError{Path: final, Cause: err}
	}
	return nil
}

func (dp *DiskPersistence) retrieveLocked(node OctreeNodeIndex) (PointBuffer, AABB, bool, error) {
	path := dp.path(node)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return PointBuffer{}, AABB{}, false, nil
	}
	if err != nil {
		return PointBuffer{}, AABB{}, false, &IoError{Path: path, Cause: err}
	}
	defer f.Close()
	pb, bounds, err := DecodePointBuffer(f)
	if err != nil {
		return PointBuffer{}, AABB{}, false, fmt.Errorf("decoding existing flush for merge: %w", err)
	}
	return pb, bounds, true, nil
}

// Retrieve reads whatever has been durably stored for node, if anything.
func (dp *DiskPersistence) Retrieve(node OctreeNodeIndex) (PointBuffer, AABB, bool, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.retrieveLocked(node)
}

// Close stops accepting new jobs and waits for the writer pool to drain.
func (dp *DiskPersistence) Close() {
	close(dp.jobs)
	dp.wg.Wait()
}
