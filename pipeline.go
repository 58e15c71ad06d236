package pctiler

import (
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBatchSize = 8192

// runContext is the explicit, non-global state threaded through a single
// pipeline run: the cancellation flag, stats, logger and the (immutable
// once set) root bounds. Per the "re-architect as an explicit context"
// design note, nothing here lives behind package-level state - a second
// concurrent Run on a second TilerPipeline never observes this one's
// cancellation.
type runContext struct {
	cancel     atomic.Bool
	stats      *Stats
	logger     *slog.Logger
	rootBounds AABB
}

func (rc *runContext) cancelled() bool { return rc.cancel.Load() }

// TilerPipeline wires every component built so far - NodeStore, Indexer,
// Persistence, TilesetAssembler - into the four-phase run spec.md 4.H
// describes, with the worker pools and bounded channels of section 5.
type TilerPipeline struct {
	cfg         Config
	opener      ReaderOpener
	persistence Persistence
	logger      *slog.Logger

	rc    *runContext
	store *NodeStore
}

// NewTilerPipeline assembles a pipeline. The caller supplies a
// ReaderOpener (dispatching on file extension to lasreader/plyreader) and
// a Persistence backend (DiskPersistence for real runs, MemoryPersistence
// for tests). stats is shared with the caller's Persistence (DiskPersistence
// also records IoErrors into it) rather than allocated internally, so a
// single *Stats reflects the whole run.
func NewTilerPipeline(cfg Config, opener ReaderOpener, persistence Persistence, stats *Stats, logger *slog.Logger) *TilerPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = NewStats()
	}
	return &TilerPipeline{
		cfg:         cfg,
		opener:      opener,
		persistence: persistence,
		logger:      logger,
		rc:          &runContext{stats: stats, logger: logger},
	}
}

// Stats returns the pipeline's live counters; safe to read while Run is in
// progress.
func (p *TilerPipeline) Stats() *Stats { return p.rc.stats }

// Cancel requests cooperative shutdown: in-flight batches/files finish,
// nothing new is enqueued, and Run returns a *CancelledError once every
// pool has drained.
func (p *TilerPipeline) Cancel() { p.rc.cancel.Store(true) }

// Run executes all four phases in order, each a barrier over the last.
func (p *TilerPipeline) Run() (*Descriptor, error) {
	if err := p.prepare(); err != nil {
		var cancelled *CancelledError
		if errors.As(err, &cancelled) {
			// finalize leaves the partial marker for a cancelled run.
			return p.finalize()
		}
		return nil, err
	}
	if err := p.index(); err != nil {
		return nil, err
	}
	if err := p.drain(); err != nil {
		return nil, err
	}
	return p.finalize()
}

// prepare computes and cubifies the root AABB: either the caller's
// override, or a scan over every input that touches each point's position
// only (readers are reopened fresh for the index phase).
func (p *TilerPipeline) prepare() error {
	start := time.Now()
	defer func() { p.rc.stats.DurationPrepare = time.Since(start) }()

	if p.cfg.AABBOverride != nil {
		p.rc.rootBounds = p.cfg.AABBOverride.Cubify()
		return nil
	}

	var bounds AABB
	first := true
	for _, input := range p.cfg.Inputs {
		if p.rc.cancelled() {
			return &CancelledError{}
		}
		if err := p.scanInput(input, &bounds, &first); err != nil {
			return err
		}
	}
	if first {
		// No points seen at all; fall back to a unit box so downstream
		// code has something cubic to work with for an empty run.
		bounds = AABB{Min: Vec3{0, 0, 0}, Max: Vec3{1, 1, 1}}
	}
	p.rc.rootBounds = bounds.Cubify()
	return nil
}

func (p *TilerPipeline) scanInput(input string, bounds *AABB, first *bool) error {
	r, err := p.opener(input, p.cfg.Schema, defaultBatchSize, p.rc.stats)
	if err != nil {
		p.rc.stats.IoErrors.Add(1)
		return &IoError{Path: input, Cause: err}
	}
	defer r.Close()
	for {
		batch, err := r.NextBatch()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			p.rc.stats.IoErrors.Add(1)
			return &IoError{Path: input, Cause: err}
		}
		for i := 0; i < batch.Len(); i++ {
			pos := batch.Position[i]
			if *first {
				*bounds = AABB{Min: pos, Max: pos}
				*first = false
			} else {
				*bounds = bounds.UnionPoint(pos)
			}
		}
	}
}

type batchJob struct {
	batch PointBuffer
}

// index runs the reader, indexing and writer pools concurrently, each
// over a bounded channel, per section 5's pool model.
func (p *TilerPipeline) index() error {
	start := time.Now()
	defer func() { p.rc.stats.DurationIndex = time.Since(start) }()

	strategy := samplingStrategyFromConfig(p.cfg)
	p.store = NewNodeStore(p.cfg.ShardCount, p.cfg.MaxPointsPerNode, p.cfg.MaxDepth, p.cfg.Schema, strategy, p.rc.rootBounds)

	batchCh := make(chan batchJob, p.cfg.ReaderChannelDepth)
	flushCh := make(chan FlushRequest, p.cfg.ReaderChannelDepth)

	var writerWG sync.WaitGroup
	for i := uint32(0); i < p.cfg.WriterWorkers; i++ {
		writerWG.Add(1)
		go func() {
			defer writerWG.Done()
			for req := range flushCh {
				n := req.Bucket.Len()
				err := p.persistence.Persist(req.NodeIndex, req.Bounds, req.Bucket)
				p.store.MarkFlushed(req.NodeIndex, n, err)
				if err != nil {
					p.rc.stats.IoErrors.Add(1)
					p.logger.Error("flush failed", slog.String("node", req.NodeIndex.ToString(Simple)), slog.Any("err", err))
				}
			}
		}()
	}

	var indexWG sync.WaitGroup
	for i := uint32(0); i < p.cfg.Workers; i++ {
		indexWG.Add(1)
		go func() {
			defer indexWG.Done()
			idx := NewIndexer(p.store, p.rc.rootBounds, p.cfg.MaxDepth, p.rc.stats, p.logger, flushCh)
			for job := range batchCh {
				if p.rc.cancelled() {
					continue
				}
				for i := 0; i < job.batch.Len(); i++ {
					idx.ProcessPoint(job.batch.At(i))
				}
			}
		}()
	}

	var readerWG sync.WaitGroup
	var readerErr error
	var readerErrOnce sync.Once
	for _, input := range p.cfg.Inputs {
		readerWG.Add(1)
		go func(input string) {
			defer readerWG.Done()
			if err := p.readInput(input, batchCh); err != nil {
				readerErrOnce.Do(func() { readerErr = err })
			}
		}(input)
	}

	readerWG.Wait()
	close(batchCh)
	indexWG.Wait()
	close(flushCh)
	writerWG.Wait()

	if readerErr != nil {
		return readerErr
	}
	if p.rc.cancelled() {
		return nil // index phase ends cleanly; drain/finalize observe cancellation
	}
	return nil
}

func (p *TilerPipeline) readInput(input string, batchCh chan<- batchJob) error {
	r, err := p.opener(input, p.cfg.Schema, defaultBatchSize, p.rc.stats)
	if err != nil {
		p.rc.stats.IoErrors.Add(1)
		return &IoError{Path: input, Cause: err}
	}
	defer r.Close()
	for {
		if p.rc.cancelled() {
			return nil
		}
		batch, err := r.NextBatch()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			p.rc.stats.IoErrors.Add(1)
			return &IoError{Path: input, Cause: err}
		}
		batch.SourceFile = input
		batchCh <- batchJob{batch: batch}
	}
}

// drain flushes every node whose bucket is non-empty, including a node
// flushed earlier whose bucket has refilled since, synchronously through
// the same Persistence backend the writer pool used.
func (p *TilerPipeline) drain() error {
	start := time.Now()
	defer func() { p.rc.stats.DurationDrain = time.Since(start) }()

	if p.rc.cancelled() {
		return nil
	}
	return p.store.Walk(p.cfg.MaxDepth, func(idx OctreeNodeIndex, st *NodeState) error {
		if st.Bucket.Len() == 0 {
			return nil
		}
		bucket := p.store.TakeBucket(idx)
		n := bucket.Len()
		err := p.persistence.Persist(idx, st.Bounds, bucket)
		p.store.MarkFlushed(idx, n, err)
		if err != nil {
			p.rc.stats.IoErrors.Add(1)
		}
		return nil
	})
}

// finalize assembles and writes the descriptor tree, unless the run was
// cancelled, in which case it leaves a partial marker instead.
func (p *TilerPipeline) finalize() (*Descriptor, error) {
	start := time.Now()
	defer func() { p.rc.stats.DurationFinalize = time.Since(start) }()

	if p.rc.cancelled() {
		if err := writePartialMarker(p.cfg.OutputDir); err != nil {
			return nil, err
		}
		p.rc.stats.Dump(p.cfg.OutputDir)
		return nil, &CancelledError{}
	}

	assembler := NewTilesetAssembler(p.store, p.cfg)
	root, err := assembler.Build()
	if err != nil {
		return nil, err
	}
	if err := ensureDir(p.cfg.OutputDir); err != nil {
		return nil, err
	}
	if err := assembler.Write(p.cfg.OutputDir, root); err != nil {
		return nil, err
	}
	if err := p.rc.stats.Dump(p.cfg.OutputDir); err != nil {
		return nil, err
	}
	return root, nil
}

func writePartialMarker(outputDir string) error {
	if err := ensureDir(outputDir); err != nil {
		return err
	}
	path := filepath.Join(outputDir, "partial")
	if err := os.WriteFile(path, []byte("run cancelled before finalize\n"), 0o644); err != nil {
		return &IoError{Path: path, Cause: err}
	}
	return nil
}

func samplingStrategyFromConfig(cfg Config) SamplingStrategy {
	switch cfg.Sampling {
	case SamplingRandom:
		return RandomStrategy{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	default:
		return GridStrategy{N: cfg.GridSize}
	}
}
