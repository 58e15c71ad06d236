package pctiler

import (
	"fmt"
	"os"
)

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IoError{Path: dir, Cause: err}
	}
	return nil
}

// Descriptor is the in-memory tree TilesetAssembler builds from a finished
// NodeStore before handing it to one of the format-specific encoders. It
// carries just enough to write any of the three output conventions: the
// node's own index/bounds/point count plus pointers to its present
// children, in octant order (sparse - a nil entry means that octant has no
// child).
type Descriptor struct {
	Node       OctreeNodeIndex
	Bounds     AABB
	PointCount int
	Children   [8]*Descriptor
}

// TilesetAssembler walks a finished NodeStore and produces descriptor files
// in one of the three supported conventions. Unchanged from spec.md 4.G:
// DFS, geometricError proportional to rootError/2^level, refine always
// "ADD", external sibling descriptors past MaxDepthPerFile.
type TilesetAssembler struct {
	store      *NodeStore
	maxLevels  uint32
	cfg        Config
	pointCount func(OctreeNodeIndex) int
}

// NewTilesetAssembler builds an assembler over store. It leaves the
// pointCount override unset, so node point counts come from count().
func NewTilesetAssembler(store *NodeStore, cfg Config) *TilesetAssembler {
	return &TilesetAssembler{store: store, maxLevels: cfg.MaxDepth, cfg: cfg}
}

// Build walks the present tree from the root and returns its Descriptor, or
// nil if the store has no root or the root holds no points and has no
// children (empty input).
func (a *TilesetAssembler) Build() (*Descriptor, error) {
	root := RootNodeIndex(a.maxLevels)
	d, err := a.build(root)
	if err != nil || d == nil {
		return d, err
	}
	// NewNodeStore always seeds the root, so an empty run shows up as a
	// root with no points and no children rather than a missing root.
	if d.PointCount == 0 && len(childIndices(d)) == 0 {
		return nil, nil
	}
	return d, nil
}

func (a *TilesetAssembler) build(idx OctreeNodeIndex) (*Descriptor, error) {
	st, ok := a.store.Get(idx)
	if !ok {
		return nil, nil
	}
	d := &Descriptor{Node: idx, Bounds: st.Bounds, PointCount: a.count(idx, st)}
	for o := uint8(0); o < 8; o++ {
		if st.ChildrenPresent&(1<<o) == 0 {
			continue
		}
		child, err := idx.Child(o)
		if err != nil {
			return nil, err
		}
		cd, err := a.build(child)
		if err != nil {
			return nil, err
		}
		d.Children[o] = cd
	}
	return d, nil
}

// count returns a node's true point total: PersistedCount (every flush's
// worth of points handed to Persistence so far, since TakeBucket empties
// the live bucket on each flush) plus whatever is still sitting in the
// live bucket unflushed.
func (a *TilesetAssembler) count(idx OctreeNodeIndex, st *NodeState) int {
	if a.pointCount != nil {
		return a.pointCount(idx)
	}
	return st.PersistedCount + st.Bucket.Len()
}

// geometricError implements rootError / 2^level.
func geometricError(rootError float64, level uint32) float64 {
	return rootError / float64(uint64(1)<<level)
}

// Write dispatches to the encoder selected by cfg.Format, writing into
// outputDir. A nil root writes the empty 3D Tiles tileset.json whatever the
// format.
func (a *TilesetAssembler) Write(outputDir string, root *Descriptor) error {
	if root == nil {
		return writeEmptyTileset(outputDir, a.cfg)
	}
	switch a.cfg.Format {
	case FormatPotree:
		return writePotreeTileset(outputDir, root, a.cfg)
	case FormatEntwine:
		return writeEntwineTileset(outputDir, root, a.cfg)
	default:
		return write3DTilesTileset(outputDir, root, a.cfg)
	}
}

func nodeContentURI(node OctreeNodeIndex, conv NamingConvention, ext string) string {
	return fmt.Sprintf("%s.%s", node.ToString(conv), ext)
}

func childIndices(d *Descriptor) []*Descriptor {
	out := make([]*Descriptor, 0, 8)
	for _, c := range d.Children {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}
