package pctiler

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
)

// Potree's own format: cloud.js carries static metadata (point count,
// bounding box, attribute layout); hierarchy.bin is a flat DFS encoding of
// the tree, one {childMask byte, pointCount uint32} record per node, used
// by the viewer to avoid a separate request per node just to learn which
// children exist. Node data files are named by the "r"+octant-digits
// convention (Potree naming, see OctreeNodeIndex.ToString).
type cloudJS struct {
	Version          string   `json:"version"`
	OctreeDir        string   `json:"octreeDir"`
	Points           int      `json:"points"`
	BoundingBox      box3     `json:"boundingBox"`
	TightBoundingBox box3     `json:"tightBoundingBox"`
	PointAttributes  []string `json:"pointAttributes"`
	Scale            float64  `json:"scale"`
	HierarchyStepSize int     `json:"hierarchyStepSize"`
}

type box3 struct {
	LX, LY, LZ float64
	UX, UY, UZ float64
}

func box3FromAABB(b AABB) box3 {
	return box3{b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z}
}

func pointAttributeNames(schema AttributeSchema) []string {
	names := []string{"POSITION_CARTESIAN"}
	if schema.Has(AttrRGB) {
		names = append(names, "COLOR_PACKED")
	}
	if schema.Has(AttrIntensity) {
		names = append(names, "INTENSITY")
	}
	if schema.Has(AttrClassification) {
		names = append(names, "CLASSIFICATION")
	}
	if schema.Has(AttrGPSTime) {
		names = append(names, "GPS_TIME")
	}
	if schema.Has(AttrNormal) {
		names = append(names, "NORMAL")
	}
	return names
}

func writePotreeTileset(outputDir string, root *Descriptor, cfg Config) error {
	meta := cloudJS{
		Version:           "1.8",
		OctreeDir:         "data",
		Points:            totalPoints(root),
		BoundingBox:       box3FromAABB(root.Bounds),
		TightBoundingBox:  box3FromAABB(root.Bounds),
		PointAttributes:   pointAttributeNames(cfg.Schema),
		Scale:             0.001,
		HierarchyStepSize: 5,
	}
	if err := writeJSONFile(filepath.Join(outputDir, "cloud.js"), meta); err != nil {
		return err
	}

	var buf bytes.Buffer
	writePotreeNode(&buf, root)
	path := filepath.Join(outputDir, "data", "r", "hierarchy.bin")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &IoError{Path: path, Cause: err}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return &IoError{Path: path, Cause: err}
	}
	return nil
}

func writePotreeNode(buf *bytes.Buffer, d *Descriptor) {
	var childMask uint8
	for o, c := range d.Children {
		if c != nil {
			childMask |= 1 << uint(o)
		}
	}
	binary.Write(buf, binary.LittleEndian, childMask)
	binary.Write(buf, binary.LittleEndian, uint32(d.PointCount))
	for _, c := range d.Children {
		if c != nil {
			writePotreeNode(buf, c)
		}
	}
}

func totalPoints(d *Descriptor) int {
	if d == nil {
		return 0
	}
	n := d.PointCount
	for _, c := range d.Children {
		n += totalPoints(c)
	}
	return n
}
