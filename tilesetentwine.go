package pctiler

import (
	"path/filepath"
)

// Entwine's ept.json carries static metadata (schema, span, bounds);
// ept-hierarchy/0-0-0-0.json maps every present node's "D-X-Y-Z" name to
// its point count, letting a viewer fetch the whole hierarchy in one
// request for small trees (Entwine splits this across multiple files past
// a size threshold; this implementation keeps the single-file form, which
// is the format's documented minimum valid shape).
type eptSchemaEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int    `json:"size"`
}

type eptJSON struct {
	Version    string            `json:"version"`
	Schema     []eptSchemaEntry  `json:"schema"`
	Points     int               `json:"points"`
	Span       int               `json:"span"`
	Bounds     [6]float64        `json:"bounds"`
	BoundsConf [6]float64        `json:"boundsConforming"`
	DataType   string            `json:"dataType"`
	Hierarchy  map[string]string `json:"hierarchyType,omitempty"`
}

func eptSchema(schema AttributeSchema) []eptSchemaEntry {
	entries := []eptSchemaEntry{
		{Name: "X", Type: "double", Size: 8},
		{Name: "Y", Type: "double", Size: 8},
		{Name: "Z", Type: "double", Size: 8},
	}
	if schema.Has(AttrIntensity) {
		entries = append(entries, eptSchemaEntry{Name: "Intensity", Type: "unsigned", Size: 2})
	}
	if schema.Has(AttrClassification) {
		entries = append(entries, eptSchemaEntry{Name: "Classification", Type: "unsigned", Size: 1})
	}
	if schema.Has(AttrRGB) {
		entries = append(entries,
			eptSchemaEntry{Name: "Red", Type: "unsigned", Size: 1},
			eptSchemaEntry{Name: "Green", Type: "unsigned", Size: 1},
			eptSchemaEntry{Name: "Blue", Type: "unsigned", Size: 1},
		)
	}
	if schema.Has(AttrGPSTime) {
		entries = append(entries, eptSchemaEntry{Name: "GpsTime", Type: "double", Size: 8})
	}
	if schema.Has(AttrNormal) {
		entries = append(entries,
			eptSchemaEntry{Name: "NormalX", Type: "float", Size: 4},
			eptSchemaEntry{Name: "NormalY", Type: "float", Size: 4},
			eptSchemaEntry{Name: "NormalZ", Type: "float", Size: 4},
		)
	}
	return entries
}

func writeEntwineTileset(outputDir string, root *Descriptor, cfg Config) error {
	b := root.Bounds
	meta := eptJSON{
		Version:    "1.1.0",
		Schema:     eptSchema(cfg.Schema),
		Points:     totalPoints(root),
		Span:       int(cfg.GridSize),
		Bounds:     [6]float64{b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z},
		BoundsConf: [6]float64{b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z},
		DataType:   "binary",
	}
	if err := writeJSONFile(filepath.Join(outputDir, "ept.json"), meta); err != nil {
		return err
	}

	hierarchy := make(map[string]int)
	collectEntwineHierarchy(root, hierarchy)
	path := filepath.Join(outputDir, "ept-hierarchy", "0-0-0-0.json")
	if err := mkdirAndWriteJSON(path, hierarchy); err != nil {
		return err
	}
	return nil
}

func collectEntwineHierarchy(d *Descriptor, out map[string]int) {
	if d == nil {
		return
	}
	out[d.Node.ToString(Entwine)] = d.PointCount
	for _, c := range d.Children {
		collectEntwineHierarchy(c, out)
	}
}

func mkdirAndWriteJSON(path string, v any) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return writeJSONFile(path, v)
}
