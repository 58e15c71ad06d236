package pctiler

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// tile3D mirrors the §6 3D Tiles descriptor schema: boundingVolume (box),
// geometricError, refine (always "ADD" here), content.uri, and a sparse
// children list.
type tile3D struct {
	BoundingVolume boundingVolume3D `json:"boundingVolume"`
	GeometricError float64          `json:"geometricError"`
	Refine         string           `json:"refine"`
	Content        *content3D       `json:"content,omitempty"`
	Children       []tile3D         `json:"children,omitempty"`
}

type boundingVolume3D struct {
	Box [12]float64 `json:"box"`
}

type content3D struct {
	URI string `json:"uri"`
}

type asset3D struct {
	Version        string `json:"version"`
	TilesetVersion string `json:"tilesetVersion,omitempty"`
	GltfUpAxis     string `json:"gltfUpAxis,omitempty"`
}

type tileset3D struct {
	Asset          asset3D  `json:"asset"`
	GeometricError float64  `json:"geometricError"`
	Root           tile3D   `json:"root"`
	Properties     *props3D `json:"properties,omitempty"`
}

type props3D struct {
	Height struct {
		Minimum float64 `json:"minimum"`
		Maximum float64 `json:"maximum"`
	} `json:"Height"`
}

func boxFromAABB(b AABB) [12]float64 {
	c := b.Center()
	e := b.Extent()
	return [12]float64{
		c.X, c.Y, c.Z,
		e.X / 2, 0, 0,
		0, e.Y / 2, 0,
		0, 0, e.Z / 2,
	}
}

// write3DTilesTileset writes tileset.json at outputDir, splitting the
// descriptor tree into external sibling files once a branch's depth within
// the current file exceeds cfg.MaxDepthPerFile. Each external tile is a
// normal tile whose content.uri points at another tileset.json; 3D Tiles
// viewers resolve a .json content as an external tileset automatically.
func write3DTilesTileset(outputDir string, root *Descriptor, cfg Config) error {
	tile, err := build3DTile(root, 0, cfg, outputDir)
	if err != nil {
		return err
	}
	out := tileset3D{
		Asset:          asset3D{Version: "1.0", GltfUpAxis: "Y"},
		GeometricError: geometricError(cfg.RootGeometricError, 0),
		Root:           tile,
	}
	return writeJSONFile(filepath.Join(outputDir, "tileset.json"), out)
}

func build3DTile(d *Descriptor, depthInFile uint32, cfg Config, outputDir string) (tile3D, error) {
	level := d.Node.Levels()
	t := tile3D{
		BoundingVolume: boundingVolume3D{Box: boxFromAABB(d.Bounds)},
		GeometricError: geometricError(cfg.RootGeometricError, level),
		Refine:         "ADD",
		Content:        &content3D{URI: nodeContentURI(d.Node, Simple, cfg.Format.fileExt())},
	}

	children := childIndices(d)
	if len(children) == 0 {
		return t, nil
	}

	if cfg.MaxDepthPerFile > 0 && depthInFile >= cfg.MaxDepthPerFile {
		for _, c := range children {
			subdir := c.Node.ToString(Simple)
			if err := os.MkdirAll(filepath.Join(outputDir, subdir), 0o755); err != nil {
				return tile3D{}, &IoError{Path: subdir, Cause: err}
			}
			if err := write3DTilesTileset(filepath.Join(outputDir, subdir), c, cfg); err != nil {
				return tile3D{}, err
			}
			t.Children = append(t.Children, tile3D{
				BoundingVolume: boundingVolume3D{Box: boxFromAABB(c.Bounds)},
				GeometricError: geometricError(cfg.RootGeometricError, c.Node.Levels()),
				Refine:         "ADD",
				Content:        &content3D{URI: filepath.ToSlash(filepath.Join(subdir, "tileset.json"))},
			})
		}
		return t, nil
	}

	for _, c := range children {
		ct, err := build3DTile(c, depthInFile+1, cfg, outputDir)
		if err != nil {
			return tile3D{}, err
		}
		t.Children = append(t.Children, ct)
	}
	return t, nil
}

func writeEmptyTileset(outputDir string, cfg Config) error {
	out := tileset3D{
		Asset:          asset3D{Version: "1.0", GltfUpAxis: "Y"},
		GeometricError: cfg.RootGeometricError,
		Root: tile3D{
			BoundingVolume: boundingVolume3D{},
			GeometricError: cfg.RootGeometricError,
			Refine:         "ADD",
		},
	}
	return writeJSONFile(filepath.Join(outputDir, "tileset.json"), out)
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return &IoError{Path: path, Cause: err}
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return &IoError{Path: path, Cause: err}
	}
	return nil
}
