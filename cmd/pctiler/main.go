// Command pctiler converts point cloud input files into a spatially
// indexed tileset. See spec.md section 6 for the option table this flag
// set mirrors.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pctiler/pctiler"
	"github.com/pctiler/pctiler/reader/lasreader"
	"github.com/pctiler/pctiler/reader/plyreader"
)

// Exit codes per spec.md section 6.
const (
	exitSuccess = 0
	exitConfig  = 1
	exitIO      = 2
	exitCancel  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func run(args []string) int {
	fs := flag.NewFlagSet("pctiler", flag.ContinueOnError)

	var inputs stringList
	fs.Var(&inputs, "input", "input file or directory (repeatable)")
	fs.Var(&inputs, "i", "shorthand for --input")
	output := fs.String("output", "", "output directory")
	fs.StringVar(output, "o", "", "shorthand for --output")
	maxDepth := fs.Uint("max-depth", 10, "octree max levels (<=21)")
	maxPointsPerNode := fs.Uint("max-points-per-node", 20000, "NodeStore bucket capacity")
	sampling := fs.String("sampling", "grid", "subsampling strategy: grid|random")
	gridSize := fs.Uint("grid-size", 128, "grid cell count per axis for --sampling=grid")
	format := fs.String("format", "3dtiles", "output convention: 3dtiles|potree|entwine")
	workers := fs.Uint("workers", 0, "indexing worker count (0 = CPU count - 1)")
	aabb := fs.String("aabb", "", "override computed bounds: minx,miny,minz,maxx,maxy,maxz")

	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg := pctiler.DefaultConfig()
	cfg.Inputs = inputs
	cfg.OutputDir = *output
	cfg.MaxDepth = uint32(*maxDepth)
	cfg.MaxPointsPerNode = uint32(*maxPointsPerNode)
	cfg.GridSize = uint32(*gridSize)
	if *workers > 0 {
		cfg.Workers = uint32(*workers)
	}

	switch *sampling {
	case "grid":
		cfg.Sampling = pctiler.SamplingGrid
	case "random":
		cfg.Sampling = pctiler.SamplingRandom
	default:
		fmt.Fprintf(os.Stderr, "pctiler: unknown --sampling %q\n", *sampling)
		return exitConfig
	}

	naming := pctiler.Simple
	switch *format {
	case "3dtiles":
		cfg.Format = pctiler.Format3DTiles
	case "potree":
		cfg.Format = pctiler.FormatPotree
		naming = pctiler.Potree
	case "entwine":
		cfg.Format = pctiler.FormatEntwine
		naming = pctiler.Entwine
	default:
		fmt.Fprintf(os.Stderr, "pctiler: unknown --format %q\n", *format)
		return exitConfig
	}

	if *aabb != "" {
		parsed, err := parseAABB(*aabb)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pctiler: %v\n", err)
			return exitConfig
		}
		cfg.AABBOverride = &parsed
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "pctiler: %v\n", err)
		return exitConfig
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	stats := pctiler.NewStats()

	persistence, err := pctiler.NewDiskPersistence(
		filepath.Join(cfg.OutputDir, "data"),
		naming,
		cfg.Schema,
		int(cfg.WriterWorkers),
		cfg.ReaderChannelDepth,
		stats,
		logger,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pctiler: %v\n", err)
		return exitIO
	}
	defer persistence.Close()

	pipeline := pctiler.NewTilerPipeline(cfg, openByExtension, persistence, stats, logger)

	_, err = pipeline.Run()
	if err != nil {
		var cancelled *pctiler.CancelledError
		if errors.As(err, &cancelled) {
			logger.Warn("run cancelled")
			return exitCancel
		}
		fmt.Fprintf(os.Stderr, "pctiler: %v\n", err)
		return exitIO
	}
	if stats.IoErrors.Load() > 0 {
		return exitIO
	}
	return exitSuccess
}

func openByExtension(path string, schema pctiler.AttributeSchema, maxBatch int, stats *pctiler.Stats) (pctiler.PointReader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".las":
		return lasreader.Open(path, schema, maxBatch, stats)
	case ".ply":
		return plyreader.Open(path, schema, maxBatch, stats)
	default:
		return nil, fmt.Errorf("unsupported input extension %q", filepath.Ext(path))
	}
}

func parseAABB(s string) (pctiler.AABB, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return pctiler.AABB{}, fmt.Errorf("--aabb needs 6 comma-separated values, got %d", len(parts))
	}
	var v [6]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return pctiler.AABB{}, fmt.Errorf("--aabb: %w", err)
		}
		v[i] = f
	}
	return pctiler.NewAABB(
		pctiler.Vec3{X: v[0], Y: v[1], Z: v[2]},
		pctiler.Vec3{X: v[3], Y: v[4], Z: v[5]},
	), nil
}
