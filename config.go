package pctiler

import (
	"os"
	"path/filepath"
	"runtime"
)

// SamplingKind selects the subsampling strategy used at inner nodes.
type SamplingKind int

const (
	SamplingGrid SamplingKind = iota
	SamplingRandom
)

// Format selects the output tileset convention: which node-naming
// convention is used and which descriptor container is written.
type Format int

const (
	Format3DTiles Format = iota
	FormatPotree
	FormatEntwine
)

func (f Format) namingConvention() NamingConvention {
	switch f {
	case FormatPotree:
		return Potree
	case FormatEntwine:
		return Entwine
	default:
		return Simple
	}
}

func (f Format) fileExt() string {
	switch f {
	case Format3DTiles:
		return "pnts"
	default:
		return "bin"
	}
}

// Config collects everything the CLI gathers before a run starts. Fields
// mirror the CLI options of spec.md section 6 one-to-one.
type Config struct {
	Inputs    []string
	OutputDir string

	MaxDepth         uint32 // L, octree max levels, <=21
	MaxPointsPerNode uint32
	Sampling         SamplingKind
	GridSize         uint32
	Format           Format
	Workers          uint32

	// AABBOverride, if non-nil, skips the prepare-phase AABB scan.
	AABBOverride *AABB

	ShardCount         int
	WriterWorkers      uint32
	ReaderChannelDepth int

	RootGeometricError float64
	MaxDepthPerFile    uint32

	Schema AttributeSchema
}

// DefaultConfig returns the documented defaults for every option the CLI
// does not require the caller to set explicitly.
func DefaultConfig() Config {
	workers := runtime.NumCPU() - 1
	if workers < 1 {
		workers = 1
	}
	return Config{
		MaxDepth:           10,
		MaxPointsPerNode:   20000,
		Sampling:           SamplingGrid,
		GridSize:           128,
		Format:             Format3DTiles,
		Workers:            uint32(workers),
		ShardCount:         64,
		WriterWorkers:      4,
		ReaderChannelDepth: 0, // filled to 4*Workers by Validate if zero
		RootGeometricError: 50,
		MaxDepthPerFile:    10,
		Schema:             AttrRGB | AttrIntensity | AttrClassification,
	}
}

// Validate checks the invariants the pipeline depends on, returning a
// *ConfigError on the first violation found. It is checked once at
// startup, before any pool spawns.
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return &ConfigError{Msg: "at least one --input path is required"}
	}
	for _, in := range c.Inputs {
		if _, err := os.Stat(in); err != nil {
			return &ConfigError{Msg: "unreadable input path " + in, Cause: err}
		}
	}
	if c.OutputDir == "" {
		return &ConfigError{Msg: "--output is required"}
	}
	parent := filepath.Dir(c.OutputDir)
	if _, err := os.Stat(parent); err != nil {
		return &ConfigError{Msg: "output parent directory does not exist: " + parent, Cause: err}
	}
	if c.MaxDepth == 0 || c.MaxDepth > MaxSupportedLevels {
		return &ConfigError{Msg: "--max-depth must be in [1,21]"}
	}
	if c.MaxPointsPerNode == 0 {
		return &ConfigError{Msg: "--max-points-per-node must be positive"}
	}
	if c.Sampling == SamplingGrid && c.GridSize == 0 {
		return &ConfigError{Msg: "--grid-size must be positive for grid sampling"}
	}
	if c.Workers == 0 {
		return &ConfigError{Msg: "--workers must be positive"}
	}
	if c.ShardCount < 1 {
		c.ShardCount = 64
	}
	if c.WriterWorkers == 0 {
		c.WriterWorkers = 2
	}
	if c.ReaderChannelDepth == 0 {
		c.ReaderChannelDepth = int(4 * c.Workers)
	}
	return nil
}
