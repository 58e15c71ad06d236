package pctiler

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "in.las")
	if err := os.WriteFile(input, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Inputs = []string{input}
	cfg.OutputDir = filepath.Join(dir, "out")
	return cfg
}

func TestConfig_Validate_Accepts(t *testing.T) {
	cfg := validConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfig_Validate_MissingInput(t *testing.T) {
	cfg := validConfig(t)
	cfg.Inputs = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty Inputs")
	}
}

func TestConfig_Validate_UnreadableInput(t *testing.T) {
	cfg := validConfig(t)
	cfg.Inputs = []string{filepath.Join(t.TempDir(), "does-not-exist.las")}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unreadable input path")
	}
}

func TestConfig_Validate_MissingOutput(t *testing.T) {
	cfg := validConfig(t)
	cfg.OutputDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty OutputDir")
	}
}

func TestConfig_Validate_MaxDepthOutOfRange(t *testing.T) {
	tests := []uint32{0, MaxSupportedLevels + 1}
	for _, d := range tests {
		cfg := validConfig(t)
		cfg.MaxDepth = d
		if err := cfg.Validate(); err == nil {
			t.Errorf("MaxDepth=%d: expected error", d)
		}
	}
}

func TestConfig_Validate_GridSamplingRequiresGridSize(t *testing.T) {
	cfg := validConfig(t)
	cfg.Sampling = SamplingGrid
	cfg.GridSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero GridSize with grid sampling")
	}
}

func TestConfig_Validate_FillsDefaultsInPlace(t *testing.T) {
	cfg := validConfig(t)
	cfg.ShardCount = 0
	cfg.WriterWorkers = 0
	cfg.ReaderChannelDepth = 0
	cfg.Workers = 3
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.ShardCount != 64 {
		t.Errorf("ShardCount = %d, want 64", cfg.ShardCount)
	}
	if cfg.WriterWorkers != 2 {
		t.Errorf("WriterWorkers = %d, want 2", cfg.WriterWorkers)
	}
	if cfg.ReaderChannelDepth != 12 {
		t.Errorf("ReaderChannelDepth = %d, want 12 (4*Workers)", cfg.ReaderChannelDepth)
	}
}
