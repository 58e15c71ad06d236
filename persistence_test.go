package pctiler

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryPersistence_RetrieveMissing(t *testing.T) {
	mp := NewMemoryPersistence()
	_, _, ok, err := mp.Retrieve(RootNodeIndex(3))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a node never persisted")
	}
}

func TestMemoryPersistence_DuplicateFlushMerges(t *testing.T) {
	mp := NewMemoryPersistence()
	bounds := NewAABB(Vec3{0, 0, 0}, Vec3{8, 8, 8})
	node := RootNodeIndex(3)

	b1 := NewPointBuffer(fullSchema())
	b1.Append(samplePoint(1, 1))
	if err := mp.Persist(node, bounds, b1); err != nil {
		t.Fatalf("first Persist: %v", err)
	}

	b2 := NewPointBuffer(fullSchema())
	b2.Append(samplePoint(2, 2))
	b2.Append(samplePoint(3, 3))
	if err := mp.Persist(node, bounds, b2); err != nil {
		t.Fatalf("second Persist: %v", err)
	}

	got, _, ok, err := mp.Retrieve(node)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true after persisting")
	}
	if got.Len() != 3 {
		t.Errorf("merged Len() = %d, want 3 (point conservation across duplicate flushes)", got.Len())
	}
}

func TestPointFile_EncodeDecode_RoundTrip(t *testing.T) {
	bounds := NewAABB(Vec3{0, 0, 0}, Vec3{10, 20, 30})
	pb := NewPointBuffer(fullSchema())
	for i := 0; i < 7; i++ {
		pb.Append(samplePoint(float64(i), uint8(i)))
	}

	var buf bytes.Buffer
	if err := EncodePointBuffer(&buf, bounds, pb); err != nil {
		t.Fatalf("EncodePointBuffer: %v", err)
	}

	gotPB, gotBounds, err := DecodePointBuffer(&buf)
	if err != nil {
		t.Fatalf("DecodePointBuffer: %v", err)
	}
	if gotBounds != bounds {
		t.Errorf("decoded bounds = %v, want %v", gotBounds, bounds)
	}
	if gotPB.Len() != pb.Len() {
		t.Fatalf("decoded Len() = %d, want %d", gotPB.Len(), pb.Len())
	}
	for i := 0; i < pb.Len(); i++ {
		if gotPB.At(i) != pb.At(i) {
			t.Errorf("point %d round trip mismatch: got %+v, want %+v", i, gotPB.At(i), pb.At(i))
		}
	}
}

func TestPointFile_Decode_EmptyBuffer(t *testing.T) {
	bounds := NewAABB(Vec3{0, 0, 0}, Vec3{1, 1, 1})
	pb := NewPointBuffer(fullSchema())

	var buf bytes.Buffer
	if err := EncodePointBuffer(&buf, bounds, pb); err != nil {
		t.Fatalf("EncodePointBuffer: %v", err)
	}
	gotPB, _, err := DecodePointBuffer(&buf)
	if err != nil {
		t.Fatalf("DecodePointBuffer: %v", err)
	}
	if gotPB.Len() != 0 {
		t.Errorf("decoded Len() = %d, want 0", gotPB.Len())
	}
}

func TestDiskPersistence_WriteThenRetrieve(t *testing.T) {
	dir := t.TempDir()
	stats := NewStats()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dp, err := NewDiskPersistence(dir, Simple, fullSchema(), 2, 4, stats, logger)
	if err != nil {
		t.Fatalf("NewDiskPersistence: %v", err)
	}
	defer dp.Close()

	bounds := NewAABB(Vec3{0, 0, 0}, Vec3{8, 8, 8})
	node := RootNodeIndex(3)
	pb := NewPointBuffer(fullSchema())
	pb.Append(samplePoint(1, 1))

	if err := dp.Persist(node, bounds, pb); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if stats.FilesWritten.Load() != 1 {
		t.Errorf("FilesWritten = %d, want 1", stats.FilesWritten.Load())
	}

	path := filepath.Join(dir, node.ToString(Simple)+".bin")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected point file at %s: %v", path, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not survive a successful rename")
	}

	got, _, ok, err := dp.Retrieve(node)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !ok || got.Len() != 1 {
		t.Fatalf("Retrieve after Persist: ok=%v len=%d, want true,1", ok, got.Len())
	}
}

func TestDiskPersistence_DuplicateFlushMerges(t *testing.T) {
	dir := t.TempDir()
	stats := NewStats()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dp, err := NewDiskPersistence(dir, Simple, fullSchema(), 1, 1, stats, logger)
	if err != nil {
		t.Fatalf("NewDiskPersistence: %v", err)
	}
	defer dp.Close()

	bounds := NewAABB(Vec3{0, 0, 0}, Vec3{8, 8, 8})
	node := RootNodeIndex(3)

	b1 := NewPointBuffer(fullSchema())
	b1.Append(samplePoint(1, 1))
	if err := dp.Persist(node, bounds, b1); err != nil {
		t.Fatalf("first Persist: %v", err)
	}

	b2 := NewPointBuffer(fullSchema())
	b2.Append(samplePoint(2, 2))
	b2.Append(samplePoint(3, 3))
	if err := dp.Persist(node, bounds, b2); err != nil {
		t.Fatalf("second Persist: %v", err)
	}

	got, _, ok, err := dp.Retrieve(node)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got.Len() != 3 {
		t.Errorf("merged Len() = %d, want 3 (point conservation across duplicate flushes to disk)", got.Len())
	}
}
