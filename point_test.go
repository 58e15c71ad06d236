package pctiler

import "testing"

func samplePoint(x float64, class uint8) Point {
	return Point{
		Position:       Vec3{x, x, x},
		RGB:            [3]uint8{1, 2, 3},
		Intensity:      42,
		Classification: class,
		GPSTime:        1.5,
		Normal:         Vec3f32{0, 0, 1},
	}
}

func fullSchema() AttributeSchema {
	return AttrRGB | AttrIntensity | AttrClassification | AttrGPSTime | AttrNormal
}

func TestPointBuffer_AppendAt_RoundTrip(t *testing.T) {
	b := NewPointBuffer(fullSchema())
	p := samplePoint(3, 5)
	b.Append(p)
	got := b.At(0)
	if got != p {
		t.Errorf("At(0) = %+v, want %+v", got, p)
	}
}

func TestPointBuffer_SplitBy_Stable(t *testing.T) {
	b := NewPointBuffer(fullSchema())
	for i, c := range []uint8{1, 2, 1, 3, 1} {
		b.Append(samplePoint(float64(i), c))
	}
	matched, rest := b.SplitBy(func(p Point) bool { return p.Classification == 1 })
	if matched.Len() != 3 || rest.Len() != 2 {
		t.Fatalf("matched=%d rest=%d, want 3 and 2", matched.Len(), rest.Len())
	}
	wantMatched := []float64{0, 2, 4}
	for i, x := range wantMatched {
		if matched.At(i).Position.X != x {
			t.Errorf("matched[%d].Position.X = %v, want %v", i, matched.At(i).Position.X, x)
		}
	}
}

func TestPointBuffer_Len_ConservedAcrossAppendBuffer(t *testing.T) {
	a := NewPointBuffer(fullSchema())
	a.Append(samplePoint(1, 1))
	b := NewPointBuffer(fullSchema())
	b.Append(samplePoint(2, 2))
	b.Append(samplePoint(3, 3))

	if err := a.AppendBuffer(b); err != nil {
		t.Fatalf("AppendBuffer: %v", err)
	}
	if a.Len() != 3 {
		t.Errorf("Len() = %d, want 3 (point conservation)", a.Len())
	}
}

func TestPointBuffer_AppendBuffer_SchemaMismatch(t *testing.T) {
	a := NewPointBuffer(AttrRGB)
	a.Append(samplePoint(1, 1))
	b := NewPointBuffer(AttrIntensity)
	b.Append(samplePoint(2, 2))
	if err := a.AppendBuffer(b); err == nil {
		t.Fatal("expected schema mismatch error")
	}
}

func TestPointBuffer_Slice(t *testing.T) {
	b := NewPointBuffer(fullSchema())
	for i := 0; i < 5; i++ {
		b.Append(samplePoint(float64(i), uint8(i)))
	}
	sub := b.Slice(1, 4)
	if sub.Len() != 3 {
		t.Fatalf("Slice Len() = %d, want 3", sub.Len())
	}
	if sub.At(0).Position.X != 1 {
		t.Errorf("Slice[0].Position.X = %v, want 1", sub.At(0).Position.X)
	}
}
