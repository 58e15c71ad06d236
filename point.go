package pctiler

import "fmt"

// AttributeSchema is a bitmask of which optional point attributes are
// present in a run. Positions are always present; everything else is
// opt-in, fixed for the lifetime of a pipeline. Modeled as a small
// capability mask rather than pulling in a general-purpose bitmap, since
// it only ever needs 5 bits.
type AttributeSchema uint8

const (
	AttrRGB AttributeSchema = 1 << iota
	AttrIntensity
	AttrClassification
	AttrGPSTime
	AttrNormal
)

func (s AttributeSchema) Has(a AttributeSchema) bool { return s&a != 0 }

// Point is a single point: an f64 position plus whichever attributes the
// run's schema enables.
type Point struct {
	Position       Vec3
	RGB            [3]uint8
	Intensity      uint16
	Classification uint8
	GPSTime        float64
	Normal         Vec3f32
}

// PointBuffer is an ordered, columnar batch of points sharing one
// AttributeSchema: one contiguous slice per attribute, all of equal
// length. It is allocated by a reader, moved into the Indexer, moved into
// a NodeStore bucket, and finally consumed by Persistence - it has no
// erasure operation, only append/slice/split; once consumed it is
// discarded.
type PointBuffer struct {
	Schema AttributeSchema
	// SourceFile is diagnostic provenance only; never persisted.
	SourceFile string

	Position       []Vec3
	RGB            [][3]uint8
	Intensity      []uint16
	Classification []uint8
	GPSTime        []float64
	Normal         []Vec3f32
}

// NewPointBuffer returns an empty buffer for the given schema.
func NewPointBuffer(schema AttributeSchema) PointBuffer {
	return PointBuffer{Schema: schema}
}

func (b *PointBuffer) Len() int { return len(b.Position) }

// Append adds p to the end of the buffer, populating only the columns the
// schema enables.
func (b *PointBuffer) Append(p Point) {
	b.Position = append(b.Position, p.Position)
	if b.Schema.Has(AttrRGB) {
		b.RGB = append(b.RGB, p.RGB)
	}
	if b.Schema.Has(AttrIntensity) {
		b.Intensity = append(b.Intensity, p.Intensity)
	}
	if b.Schema.Has(AttrClassification) {
		b.Classification = append(b.Classification, p.Classification)
	}
	if b.Schema.Has(AttrGPSTime) {
		b.GPSTime = append(b.GPSTime, p.GPSTime)
	}
	if b.Schema.Has(AttrNormal) {
		b.Normal = append(b.Normal, p.Normal)
	}
}

// At reconstructs the point at index i from the columnar storage.
func (b *PointBuffer) At(i int) Point {
	p := Point{Position: b.Position[i]}
	if b.Schema.Has(AttrRGB) {
		p.RGB = b.RGB[i]
	}
	if b.Schema.Has(AttrIntensity) {
		p.Intensity = b.Intensity[i]
	}
	if b.Schema.Has(AttrClassification) {
		p.Classification = b.Classification[i]
	}
	if b.Schema.Has(AttrGPSTime) {
		p.GPSTime = b.GPSTime[i]
	}
	if b.Schema.Has(AttrNormal) {
		p.Normal = b.Normal[i]
	}
	return p
}

// Slice returns the sub-buffer [lo,hi), sharing no backing storage with b
// once appended to again (a fresh slice is allocated per column).
func (b *PointBuffer) Slice(lo, hi int) PointBuffer {
	out := NewPointBuffer(b.Schema)
	out.SourceFile = b.SourceFile
	out.Position = append([]Vec3(nil), b.Position[lo:hi]...)
	if b.Schema.Has(AttrRGB) {
		out.RGB = append([][3]uint8(nil), b.RGB[lo:hi]...)
	}
	if b.Schema.Has(AttrIntensity) {
		out.Intensity = append([]uint16(nil), b.Intensity[lo:hi]...)
	}
	if b.Schema.Has(AttrClassification) {
		out.Classification = append([]uint8(nil), b.Classification[lo:hi]...)
	}
	if b.Schema.Has(AttrGPSTime) {
		out.GPSTime = append([]float64(nil), b.GPSTime[lo:hi]...)
	}
	if b.Schema.Has(AttrNormal) {
		out.Normal = append([]Vec3f32(nil), b.Normal[lo:hi]...)
	}
	return out
}

// SplitBy partitions b into (matched, rest) by predicate, stable: relative
// order within each output is preserved.
func (b *PointBuffer) SplitBy(pred func(Point) bool) (matched, rest PointBuffer) {
	matched = NewPointBuffer(b.Schema)
	rest = NewPointBuffer(b.Schema)
	for i := 0; i < b.Len(); i++ {
		p := b.At(i)
		if pred(p) {
			matched.Append(p)
		} else {
			rest.Append(p)
		}
	}
	return matched, rest
}

// AppendBuffer concatenates other onto b in place. Both must share a
// schema.
func (b *PointBuffer) AppendBuffer(other PointBuffer) error {
	if b.Len() > 0 && b.Schema != other.Schema {
		return fmt.Errorf("%w: mismatched attribute schemas in PointBuffer.AppendBuffer", ErrInvalidOperation)
	}
	if b.Len() == 0 {
		b.Schema = other.Schema
	}
	for i := 0; i < other.Len(); i++ {
		b.Append(other.At(i))
	}
	return nil
}
