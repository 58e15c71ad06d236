package pctiler

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Point file binary layout (spec.md section 6): a small header followed by
// columnar attribute blocks, each padded to an 8-byte boundary, all
// little-endian. Mirrors the corpus's length-prefixed binary encoding
// style (see the index serialization this was adapted from) but with a
// fixed header instead of a term-keyed loop, since a point file has one
// fixed attribute schema rather than a variable number of terms.
const (
	pointFileMagic   = "PCTL"
	pointFileVersion = uint32(1)
)

// countingWriter tracks how many bytes have passed through it, so padding
// can be computed without the caller maintaining its own offset.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func alignUp8(n int64) int64 {
	rem := n % 8
	if rem == 0 {
		return n
	}
	return n + (8 - rem)
}

func (c *countingWriter) padTo8() error {
	target := alignUp8(c.n)
	if target == c.n {
		return nil
	}
	_, err := c.Write(make([]byte, target-c.n))
	return err
}

// EncodePointBuffer writes bounds and pb to w in the point file binary
// layout.
func EncodePointBuffer(w io.Writer, bounds AABB, pb PointBuffer) error {
	cw := &countingWriter{w: bufio.NewWriter(w)}
	bw := cw.w.(*bufio.Writer)
	defer bw.Flush()

	if _, err := cw.Write([]byte(pointFileMagic)); err != nil {
		return err
	}
	if err := binary.Write(cw, binary.LittleEndian, pointFileVersion); err != nil {
		return err
	}
	if err := binary.Write(cw, binary.LittleEndian, uint32(pb.Len())); err != nil {
		return err
	}
	if err := binary.Write(cw, binary.LittleEndian, uint8(pb.Schema)); err != nil {
		return err
	}
	if err := cw.padTo8(); err != nil {
		return err
	}
	boundsVals := [6]float64{bounds.Min.X, bounds.Min.Y, bounds.Min.Z, bounds.Max.X, bounds.Max.Y, bounds.Max.Z}
	if err := binary.Write(cw, binary.LittleEndian, boundsVals); err != nil {
		return err
	}

	writeColumn := func(enabled bool, data any) error {
		if !enabled {
			return nil
		}
		if err := binary.Write(cw, binary.LittleEndian, data); err != nil {
			return err
		}
		return cw.padTo8()
	}

	xs := make([]float64, pb.Len())
	ys := make([]float64, pb.Len())
	zs := make([]float64, pb.Len())
	for i, p := range pb.Position {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	if err := writeColumn(true, xs); err != nil {
		return err
	}
	if err := writeColumn(true, ys); err != nil {
		return err
	}
	if err := writeColumn(true, zs); err != nil {
		return err
	}

	if pb.Schema.Has(AttrRGB) {
		flat := make([]byte, 0, len(pb.RGB)*3)
		for _, c := range pb.RGB {
			flat = append(flat, c[0], c[1], c[2])
		}
		if err := writeColumn(true, flat); err != nil {
			return err
		}
	}
	if err := writeColumn(pb.Schema.Has(AttrIntensity), pb.Intensity); err != nil {
		return err
	}
	if err := writeColumn(pb.Schema.Has(AttrClassification), pb.Classification); err != nil {
		return err
	}
	if err := writeColumn(pb.Schema.Has(AttrGPSTime), pb.GPSTime); err != nil {
		return err
	}
	if pb.Schema.Has(AttrNormal) {
		flat := make([]float32, 0, len(pb.Normal)*3)
		for _, n := range pb.Normal {
			flat = append(flat, n.X, n.Y, n.Z)
		}
		if err := writeColumn(true, flat); err != nil {
			return err
		}
	}
	return nil
}

// DecodePointBuffer is the inverse of EncodePointBuffer.
func DecodePointBuffer(r io.Reader) (PointBuffer, AABB, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil {
		return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: short read on magic", Cause: err}
	}
	if string(magic) != pointFileMagic {
		return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad magic"}
	}
	var version, count uint32
	var schemaByte uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad version", Cause: err}
	}
	if version != pointFileVersion {
		return PointBuffer{}, AABB{}, &ParseError{Msg: fmt.Sprintf("point file: unsupported version %d", version)}
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad point count", Cause: err}
	}
	if err := binary.Read(br, binary.LittleEndian, &schemaByte); err != nil {
		return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad schema id", Cause: err}
	}

	read := int64(len(pointFileMagic) + 4 + 4 + 1)
	if err := skipPad(br, &read); err != nil {
		return PointBuffer{}, AABB{}, err
	}

	var boundsVals [6]float64
	if err := binary.Read(br, binary.LittleEndian, &boundsVals); err != nil {
		return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad bounds", Cause: err}
	}
	read += 48
	bounds := AABB{
		Min: Vec3{boundsVals[0], boundsVals[1], boundsVals[2]},
		Max: Vec3{boundsVals[3], boundsVals[4], boundsVals[5]},
	}

	schema := AttributeSchema(schemaByte)
	pb := NewPointBuffer(schema)
	n := int(count)

	readColumn := func(size int64, fn func() error) error {
		if err := fn(); err != nil {
			return err
		}
		read += size
		return skipPad(br, &read)
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	if err := readColumn(int64(n)*8, func() error { return binary.Read(br, binary.LittleEndian, xs) }); err != nil {
		return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad X column", Cause: err}
	}
	if err := readColumn(int64(n)*8, func() error { return binary.Read(br, binary.LittleEndian, ys) }); err != nil {
		return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad Y column", Cause: err}
	}
	if err := readColumn(int64(n)*8, func() error { return binary.Read(br, binary.LittleEndian, zs) }); err != nil {
		return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad Z column", Cause: err}
	}
	pb.Position = make([]Vec3, n)
	for i := range pb.Position {
		pb.Position[i] = Vec3{xs[i], ys[i], zs[i]}
	}

	if schema.Has(AttrRGB) {
		flat := make([]byte, n*3)
		if err := readColumn(int64(len(flat)), func() error { return binary.Read(br, binary.LittleEndian, flat) }); err != nil {
			return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad RGB column", Cause: err}
		}
		pb.RGB = make([][3]uint8, n)
		for i := range pb.RGB {
			pb.RGB[i] = [3]uint8{flat[i*3], flat[i*3+1], flat[i*3+2]}
		}
	}
	if schema.Has(AttrIntensity) {
		pb.Intensity = make([]uint16, n)
		if err := readColumn(int64(n)*2, func() error { return binary.Read(br, binary.LittleEndian, pb.Intensity) }); err != nil {
			return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad intensity column", Cause: err}
		}
	}
	if schema.Has(AttrClassification) {
		pb.Classification = make([]uint8, n)
		if err := readColumn(int64(n), func() error { return binary.Read(br, binary.LittleEndian, pb.Classification) }); err != nil {
			return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad classification column", Cause: err}
		}
	}
	if schema.Has(AttrGPSTime) {
		pb.GPSTime = make([]float64, n)
		if err := readColumn(int64(n)*8, func() error { return binary.Read(br, binary.LittleEndian, pb.GPSTime) }); err != nil {
			return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad GPS time column", Cause: err}
		}
	}
	if schema.Has(AttrNormal) {
		flat := make([]float32, n*3)
		if err := readColumn(int64(len(flat))*4, func() error { return binary.Read(br, binary.LittleEndian, flat) }); err != nil {
			return PointBuffer{}, AABB{}, &ParseError{Msg: "point file: bad normal column", Cause: err}
		}
		pb.Normal = make([]Vec3f32, n)
		for i := range pb.Normal {
			pb.Normal[i] = Vec3f32{flat[i*3], flat[i*3+1], flat[i*3+2]}
		}
	}

	return pb, bounds, nil
}

func skipPad(r *bufio.Reader, read *int64) error {
	target := alignUp8(*read)
	if target == *read {
		return nil
	}
	n := target - *read
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return &ParseError{Msg: "point file: short read on padding", Cause: err}
	}
	*read = target
	return nil
}
