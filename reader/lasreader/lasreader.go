// Package lasreader implements pctiler.PointReader for the ASPRS LAS
// public header block, point data record formats 0-3. Field layout and
// the scale/offset reconstruction of X/Y/Z are adapted from the corpus's
// own LAS reader (tiler_las_reader.go), retargeted to emit batches of the
// tiler's own Point type instead of building an octree directly in the
// reader.
package lasreader

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pctiler/pctiler"
)

const headerSignature = "LASF"

type header struct {
	pointFormatID     uint8
	pointRecordLength uint16
	numberPoints      uint32
	offsetToPoints    uint32
	xScale, yScale, zScale    float64
	xOffset, yOffset, zOffset float64
}

// Reader reads batches of maxBatch points at a time from one LAS file.
type Reader struct {
	f        *os.File
	hdr      header
	schema   pctiler.AttributeSchema
	maxBatch int
	cursor   uint32
	stats    *pctiler.Stats
}

// Open parses the header and positions the reader at the first point
// record. schema controls which optional columns the returned PointBuffers
// populate (attributes absent from the file are simply left zero-valued).
// stats, if non-nil, receives a count for every truncated/unreadable
// record NextBatch drops - malformed records are never fatal, per the
// point-cloud ingestion policy.
func Open(path string, schema pctiler.AttributeSchema, maxBatch int, stats *pctiler.Stats) (pctiler.PointReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	hdr, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if maxBatch <= 0 {
		maxBatch = 8192
	}
	return &Reader{f: f, hdr: hdr, schema: schema, maxBatch: maxBatch, stats: stats}, nil
}

func readHeader(f *os.File) (header, error) {
	buf := make([]byte, 227)
	if _, err := io.ReadFull(f, buf); err != nil {
		return header{}, fmt.Errorf("las header: %w", err)
	}
	if string(buf[0:4]) != headerSignature {
		return header{}, fmt.Errorf("las header: bad signature %q", buf[0:4])
	}
	h := header{
		offsetToPoints:    binary.LittleEndian.Uint32(buf[96:100]),
		pointFormatID:     buf[104],
		pointRecordLength: binary.LittleEndian.Uint16(buf[105:107]),
		numberPoints:      binary.LittleEndian.Uint32(buf[107:111]),
		xScale:            readF64(buf[131:139]),
		yScale:            readF64(buf[139:147]),
		zScale:            readF64(buf[147:155]),
		xOffset:           readF64(buf[155:163]),
		yOffset:           readF64(buf[163:171]),
		zOffset:           readF64(buf[171:179]),
	}
	if h.pointFormatID > 3 {
		return header{}, fmt.Errorf("las header: unsupported point format %d", h.pointFormatID)
	}
	return h, nil
}

func readF64(b []byte) float64 {
	bits := binary.LittleEndian.Uint64(b)
	return math.Float64frombits(bits)
}

// NextBatch reads up to maxBatch records, reconstructing positions from
// the header's scale/offset and populating RGB/Intensity/Classification/
// GPSTime when the schema requests them and the point format carries them.
func (r *Reader) NextBatch() (pctiler.PointBuffer, error) {
	if r.cursor >= r.hdr.numberPoints {
		return pctiler.PointBuffer{}, io.EOF
	}
	n := r.maxBatch
	if remaining := int(r.hdr.numberPoints - r.cursor); remaining < n {
		n = remaining
	}

	hasGPSTime := r.hdr.pointFormatID == 1 || r.hdr.pointFormatID == 3
	hasRGB := r.hdr.pointFormatID == 2 || r.hdr.pointFormatID == 3

	recLen := int(r.hdr.pointRecordLength)
	raw := make([]byte, n*recLen)
	offset := int64(r.hdr.offsetToPoints) + int64(r.cursor)*int64(recLen)
	got, err := r.f.ReadAt(raw, offset)
	if err != nil && err != io.EOF {
		return pctiler.PointBuffer{}, fmt.Errorf("las: reading point records: %w", err)
	}
	raw = raw[:got]

	out := pctiler.NewPointBuffer(r.schema)
	for i := 0; i < n; i++ {
		start, end := min(i*recLen, len(raw)), min((i+1)*recLen, len(raw))
		rec := raw[start:end]
		if len(rec) < 20 {
			// truncated trailing record; non-fatal, counted and dropped
			if r.stats != nil {
				r.stats.PointsDroppedParseError.Add(1)
			}
			continue
		}
		x := float64(int32(binary.LittleEndian.Uint32(rec[0:4])))*r.hdr.xScale + r.hdr.xOffset
		y := float64(int32(binary.LittleEndian.Uint32(rec[4:8])))*r.hdr.yScale + r.hdr.yOffset
		z := float64(int32(binary.LittleEndian.Uint32(rec[8:12])))*r.hdr.zScale + r.hdr.zOffset

		p := pctiler.Point{Position: pctiler.Vec3{X: x, Y: y, Z: z}}
		p.Intensity = binary.LittleEndian.Uint16(rec[12:14])
		p.Classification = rec[15] & 0x1F

		pos := 20
		if hasGPSTime && pos+8 <= len(rec) {
			bits := binary.LittleEndian.Uint64(rec[pos : pos+8])
			p.GPSTime = math.Float64frombits(bits)
			pos += 8
		}
		if hasRGB && pos+6 <= len(rec) {
			p.RGB = [3]uint8{
				uint8(binary.LittleEndian.Uint16(rec[pos:pos+2]) >> 8),
				uint8(binary.LittleEndian.Uint16(rec[pos+2:pos+4]) >> 8),
				uint8(binary.LittleEndian.Uint16(rec[pos+4:pos+6]) >> 8),
			}
		}
		out.Append(p)
	}
	r.cursor += uint32(n)
	return out, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }
