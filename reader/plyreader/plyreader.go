// Package plyreader implements pctiler.PointReader for the common
// point-cloud PLY dialect: an ASCII or binary_little_endian "vertex"
// element carrying x y z plus optional red/green/blue and nx/ny/nz
// properties. There is no PLY reader in the retrieved corpus to ground
// this on directly; the header-then-fixed-record-size parsing strategy
// follows the same shape as the LAS reader this package sits beside.
package plyreader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pctiler/pctiler"
)

type plyFormat int

const (
	formatASCII plyFormat = iota
	formatBinaryLE
)

type property struct {
	name string
	size int // bytes, for binary; unused for ascii
	kind string
}

var typeSizes = map[string]int{
	"char": 1, "uchar": 1, "int8": 1, "uint8": 1,
	"short": 2, "ushort": 2, "int16": 2, "uint16": 2,
	"int": 4, "uint": 4, "int32": 4, "uint32": 4,
	"float": 4, "float32": 4,
	"double": 8, "float64": 8,
}

// Reader streams the vertex element of one PLY file in batches.
type Reader struct {
	f          *os.File
	br         *bufio.Reader
	format     plyFormat
	props      []property
	vertexLeft int
	schema     pctiler.AttributeSchema
	maxBatch   int
	stats      *pctiler.Stats
}

// Open parses the PLY header and positions the reader at the start of the
// vertex element's data. stats, if non-nil, receives a count for every
// malformed vertex record NextBatch skips - a single bad record never
// fails the batch.
func Open(path string, schema pctiler.AttributeSchema, maxBatch int, stats *pctiler.Stats) (pctiler.PointReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	format, props, count, err := readHeader(br)
	if err != nil {
		f.Close()
		return nil, err
	}
	if maxBatch <= 0 {
		maxBatch = 8192
	}
	return &Reader{f: f, br: br, format: format, props: props, vertexLeft: count, schema: schema, maxBatch: maxBatch, stats: stats}, nil
}

func readHeader(br *bufio.Reader) (plyFormat, []property, int, error) {
	line, err := br.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "ply" {
		return 0, nil, 0, fmt.Errorf("ply: missing magic line")
	}

	var format plyFormat
	var props []property
	var vertexCount int
	inVertexElement := false

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return 0, nil, 0, fmt.Errorf("ply: truncated header: %w", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			switch fields[1] {
			case "ascii":
				format = formatASCII
			case "binary_little_endian":
				format = formatBinaryLE
			default:
				return 0, nil, 0, fmt.Errorf("ply: unsupported format %q", fields[1])
			}
		case "element":
			inVertexElement = fields[1] == "vertex"
			if inVertexElement {
				n, err := strconv.Atoi(fields[2])
				if err != nil {
					return 0, nil, 0, fmt.Errorf("ply: bad vertex count: %w", err)
				}
				vertexCount = n
			}
		case "property":
			if inVertexElement && fields[1] != "list" {
				props = append(props, property{name: fields[2], kind: fields[1], size: typeSizes[fields[1]]})
			}
		case "end_header":
			return format, props, vertexCount, nil
		}
	}
}

func (r *Reader) propIndex(name string) int {
	for i, p := range r.props {
		if p.name == name {
			return i
		}
	}
	return -1
}

// NextBatch reads up to maxBatch vertex records.
func (r *Reader) NextBatch() (pctiler.PointBuffer, error) {
	if r.vertexLeft <= 0 {
		return pctiler.PointBuffer{}, io.EOF
	}
	n := r.maxBatch
	if r.vertexLeft < n {
		n = r.vertexLeft
	}

	out := pctiler.NewPointBuffer(r.schema)
	xi, yi, zi := r.propIndex("x"), r.propIndex("y"), r.propIndex("z")
	ri, gi, bi := r.propIndex("red"), r.propIndex("green"), r.propIndex("blue")
	nxi, nyi, nzi := r.propIndex("nx"), r.propIndex("ny"), r.propIndex("nz")

	for i := 0; i < n; i++ {
		values, err := r.readRecord()
		if err != nil {
			// malformed vertex record; non-fatal, counted and dropped -
			// the rest of the batch (and file) keeps being read.
			if r.stats != nil {
				r.stats.PointsDroppedParseError.Add(1)
			}
			continue
		}
		if xi < 0 || yi < 0 || zi < 0 {
			continue
		}
		p := pctiler.Point{Position: pctiler.Vec3{X: values[xi], Y: values[yi], Z: values[zi]}}
		if ri >= 0 && gi >= 0 && bi >= 0 {
			p.RGB = [3]uint8{uint8(values[ri]), uint8(values[gi]), uint8(values[bi])}
		}
		if nxi >= 0 && nyi >= 0 && nzi >= 0 {
			p.Normal = pctiler.Vec3f32{X: float32(values[nxi]), Y: float32(values[nyi]), Z: float32(values[nzi])}
		}
		out.Append(p)
	}
	r.vertexLeft -= n
	return out, nil
}

// readRecord reads one vertex's properties as float64, in file order,
// regardless of their declared on-disk type.
func (r *Reader) readRecord() ([]float64, error) {
	values := make([]float64, len(r.props))
	if r.format == formatASCII {
		line, err := r.br.ReadString('\n')
		if err != nil && line == "" {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) < len(r.props) {
			return nil, fmt.Errorf("short record: got %d fields, want %d", len(fields), len(r.props))
		}
		for i := range r.props {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return values, nil
	}

	for i, p := range r.props {
		buf := make([]byte, p.size)
		if _, err := io.ReadFull(r.br, buf); err != nil {
			return nil, err
		}
		values[i] = decodeBinaryValue(p.kind, buf)
	}
	return values, nil
}

func decodeBinaryValue(kind string, b []byte) float64 {
	switch kind {
	case "float", "float32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case "double", "float64":
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case "char", "int8":
		return float64(int8(b[0]))
	case "uchar", "uint8":
		return float64(b[0])
	case "short", "int16":
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case "ushort", "uint16":
		return float64(binary.LittleEndian.Uint16(b))
	case "int", "int32":
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case "uint", "uint32":
		return float64(binary.LittleEndian.Uint32(b))
	default:
		return 0
	}
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }
