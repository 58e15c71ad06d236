package pctiler

import "io"

// PointReader produces PointBuffers from one input file, one batch at a
// time, until io.EOF. Concrete implementations (lasreader, plyreader) live
// in their own subpackages so this package never imports a specific file
// format's dependencies; a ReaderOpener supplied by the caller (normally
// cmd/pctiler, dispatching on file extension) is what actually wires a
// concrete reader in.
type PointReader interface {
	// NextBatch returns the next batch of points, or io.EOF (with a zero
	// PointBuffer) once the input is exhausted. Malformed individual
	// records are skipped and counted by the reader itself; NextBatch only
	// returns an error for a fatal condition (unreadable file, truncated
	// header).
	NextBatch() (PointBuffer, error)
	Close() error
}

// ReaderOpener opens a PointReader for one input path. schema and
// maxBatch let the caller bound memory and select which optional columns
// to populate. stats lets the reader count malformed records it skips
// (PointsDroppedParseError) without treating them as fatal - readers must
// never fail NextBatch outright over a single bad record; only a read/
// decode failure that leaves the stream's position meaning unrecoverable
// (a truncated header, an unreadable file) is fatal.
type ReaderOpener func(path string, schema AttributeSchema, maxBatch int, stats *Stats) (PointReader, error)

// ErrEOF is an alias kept for readability at call sites; io.EOF itself is
// the sentinel readers return.
var ErrEOF = io.EOF
