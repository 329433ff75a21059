package hic

import (
	"encoding/binary"
	"math"
)

// Little-endian primitive decoders over an already-fetched byte slice,
// grounded on the encoding/binary + manual-loop style of
// encoding/bam/index.go: every field in a V8 file is fixed-width and
// little-endian, and the slice handed in is always exactly len(b) bytes
// long by construction (the caller fetched it with CoroutineIO.ReadExact).

func decodeU8(b []byte) uint8 { return b[0] }

func decodeI16(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) }

func decodeI32(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) }

func decodeI64(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) }

func decodeF32(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }

func decodeF64(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }

// byteReader is a cursor over a byte slice already known in full (a
// matrix-metadata blob or an inflated contact block), used instead of
// CoroutineIO.ReadExact when no further I/O can be needed because the
// whole region was fetched by one SeekReadExact up front.
type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) next(n int) []byte {
	b := r.b[r.pos : r.pos+n]
	r.pos += n
	return b
}

// cstring scans for a NUL terminator within the already-held slice.
func (r *byteReader) cstring() string {
	start := r.pos
	for r.b[r.pos] != 0 {
		r.pos++
	}
	s := string(r.b[start:r.pos])
	r.pos++
	return s
}
