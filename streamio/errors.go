package streamio

import "errors"

// Error kinds surfaced by the driver and the byte accumulator. A parser
// aborts at the point it detects one of these; there is no local recovery.
var (
	// ErrUnexpectedEOF is returned when a parser demands an exact number of
	// bytes and the source cannot supply them.
	ErrUnexpectedEOF = errors.New("streamio: unexpected EOF")

	// ErrOutOfRange is wrapped in the panic ByteAccumulator operations
	// (and Cursor.Slice, through them) raise when given offsets outside the
	// accumulator's current window. It indicates a parser bug, not a
	// malformed input.
	ErrOutOfRange = errors.New("streamio: offset out of range")
)
