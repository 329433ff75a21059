// Package streamio implements a pull-based, resumable byte-stream parsing
// framework: an append-only byte accumulator mapped to an absolute-offset
// coordinate system, a cursor into it, and a driver that mediates between a
// parser (an explicit state machine) and a random-access Source.
//
// A parser is single-threaded and cooperative: it suspends exactly at each
// request it returns from Step, and only the driver resumes it. This keeps
// the observable order of emitted records deterministic regardless of how
// much of the source has actually been buffered at any point.
package streamio

import "fmt"

// ByteAccumulator is a growable buffer holding bytes over the half-open
// range [FirstOffset, LastOffset) of an absolute coordinate system (usually
// a source's file offsets). Appends always extend LastOffset; Trim and
// Clear can move FirstOffset forward, releasing memory for bytes the
// parser no longer needs.
//
// ByteAccumulator is not safe for concurrent use; it is owned by exactly
// one parser instance for the duration of that parser's run.
type ByteAccumulator struct {
	base []byte
	// firstOffset is the absolute offset of base[0].
	firstOffset int64
}

// NewByteAccumulator returns an empty accumulator anchored at the given
// absolute offset.
func NewByteAccumulator(origin int64) *ByteAccumulator {
	return &ByteAccumulator{firstOffset: origin}
}

// WithData returns an accumulator pre-populated with owned bytes at base
// offset 0. The accumulator takes ownership of data; callers must not
// mutate it afterward.
func WithData(data []byte) *ByteAccumulator {
	return &ByteAccumulator{base: data}
}

// FirstOffset returns the absolute offset of the first byte still held.
func (a *ByteAccumulator) FirstOffset() int64 { return a.firstOffset }

// LastOffset returns the absolute offset one past the last byte held.
func (a *ByteAccumulator) LastOffset() int64 { return a.firstOffset + int64(len(a.base)) }

// Len returns the number of bytes currently held.
func (a *ByteAccumulator) Len() int64 { return int64(len(a.base)) }

// Append extends the buffer with bytes that logically follow LastOffset.
func (a *ByteAccumulator) Append(b []byte) {
	a.base = append(a.base, b...)
}

// inRange panics (a programmer error, never a recoverable condition) if
// [start,end) is not fully contained in the accumulator's current
// window.
func (a *ByteAccumulator) inRange(start, end int64) {
	if start < a.firstOffset || end > a.LastOffset() || start > end {
		panic(fmt.Errorf("%w: [%d,%d) not within [%d,%d)", ErrOutOfRange, start, end, a.firstOffset, a.LastOffset()))
	}
}

// GetByte returns the byte at absolute offset off.
func (a *ByteAccumulator) GetByte(off int64) byte {
	a.inRange(off, off+1)
	return a.base[off-a.firstOffset]
}

// GetRange returns a copy of the bytes in [start,end).
func (a *ByteAccumulator) GetRange(start, end int64) []byte {
	v := a.ViewRange(start, end)
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// ViewRange returns a zero-copy slice of the bytes in [start,end). The
// returned slice aliases the accumulator's storage and is invalidated by
// the next Append, Trim, or Clear call.
func (a *ByteAccumulator) ViewRange(start, end int64) []byte {
	a.inRange(start, end)
	return a.base[start-a.firstOffset : end-a.firstOffset]
}

// Trim discards bytes outside [startOffset, endOffset), updating
// FirstOffset. endOffset must equal LastOffset(); trimming only ever
// releases a prefix, never a suffix, since the accumulator only grows by
// appending at the end.
func (a *ByteAccumulator) Trim(startOffset, endOffset int64) {
	if endOffset != a.LastOffset() {
		panic(fmt.Errorf("%w: Trim end %d does not match LastOffset %d", ErrOutOfRange, endOffset, a.LastOffset()))
	}
	if startOffset < a.firstOffset || startOffset > endOffset {
		panic(fmt.Errorf("%w: Trim start %d outside [%d,%d)", ErrOutOfRange, startOffset, a.firstOffset, endOffset))
	}
	a.base = a.base[startOffset-a.firstOffset:]
	a.firstOffset = startOffset
}

// Clear resets the accumulator to empty. If startAfter is non-nil, the new
// window becomes [*startAfter, *startAfter); otherwise the window collapses
// to [LastOffset(), LastOffset()).
func (a *ByteAccumulator) Clear(startAfter *int64) {
	origin := a.LastOffset()
	if startAfter != nil {
		origin = *startAfter
	}
	a.base = a.base[:0]
	a.firstOffset = origin
}
