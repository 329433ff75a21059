package fasta

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/grailbio/biohic/streamio"
)

// ErrInvalidFormat is the sentinel wrapped by errors this package returns
// when a byte-level FASTA invariant is violated: a record not starting
// with '>', or, under StrictMode, an empty sequence.
var ErrInvalidFormat = errors.New("fasta: invalid format")

// defaultSeekChunkSize is the number of bytes requested per PartialRead
// while scanning for record boundaries.
const defaultSeekChunkSize = 8

// LazyRecord is one FASTA record: the raw bytes spanning it, and the
// relative offsets needed to decode its header and sequence without
// copying. Offsets[0] is the header's start (just past the leading '>'),
// Offsets[1] is the header's end (the position of the first CR or LF
// byte), and each subsequent entry up to the last is the relative
// position of a CR or LF byte within the sequence payload. The final
// entry is always len(Bytes), a sentinel marking the end of the record so
// Sequence can be decoded uniformly whether or not the record ends with a
// trailing newline.
type LazyRecord struct {
	Bytes   []byte
	Offsets []int32
}

// Header decodes the record's header line, excluding the leading '>' and
// the line terminator.
func (r LazyRecord) Header() string {
	return string(r.Bytes[r.Offsets[0]:r.Offsets[1]])
}

// Sequence decodes the record's sequence payload, concatenating the byte
// runs between consecutive recorded offsets and skipping the whitespace
// byte at each one (so CR, LF, and CRLF line endings are all removed).
func (r LazyRecord) Sequence() string {
	var b strings.Builder
	for i := 1; i < len(r.Offsets)-1; i++ {
		start, end := r.Offsets[i]+1, r.Offsets[i+1]
		if end > start {
			b.Write(r.Bytes[start:end])
		}
	}
	return b.String()
}

// ReadOpts configures IterateReads.
type ReadOpts struct {
	strict        bool
	seekChunkSize int
}

// ReadOpt is a functional option for IterateReads, mirroring the Opt
// pattern used by New/NewIndexed.
type ReadOpt func(*ReadOpts)

// StrictMode rejects records with an empty sequence (a header immediately
// followed by the next record's header, or by EOF). Without it, such a
// record is accepted with an empty Sequence().
func StrictMode() ReadOpt {
	return func(o *ReadOpts) { o.strict = true }
}

// WithSeekChunkSize overrides the number of bytes requested per
// PartialRead while scanning for the next record boundary.
func WithSeekChunkSize(n int) ReadOpt {
	return func(o *ReadOpts) { o.seekChunkSize = n }
}

func makeReadOpts(opts ...ReadOpt) ReadOpts {
	o := ReadOpts{seekChunkSize: defaultSeekChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IterateReads returns a lazy sequence of LazyRecord parsed from source,
// streaming forward through the file in bounded memory: the accumulator
// is collapsed after every record.
func IterateReads(source streamio.Source, opts ...ReadOpt) func(yield func(LazyRecord, error) bool) {
	o := makeReadOpts(opts...)
	factory := func(acc *streamio.ByteAccumulator) streamio.Parser[LazyRecord] {
		return &readIterator{acc: acc, cursor: streamio.NewCursor(0), opts: o, atLineStart: true}
	}
	return streamio.ParseSync(factory, source)
}

// IterateCompressedReads streams FASTA records out of a zlib-compressed
// source, composing IterateReads with streamio.ZlibDecode so compressed
// inputs go through the same pull-based protocol transparently.
func IterateCompressedReads(source streamio.Source, opts ...ReadOpt) func(yield func(LazyRecord, error) bool) {
	o := makeReadOpts(opts...)
	inner := func(acc *streamio.ByteAccumulator) streamio.Parser[LazyRecord] {
		return &readIterator{acc: acc, cursor: streamio.NewCursor(0), opts: o, atLineStart: true}
	}
	return streamio.ParseSync(streamio.ZlibDecode(inner), source)
}

type subState int

const (
	stateBlank subState = iota
	stateInHeader
	stateInSequence
)

// readIterator is the explicit state machine behind IterateReads:
// readStart marks the first byte of the record currently being scanned,
// cursor is the scan position, and state tracks whether we're still
// inside the header line or past it.
type readIterator struct {
	acc    *streamio.ByteAccumulator
	cursor streamio.Cursor
	opts   ReadOpts

	readStart   int64
	state       subState
	atLineStart bool
	offsets     []int32

	awaitingData    bool
	pendingCollapse bool
	done            bool
}

func (p *readIterator) Step() streamio.Step[LazyRecord] {
	if p.done {
		return streamio.Step[LazyRecord]{Kind: streamio.StepDone}
	}
	if p.pendingCollapse {
		p.pendingCollapse = false
		keep := p.cursor.Pos()
		return streamio.Step[LazyRecord]{Kind: streamio.StepRequest, Request: streamio.CollapseBuffer(keep)}
	}

	for {
		if p.cursor.Pos() >= p.acc.LastOffset() {
			if p.awaitingData {
				// PartialRead delivered nothing: true EOF.
				p.awaitingData = false
				return p.finishAtEOF()
			}
			p.awaitingData = true
			return streamio.Step[LazyRecord]{Kind: streamio.StepRequest, Request: streamio.PartialRead(p.opts.seekChunkSize)}
		}
		p.awaitingData = false

		if p.state == stateBlank {
			p.readStart = p.cursor.Pos()
			if p.acc.GetByte(p.readStart) != '>' {
				p.done = true
				return streamio.Step[LazyRecord]{Kind: streamio.StepError, Err: errors.Wrap(ErrInvalidFormat, "fasta: record does not start with '>'")}
			}
			p.cursor = p.cursor.Advance(1) // past the leading '>'
			p.offsets = []int32{1}
			p.state = stateInHeader
			p.atLineStart = false
			continue
		}

		b := p.acc.GetByte(p.cursor.Pos())
		rel := int32(p.cursor.Pos() - p.readStart)

		if b == '>' && p.atLineStart {
			// Boundary: the previous record ends here, and more follow.
			return p.emitRecord(p.cursor.Pos(), false)
		}

		p.cursor = p.cursor.Advance(1)
		switch b {
		case '\n', '\r':
			if p.state == stateInHeader {
				p.offsets = append(p.offsets, rel)
				p.state = stateInSequence
			} else {
				p.offsets = append(p.offsets, rel)
			}
			p.atLineStart = true
		default:
			p.atLineStart = false
		}
	}
}

// finishAtEOF wraps up the final, in-progress record at true EOF, or
// reports StepDone if there is no pending record (EOF at the very start).
func (p *readIterator) finishAtEOF() streamio.Step[LazyRecord] {
	if p.state == stateBlank {
		p.done = true
		return streamio.Step[LazyRecord]{Kind: streamio.StepDone}
	}
	return p.emitRecord(p.cursor.Pos(), true)
}

// emitRecord builds the LazyRecord spanning [readStart, end) and emits it.
// If the header never saw a line terminator (a header-only record at
// EOF), the missing boundary is synthesized at end so Header/Sequence
// still decode correctly. final is true when this record is the last one
// in the file (end is true EOF, not the start of the next '>').
func (p *readIterator) emitRecord(end int64, final bool) streamio.Step[LazyRecord] {
	if p.state == stateInHeader {
		p.offsets = append(p.offsets, int32(end-p.readStart))
	}
	sentinel := int32(end - p.readStart)
	offsets := append(p.offsets, sentinel)

	rec := LazyRecord{Bytes: p.acc.ViewRange(p.readStart, end), Offsets: offsets}

	if p.opts.strict && rec.Sequence() == "" {
		p.done = true
		return streamio.Step[LazyRecord]{Kind: streamio.StepError, Err: errors.Wrapf(ErrInvalidFormat, "empty sequence for header %q", rec.Header())}
	}

	bytesCopy := make([]byte, len(rec.Bytes))
	copy(bytesCopy, rec.Bytes)
	rec.Bytes = bytesCopy

	p.state = stateBlank
	p.offsets = nil

	if final {
		p.done = true
		return streamio.Step[LazyRecord]{Kind: streamio.StepComplete, Value: rec}
	}
	p.pendingCollapse = true
	return streamio.Step[LazyRecord]{Kind: streamio.StepIncomplete, Value: rec}
}
