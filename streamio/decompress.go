package streamio

import (
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// defaultDecompressChunkSize is the number of outer (compressed) bytes
// requested per PartialRead when feeding the inflater.
const defaultDecompressChunkSize = 32 * 1024

// DecompressOpt configures ZlibDecode.
type DecompressOpt func(*decompressOpts)

type decompressOpts struct {
	chunkSize int
}

// WithDecompressChunkSize overrides the number of compressed bytes
// requested per outer PartialRead.
func WithDecompressChunkSize(n int) DecompressOpt {
	return func(o *decompressOpts) { o.chunkSize = n }
}

// ZlibDecode adapts an inner parser that expects decompressed bytes into a
// ParserFactory that can be driven directly by ParseSync against an outer
// source of zlib-compressed bytes. It is forward-only: the outer stream is
// read strictly in order, once, front to back: any inner request naming an
// absolute SourcePosition is a programming error, since seeking within a
// compressed stream isn't supported (Hi-C's per-block random access instead
// decompresses each block's bytes in one shot; see encoding/hic).
func ZlibDecode[T any](innerFactory ParserFactory[T], opts ...DecompressOpt) ParserFactory[T] {
	o := decompressOpts{chunkSize: defaultDecompressChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	return func(outerAcc *ByteAccumulator) Parser[T] {
		return &zlibDecodeParser[T]{
			outerAcc:     outerAcc,
			outerCursor:  NewCursor(outerAcc.FirstOffset()),
			innerFactory: innerFactory,
			chunkSize:    o.chunkSize,
			needMore:     make(chan struct{}),
			supply:       make(chan supplyMsg, 1),
			resultCh:     make(chan Step[T], 1),
		}
	}
}

type supplyMsg struct {
	data []byte
	eof  bool
}

// demandReader is the io.Reader the inflater pulls compressed bytes from.
// It never synthesizes an EOF except when told the outer stream is
// genuinely exhausted, so the inflater can be safely resumed across many
// calls instead of seeing a premature end of stream each time the outer
// accumulator's currently-buffered bytes run out.
type demandReader struct {
	buf      []byte
	needMore chan<- struct{}
	supply   <-chan supplyMsg
}

func (d *demandReader) Read(p []byte) (int, error) {
	if len(d.buf) == 0 {
		d.needMore <- struct{}{}
		msg := <-d.supply
		if msg.eof {
			return 0, io.EOF
		}
		d.buf = msg.data
	}
	n := copy(p, d.buf)
	d.buf = d.buf[n:]
	return n, nil
}

// zlibDecodeParser is the Parser[T] returned by ZlibDecode. It runs the
// inner parser and the zlib inflater on a background goroutine so that
// the blocking compress/flate reader interface can coexist with the
// cooperative, step-at-a-time protocol the outer driver expects. The
// goroutine communicates back to Step only at well-defined suspension
// points (needMore / resultCh), so from the outer driver's point of view
// the observable ordering of emissions is exactly as if the inflate ran
// synchronously in-line.
type zlibDecodeParser[T any] struct {
	outerAcc     *ByteAccumulator
	outerCursor  Cursor
	innerFactory ParserFactory[T]
	chunkSize    int

	started        bool
	awaitingSupply bool

	needMore chan struct{}
	supply   chan supplyMsg
	resultCh chan Step[T]
}

// Step implements Parser[T]. It is called exclusively by the outer
// ParseSync driver, on the outer source's accumulator.
func (z *zlibDecodeParser[T]) Step() Step[T] {
	z.ensureStarted()
	if z.awaitingSupply {
		newBytes := z.outerAcc.ViewRange(z.outerCursor.Pos(), z.outerAcc.LastOffset())
		if len(newBytes) == 0 {
			z.supply <- supplyMsg{eof: true}
		} else {
			buf := make([]byte, len(newBytes))
			copy(buf, newBytes)
			next := z.outerAcc.LastOffset()
			z.outerCursor = NewCursor(next)
			z.outerAcc.Trim(next, next)
			z.supply <- supplyMsg{data: buf}
		}
		z.awaitingSupply = false
	}
	select {
	case <-z.needMore:
		z.awaitingSupply = true
		return requestStep[T](PartialRead(z.chunkSize))
	case res := <-z.resultCh:
		return res
	}
}

func (z *zlibDecodeParser[T]) ensureStarted() {
	if z.started {
		return
	}
	z.started = true
	dr := &demandReader{needMore: z.needMore, supply: z.supply}
	go z.run(dr)
}

func (z *zlibDecodeParser[T]) run(dr *demandReader) {
	zr, err := zlib.NewReader(dr)
	if err != nil {
		z.resultCh <- errorStep[T](errors.Wrap(err, "streamio: zlib header"))
		return
	}
	defer zr.Close()

	innerAcc := NewByteAccumulator(0)
	inner := z.innerFactory(innerAcc)
	for {
		step := inner.Step()
		switch step.Kind {
		case StepIncomplete, StepComplete:
			z.resultCh <- step
			if step.Kind == StepComplete {
				return
			}
		case StepDone:
			z.resultCh <- doneStep[T]()
			return
		case StepError:
			z.resultCh <- step
			return
		case StepRequest:
			if err := z.serviceInner(innerAcc, zr, step.Request); err != nil {
				z.resultCh <- errorStep[T](err)
				return
			}
		}
	}
}

// serviceInner satisfies one inner request by inflating into innerAcc.
func (z *zlibDecodeParser[T]) serviceInner(innerAcc *ByteAccumulator, zr io.Reader, req Request) error {
	switch req.Kind {
	case RequestExactRead:
		if req.SourcePosition != nil {
			return errors.New("streamio: ZlibDecode does not support absolute positioning in the inner parser")
		}
		target := innerAcc.LastOffset() + int64(req.Count)
		for innerAcc.LastOffset() < target {
			n, err := z.inflateChunk(innerAcc, zr, int(target-innerAcc.LastOffset()))
			if n == 0 && err == io.EOF {
				return errors.Wrap(ErrUnexpectedEOF, "streamio: decompressed stream ended before inner parser's demand was met")
			}
			if err != nil && err != io.EOF {
				return errors.Wrap(err, "streamio: inflate")
			}
		}
		return nil
	case RequestPartialRead:
		if req.SourcePosition != nil {
			return errors.New("streamio: ZlibDecode does not support absolute positioning in the inner parser")
		}
		// A short or zero-byte read, including one caused by true EOF,
		// signals EOF to the inner parser rather than failing -- the same
		// contract RequestPartialRead has against a real Source.
		_, err := z.inflateChunk(innerAcc, zr, z.chunkSize)
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "streamio: inflate")
		}
		return nil
	case RequestCollapseBuffer:
		if req.KeepFromOffset != nil {
			innerAcc.Trim(*req.KeepFromOffset, innerAcc.LastOffset())
		} else {
			innerAcc.Clear(nil)
		}
		return nil
	case RequestStop:
		return nil
	default:
		return errors.Errorf("streamio: unknown inner request kind %d", req.Kind)
	}
}

// inflateChunk reads one chunk of decompressed bytes (sized to comfortably
// cover the outstanding demand) and appends whatever was read to innerAcc,
// returning the underlying Read call's raw (n, err) for the caller to
// interpret per its own request kind's EOF contract.
func (z *zlibDecodeParser[T]) inflateChunk(innerAcc *ByteAccumulator, zr io.Reader, want int) (int, error) {
	size := want
	if size < z.chunkSize {
		size = z.chunkSize
	}
	buf := make([]byte, size)
	n, err := zr.Read(buf)
	if n > 0 {
		innerAcc.Append(buf[:n])
	}
	return n, err
}

