package streamio

import (
	"fmt"
	"iter"

	"github.com/pkg/errors"
)

// DriverOpt configures ParseSync.
type DriverOpt func(*driverOpts)

type driverOpts struct {
	chunkSize int
}

// defaultChunkSize is the number of bytes requested for a PartialRead whose
// MaxCount is zero.
const defaultChunkSize = 64 * 1024

// WithChunkSize overrides the default chunk size used to service
// RequestPartialRead requests that do not specify their own MaxCount.
func WithChunkSize(n int) DriverOpt {
	return func(o *driverOpts) { o.chunkSize = n }
}

// ParserFactory builds a new Parser bound to acc, the accumulator the
// driver will append source bytes into. A factory is called exactly once
// per ParseSync invocation (parsers are not restartable; see Parser).
type ParserFactory[T any] func(acc *ByteAccumulator) Parser[T]

// ParseSync runs a parser built by factory against source, servicing its
// requests and yielding each emitted record in file order: single-threaded,
// requests are serviced strictly in yield order, and the source is never
// accessed except by this loop.
//
// Stopping iteration early (breaking out of a range-over-func loop)
// abandons the parser at its current suspension point; ParseSync never
// closes source -- the caller's scoped acquisition owns that.
func ParseSync[T any](factory ParserFactory[T], source Source, opts ...DriverOpt) iter.Seq2[T, error] {
	o := driverOpts{chunkSize: defaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}
	return func(yield func(T, error) bool) {
		acc := NewByteAccumulator(0)
		p := factory(acc)
		for {
			step := p.Step()
			switch step.Kind {
			case StepIncomplete:
				if !yield(step.Value, nil) {
					return
				}
			case StepComplete:
				yield(step.Value, nil)
				return
			case StepDone:
				return
			case StepError:
				var zero T
				yield(zero, step.Err)
				return
			case StepRequest:
				if err := service(acc, source, step.Request, o); err != nil {
					var zero T
					yield(zero, err)
					return
				}
			default:
				var zero T
				yield(zero, errors.Errorf("streamio: unknown step kind %d", step.Kind))
				return
			}
		}
	}
}

// service carries out one Request against source, mutating acc in place.
// RequestStop is a no-op for the driver; the parser that issued it is
// expected to return StepDone on its next Step call.
func service(acc *ByteAccumulator, source Source, req Request, o driverOpts) error {
	switch req.Kind {
	case RequestExactRead:
		if req.SourcePosition != nil {
			acc.Clear(req.SourcePosition)
		}
		buf := make([]byte, req.Count)
		n, err := readFull(source, buf, acc.LastOffset())
		if err != nil {
			return err
		}
		if n < req.Count {
			return errors.Wrapf(ErrUnexpectedEOF, "wanted %d bytes at offset %d, got %d", req.Count, acc.LastOffset(), n)
		}
		acc.Append(buf)
		return nil

	case RequestPartialRead:
		if req.SourcePosition != nil {
			acc.Clear(req.SourcePosition)
		}
		maxCount := req.MaxCount
		if maxCount == 0 {
			maxCount = o.chunkSize
		}
		buf := make([]byte, maxCount)
		n, err := source.ReadAt(buf, acc.LastOffset())
		if err != nil {
			return err
		}
		acc.Append(buf[:n])
		return nil

	case RequestCollapseBuffer:
		if req.KeepFromOffset != nil {
			acc.Trim(*req.KeepFromOffset, acc.LastOffset())
		} else {
			acc.Clear(nil)
		}
		return nil

	case RequestStop:
		return nil

	default:
		return fmt.Errorf("streamio: unknown request kind %d", req.Kind)
	}
}

// readFull reads exactly len(buf) bytes from source at position,
// repeatedly calling ReadAt to cope with short reads that are not EOF.
func readFull(source Source, buf []byte, position int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := source.ReadAt(buf[total:], position+int64(total))
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// Passthrough drives an inner parser one step at a time from within an
// outer parser's Step implementation. It returns the inner request with
// status PassthroughNeedsRequest when the inner parser needs the driver to
// act (the outer Step just re-yields that request unchanged), the inner
// value with PassthroughEmitted or PassthroughComplete when the inner
// parser reaches StepIncomplete or StepComplete, so the outer parser can
// consume the emission and switch back to its own logic, and
// PassthroughFinished with a zero value when the inner parser reaches
// StepDone or StepError (err carries the StepError cause, nil otherwise).
func Passthrough[T any](inner Parser[T]) (req Request, value T, status PassthroughStatus, err error) {
	step := inner.Step()
	switch step.Kind {
	case StepRequest:
		return step.Request, value, PassthroughNeedsRequest, nil
	case StepIncomplete:
		return Request{}, step.Value, PassthroughEmitted, nil
	case StepComplete:
		return Request{}, step.Value, PassthroughComplete, nil
	case StepError:
		return Request{}, value, PassthroughFinished, step.Err
	default: // StepDone
		return Request{}, value, PassthroughFinished, nil
	}
}

// PassthroughStatus reports what Passthrough observed from one Step of an
// inner parser.
type PassthroughStatus int

const (
	// PassthroughNeedsRequest means the outer parser must return Request
	// from its own Step call unchanged, and call Passthrough again once
	// resumed.
	PassthroughNeedsRequest PassthroughStatus = iota
	// PassthroughEmitted means the inner parser produced an intermediate
	// value; the outer parser may consume it and continue driving the
	// inner parser, or switch back to its own state.
	PassthroughEmitted
	// PassthroughComplete means the inner parser produced its final value
	// and will not be driven further.
	PassthroughComplete
	// PassthroughFinished means the inner parser reached StepDone or
	// StepError (no emission).
	PassthroughFinished
)
