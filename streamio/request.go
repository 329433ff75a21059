package streamio

// RequestKind discriminates the demands a Parser can make of its driver.
// Go has no sum types, so Request is a tagged struct; only the fields
// relevant to Kind are meaningful on any given value.
type RequestKind int

const (
	// RequestExactRead demands exactly Count more bytes be appended to the
	// accumulator. If SourcePosition is set, the driver first repositions
	// the source (and the accumulator's origin) there.
	RequestExactRead RequestKind = iota
	// RequestPartialRead demands at least one byte, up to MaxCount (or the
	// driver's default chunk size if MaxCount is zero). A short read,
	// including a zero-byte read, signals EOF to the parser rather than
	// failing.
	RequestPartialRead
	// RequestCollapseBuffer hints that the driver should trim the
	// accumulator down to [KeepFromOffset, LastOffset) to bound memory use.
	RequestCollapseBuffer
	// RequestPassthrough has no constructor and is not serviced by the
	// driver: ParseSync reports it as an unknown request kind. A nested
	// parser instead forwards its inner parser's requests unchanged (see
	// Passthrough in driver.go).
	RequestPassthrough
	// RequestStop terminates parsing without emitting a final record.
	RequestStop
)

// Request is one yielded demand from a Parser's Step method.
type Request struct {
	Kind RequestKind

	// Used by RequestExactRead.
	Count int

	// Used by RequestExactRead and RequestPartialRead. A nil value means
	// "continue reading from the current source position"; a non-nil value
	// means "seek the source there first, and reset the accumulator's
	// origin to it".
	SourcePosition *int64

	// Used by RequestPartialRead. Zero means "use the driver's default
	// chunk size".
	MaxCount int

	// Used by RequestCollapseBuffer. A nil value means "clear the
	// accumulator entirely"; a non-nil value means "keep bytes from this
	// offset onward".
	KeepFromOffset *int64
}

// ExactRead builds a RequestExactRead for count more bytes at the current
// source position.
func ExactRead(count int) Request {
	return Request{Kind: RequestExactRead, Count: count}
}

// ExactReadAt builds a RequestExactRead that first repositions the source.
func ExactReadAt(position int64, count int) Request {
	return Request{Kind: RequestExactRead, Count: count, SourcePosition: &position}
}

// PartialRead builds a RequestPartialRead at the current source position.
func PartialRead(maxCount int) Request {
	return Request{Kind: RequestPartialRead, MaxCount: maxCount}
}

// PartialReadAt builds a RequestPartialRead that first repositions the
// source.
func PartialReadAt(position int64, maxCount int) Request {
	return Request{Kind: RequestPartialRead, MaxCount: maxCount, SourcePosition: &position}
}

// CollapseBuffer builds a RequestCollapseBuffer that keeps bytes from
// keepFromOffset onward.
func CollapseBuffer(keepFromOffset int64) Request {
	return Request{Kind: RequestCollapseBuffer, KeepFromOffset: &keepFromOffset}
}

// CollapseBufferAll builds a RequestCollapseBuffer that clears the
// accumulator entirely.
func CollapseBufferAll() Request {
	return Request{Kind: RequestCollapseBuffer}
}

// Stop builds a RequestStop.
func Stop() Request {
	return Request{Kind: RequestStop}
}
