package hic

import "github.com/pkg/errors"

// Sentinel errors for the kind taxonomy this package surfaces. Wrap with
// errors.Wrapf for context; callers distinguish kinds with errors.Is.
var (
	// ErrInvalidMagic means the file did not start with "HIC\0".
	ErrInvalidMagic = errors.New("hic: invalid magic")
	// ErrUnsupportedVersion means the header's version field was not 8.
	ErrUnsupportedVersion = errors.New("hic: unsupported version")
	// ErrInvalidFormat means a byte-level invariant was violated (an
	// out-of-range unit string, a representation byte other than 1 or 2,
	// a negative row number).
	ErrInvalidFormat = errors.New("hic: invalid format")
	// ErrUnknownMatrix means a master-index lookup by chromosome-pair key
	// found no entry.
	ErrUnknownMatrix = errors.New("hic: unknown matrix")
	// ErrResolutionNotFound means a matrix has no metadata at the
	// requested resolution.
	ErrResolutionNotFound = errors.New("hic: resolution not found")
	// ErrChromosomeNotFound means a genomic range named a chromosome
	// absent from the header's genome.
	ErrChromosomeNotFound = errors.New("hic: chromosome not found")
	// ErrStateError means an operation was called before the parser its
	// precondition depends on has run (e.g. ReadMasterIndex before
	// ReadHeader).
	ErrStateError = errors.New("hic: precondition not met")
)
