package genome

import "github.com/pkg/errors"

// Strand is the strand a genomic feature lies on.
type Strand int8

const (
	// Unspecified means no strand information is available ('.').
	Unspecified Strand = iota
	// Positive is the forward strand ('+').
	Positive
	// Negative is the reverse strand ('-').
	Negative
)

// String returns the strand's single-character symbol.
func (s Strand) String() string {
	switch s {
	case Positive:
		return "+"
	case Negative:
		return "-"
	default:
		return "."
	}
}

// Complement returns the opposite strand; Unspecified complements to
// itself.
func (s Strand) Complement() Strand {
	switch s {
	case Positive:
		return Negative
	case Negative:
		return Positive
	default:
		return Unspecified
	}
}

// ParseStrand parses a strand symbol. It accepts the canonical "+", "-",
// "." symbols as well as the numeric synonyms "1", "-1", "0" some upstream
// tools emit.
func ParseStrand(s string) (Strand, error) {
	switch s {
	case "+", "1":
		return Positive, nil
	case "-", "-1":
		return Negative, nil
	case ".", "0":
		return Unspecified, nil
	default:
		return Unspecified, errors.Errorf("genome: invalid strand %q", s)
	}
}
