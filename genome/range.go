package genome

import "github.com/pkg/errors"

// GenomicRange is a 1-based, inclusive [Start, End] interval on a named
// chromosome, optionally oriented by Strand.
type GenomicRange struct {
	ChromosomeName string
	Start          int64
	End            int64
	Strand         Strand
}

// NewGenomicRange validates and constructs a range.
func NewGenomicRange(chrom string, start, end int64, strand Strand) (GenomicRange, error) {
	if end < start {
		return GenomicRange{}, errors.Errorf("genome: invalid range %s:%d-%d", chrom, start, end)
	}
	return GenomicRange{ChromosomeName: chrom, Start: start, End: end, Strand: strand}, nil
}

// Length returns the number of positions covered, End-Start+1.
func (r GenomicRange) Length() int64 { return r.End - r.Start + 1 }

// Contains reports whether pos (1-based) falls within [Start, End].
func (r GenomicRange) Contains(pos int64) bool {
	return pos >= r.Start && pos <= r.End
}

// CopyWith returns a copy of r with start/end replaced.
func (r GenomicRange) CopyWith(start, end int64) GenomicRange {
	r.Start, r.End = start, end
	return r
}

// StartBin returns the zero-based bin index that this range's lower bound
// falls in: floor((Start-1)/binSize), since Start is 1-based.
func (r GenomicRange) StartBin(binSize int64) int64 {
	return (r.Start - 1) / binSize
}

// EndBinExclusive returns the zero-based, exclusive upper bin bound
// ceil(End/binSize) for this range.
func (r GenomicRange) EndBinExclusive(binSize int64) int64 {
	return (r.End + binSize - 1) / binSize
}
