// Package genome holds the small genomic domain types (chromosome,
// genome, range, strand) that sit at the boundary of the parsing
// framework: FASTA and Hi-C readers accept and return these, but the
// types themselves carry no parsing logic of their own.
package genome

import "github.com/pkg/errors"

// Chromosome is a named reference sequence with a known length.
type Chromosome struct {
	Name   string
	Length int64
}

// IndexedGenome is an ordered list of chromosomes with fast name lookup,
// the same shape as a BAM/Hi-C header's reference dictionary.
type IndexedGenome struct {
	chroms  []Chromosome
	indexOf map[string]int32
}

// NewIndexedGenome builds an IndexedGenome preserving the given order.
func NewIndexedGenome(chroms []Chromosome) *IndexedGenome {
	g := &IndexedGenome{
		chroms:  append([]Chromosome(nil), chroms...),
		indexOf: make(map[string]int32, len(chroms)),
	}
	for i, c := range g.chroms {
		g.indexOf[c.Name] = int32(i)
	}
	return g
}

// Len returns the number of chromosomes.
func (g *IndexedGenome) Len() int { return len(g.chroms) }

// At returns the chromosome at index i.
func (g *IndexedGenome) At(i int32) Chromosome { return g.chroms[i] }

// NameAt returns the name of the chromosome at index i.
func (g *IndexedGenome) NameAt(i int32) string { return g.chroms[i].Name }

// LengthAt returns the length of the chromosome at index i.
func (g *IndexedGenome) LengthAt(i int32) int64 { return g.chroms[i].Length }

// IndexOf returns the index of the chromosome named name, failing if it is
// not present in the genome.
func (g *IndexedGenome) IndexOf(name string) (int32, error) {
	i, ok := g.indexOf[name]
	if !ok {
		return 0, errors.Errorf("genome: chromosome not found: %s", name)
	}
	return i, nil
}

// All returns the chromosomes in file order. The returned slice must not
// be mutated.
func (g *IndexedGenome) All() []Chromosome { return g.chroms }

// BinCount returns the number of bins of the given size needed to cover
// the chromosome at index i, i.e. ceil(length/binSize).
func (g *IndexedGenome) BinCount(i int32, binSize int64) int64 {
	length := g.LengthAt(i)
	return (length + binSize - 1) / binSize
}

// BinOf returns the zero-based bin index containing 0-based position pos
// at the given bin size.
func BinOf(pos, binSize int64) int64 {
	return pos / binSize
}
