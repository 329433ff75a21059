package hic

import (
	"github.com/biogo/store/llrb"
	"github.com/pkg/errors"

	"github.com/grailbio/biohic/genome"
)

// ResolutionUnit distinguishes base-pair from restriction-fragment
// resolutions.
type ResolutionUnit int

const (
	BP ResolutionUnit = iota
	FRAG
)

func (u ResolutionUnit) String() string {
	if u == FRAG {
		return "FRAG"
	}
	return "BP"
}

func parseResolutionUnit(s string) (ResolutionUnit, error) {
	switch s {
	case "BP":
		return BP, nil
	case "FRAG":
		return FRAG, nil
	default:
		return 0, errors.Wrapf(ErrInvalidFormat, "unit %q is neither BP nor FRAG", s)
	}
}

// Resolution is a (binSize, unit) pair identifying one zoom level of a
// contact matrix.
type Resolution struct {
	Unit    ResolutionUnit
	BinSize int32
}

// ContactsTag discriminates the members of ContactsKind.
type ContactsTag int

const (
	Observed ContactsTag = iota
	OverExpected
	Normalized
)

// ContactsKind selects how IterateContacts scales the raw counts it reads.
// Name is only meaningful when Tag is Normalized, naming the
// normalization vector (e.g. "VC") to divide by.
type ContactsKind struct {
	Tag  ContactsTag
	Name string
}

// ObservedContacts requests raw observed counts.
func ObservedContacts() ContactsKind { return ContactsKind{Tag: Observed} }

// OverExpectedContacts requests counts divided by the expected value for
// each bin's genomic distance, without any chromosome scale factor.
func OverExpectedContacts() ContactsKind { return ContactsKind{Tag: OverExpected} }

// NormalizedContacts requests counts divided by the named normalization's
// expected value and chromosome scale factors.
func NormalizedContacts(name string) ContactsKind { return ContactsKind{Tag: Normalized, Name: name} }

// ContactRecord is one emitted (binX, binY, value) triple.
type ContactRecord struct {
	BinX, BinY int64
	Value      float64
}

// FileRegion is a byte range within the Hi-C file.
type FileRegion struct {
	Offset int64
	Length int32
}

// KV is an ordered header attribute.
type KV struct {
	Key, Value string
}

// Header is the parsed file preamble: magic and version (validated, not
// retained), the footer position, genome id, attributes, chromosome
// dictionary, and the declared resolutions.
type Header struct {
	FooterPosition  int64
	GenomeID        string
	Attributes      []KV
	Genome          *genome.IndexedGenome
	BPResolutions   []int32
	FragResolutions []int32
	FragSites       map[string][]int32

	// ExpectedVectorsRegion is filled in by ReadMasterIndex (it is only
	// known once the master index's own byte count has been read); its
	// Length is advisory, derived from the master index's declared byte
	// count rather than read from any length field of its own.
	ExpectedVectorsRegion FileRegion
}

// masterIndexEntry is the master index's directory entry for one
// chromosome-pair key: the file position of that pair's matrix metadata,
// and its byte length to read from there. The on-disk field is
// conventionally called "nBlocks", but every consumer treats it as a
// byte count, so this package names it for what it's used as (see
// DESIGN.md).
type masterIndexEntry struct {
	position int64
	size     int32
}

// MasterIndex maps "{i}_{j}" chromosome-pair keys to the file region
// holding that pair's matrix metadata.
type MasterIndex struct {
	entries map[string]masterIndexEntry
}

// blockEntry is one entry of a ResolutionMetadata's block index, ordered
// by blockNumber so it can be stored in an llrb.Tree.
type blockEntry struct {
	blockNumber int32
	region      FileRegion
}

// Compare orders blockEntry by blockNumber, satisfying llrb.Comparable.
func (b blockEntry) Compare(c2 llrb.Comparable) int {
	return int(b.blockNumber - c2.(blockEntry).blockNumber)
}

// ResolutionMetadata describes one zoom level of a chromosome-pair matrix:
// its bin and block geometry, and the block index keyed by block number.
type ResolutionMetadata struct {
	Resolution       Resolution
	SumCounts        float32
	BlockSize        int32
	BlockColumnCount int32
	BlockCount       int32

	blockIndex llrb.Tree
}

// lookupBlock returns the file region for blockNumber, grounded on the
// llrb.Tree balanced-tree lookup pattern this package's source tree uses
// for shard indexing.
func (m ResolutionMetadata) lookupBlock(blockNumber int32) (FileRegion, bool) {
	c := m.blockIndex.Get(blockEntry{blockNumber: blockNumber})
	if c == nil {
		return FileRegion{}, false
	}
	return c.(blockEntry).region, true
}

// MatrixMetadata is the full per-resolution metadata for one
// chromosome-pair matrix.
type MatrixMetadata struct {
	Chr1Idx, Chr2Idx int32
	Resolutions      []ResolutionMetadata
}

// ResolutionMetadataFor returns the metadata for res, or
// ErrResolutionNotFound.
func (m MatrixMetadata) ResolutionMetadataFor(res Resolution) (ResolutionMetadata, error) {
	for _, rm := range m.Resolutions {
		if rm.Resolution == res {
			return rm, nil
		}
	}
	return ResolutionMetadata{}, errors.Wrapf(ErrResolutionNotFound, "%v %d", res.Unit, res.BinSize)
}

// ExpectedValueVector is one expected-value array for a given resolution,
// optionally named by a normalization method ("" for the raw,
// unnormalized vector).
type ExpectedValueVector struct {
	NormalizationName string
	Resolution        Resolution
	Values            []float64
	ChrScaleFactors   map[int32]float64
}

// ValueForDistance returns the expected value at genomic distance d,
// clamped to the vector's last entry for distances beyond its length.
func (v ExpectedValueVector) ValueForDistance(d int64) float64 {
	if d < 0 {
		d = 0
	}
	if last := int64(len(v.Values)) - 1; d > last {
		d = last
	}
	return v.Values[d]
}

// ExpectedValues holds every expected-value vector read from one file
// (both unnormalized and normalized sections).
type ExpectedValues struct {
	Vectors []ExpectedValueVector
}

// find returns the vector matching kind and res, if present.
func (e ExpectedValues) find(kind ContactsKind, res Resolution) (ExpectedValueVector, bool) {
	name := ""
	if kind.Tag == Normalized {
		name = kind.Name
	}
	for _, v := range e.Vectors {
		if v.NormalizationName == name && v.Resolution == res {
			return v, true
		}
	}
	return ExpectedValueVector{}, false
}
