package hic_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/biohic/encoding/hic"
	"github.com/grailbio/biohic/genome"
	"github.com/grailbio/biohic/streamio"
)

// builder is a little-endian byte-builder for constructing golden Hi-C V8
// fixtures in memory, in place of checked-in binary files.
type builder struct {
	buf bytes.Buffer
}

func (b *builder) u8(v uint8)     { b.buf.WriteByte(v) }
func (b *builder) i16(v int16)    { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *builder) i32(v int32)    { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *builder) i64(v int64)    { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *builder) f32(v float32)  { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *builder) f64(v float64)  { binary.Write(&b.buf, binary.LittleEndian, v) }
func (b *builder) cstring(s string) {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
}
func (b *builder) bytes() []byte { return b.buf.Bytes() }
func (b *builder) len() int64    { return int64(b.buf.Len()) }

func compressBytes(t *testing.T, raw []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w := zlib.NewWriter(&out)
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return out.Bytes()
}

// fixtureOpts configures buildFixture's single chromosome-pair matrix,
// letting tests vary the contact value and normalization vectors while
// sharing the overall layout.
type fixtureOpts struct {
	value           float32
	binSize         int32
	expectedValues  []float64
	chrScaleFactors map[int32]float64
	normName        string
	normValues      []float64
}

// buildFixture assembles a minimal, self-consistent Hi-C V8 file with two
// chromosomes and one contact block for matrix key "0_0".
func buildFixture(t *testing.T, o fixtureOpts) []byte {
	t.Helper()

	header := &builder{}
	header.buf.WriteString("HIC\x00")
	header.i32(8) // version
	header.i64(0) // footerPosition placeholder, patched below
	header.cstring("hg19")
	header.i32(0) // nAttrs
	header.i32(2) // nChromosomes
	header.cstring("chr1")
	header.i32(1000)
	header.cstring("chr2")
	header.i32(500)
	header.i32(1) // nBpResolutions
	header.i32(o.binSize)
	header.i32(0) // nFragResolutions

	headerBytes := header.bytes()
	footerPosition := int64(len(headerBytes))
	// Patch the footerPosition field in place (bytes 8..16, after magic+version).
	binary.LittleEndian.PutUint64(headerBytes[8:16], uint64(footerPosition))

	// Matrix metadata (fixed length regardless of the actual offset/length
	// values it will end up holding, so it can be sized before the block's
	// compressed length is known).
	matrix := &builder{}
	matrix.i32(0) // chr1Idx
	matrix.i32(0) // chr2Idx
	matrix.i32(1) // nResolutions
	matrix.cstring("BP")
	matrix.i32(0)        // resolutionIdx, unused
	matrix.f32(float32(0)) // sumCounts
	matrix.i32(0)        // occupiedCellCount
	matrix.f32(0)        // percent5
	matrix.f32(0)        // percent95
	matrix.i32(o.binSize)
	matrix.i32(1000000) // blockSize: large enough that the test range maps to block 0
	matrix.i32(1)       // blockColumnCount
	matrix.i32(1)       // blockCount
	matrix.i32(0)       // blockNumber
	blockOffsetFieldPos := matrix.len()
	matrix.i64(0) // block offset placeholder
	matrix.i32(0) // block length placeholder
	matrixBytes := matrix.bytes()

	// Block payload: one representation-1 (list-of-rows) record at (0,0).
	block := &builder{}
	block.i32(1) // nRecords, informational
	block.i32(0) // binXOffset
	block.i32(0) // binYOffset
	block.u8(1)  // useFloat
	block.u8(1)  // representation 1
	block.i16(1) // rowCount
	block.i16(0) // rowNumber
	block.i16(1) // recordCount
	block.i16(0) // colDelta
	block.f32(o.value)
	compressedBlock := compressBytes(t, block.bytes())

	// Expected value vectors: one unnormalized vector, optionally one
	// normalized vector.
	expected := &builder{}
	expected.i32(1) // nVectors (unnormalized)
	expected.cstring("BP")
	expected.i32(o.binSize)
	expected.i32(int32(len(o.expectedValues)))
	for _, v := range o.expectedValues {
		expected.f64(v)
	}
	expected.i32(0) // nFactors (unnormalized vector carries none)

	if o.normName != "" {
		expected.i32(1) // nVectors (normalized)
		expected.cstring(o.normName)
		expected.cstring("BP")
		expected.i32(o.binSize)
		expected.i32(int32(len(o.normValues)))
		for _, v := range o.normValues {
			expected.f64(v)
		}
		expected.i32(int32(len(o.chrScaleFactors)))
		for chrIdx, factor := range o.chrScaleFactors {
			expected.i32(chrIdx)
			expected.f64(factor)
		}
	} else {
		expected.i32(0) // nVectors (normalized)
	}
	expectedBytes := expected.bytes()

	// Master index: one entry for key "0_0".
	entries := &builder{}
	entries.cstring("0_0")
	entryPosFieldOffset := entries.len() // position within entries buffer of the i64 position field
	entries.i64(0)                       // matrix position placeholder
	entries.i32(int32(len(matrixBytes))) // size
	entriesBytes := entries.bytes()

	nBytes := int32(len(entriesBytes)) + 4 + int32(len(expectedBytes))

	masterIndex := &builder{}
	masterIndex.i32(nBytes)
	masterIndex.i32(1) // nEntries
	masterIndex.buf.Write(entriesBytes)
	masterIndex.buf.Write(expectedBytes)
	masterIndexBytes := masterIndex.bytes()

	actualMatrixPos := footerPosition + int64(len(masterIndexBytes))
	// Patch the matrix position field inside masterIndexBytes: it sits
	// after the 4(nBytes)+4(nEntries) prefix plus entryPosFieldOffset.
	patchAt := 4 + 4 + entryPosFieldOffset
	binary.LittleEndian.PutUint64(masterIndexBytes[patchAt:patchAt+8], uint64(actualMatrixPos))

	blockPos := actualMatrixPos + int64(len(matrixBytes))
	binary.LittleEndian.PutUint64(matrixBytes[blockOffsetFieldPos:blockOffsetFieldPos+8], uint64(blockPos))
	binary.LittleEndian.PutUint32(matrixBytes[blockOffsetFieldPos+8:blockOffsetFieldPos+12], uint32(len(compressedBlock)))

	var out bytes.Buffer
	out.Write(headerBytes)
	out.Write(masterIndexBytes)
	out.Write(matrixBytes)
	out.Write(compressedBlock)
	return out.Bytes()
}

func mustRange(t *testing.T, chrom string, start, end int64) genome.GenomicRange {
	t.Helper()
	r, err := genome.NewGenomicRange(chrom, start, end, genome.Unspecified)
	require.NoError(t, err)
	return r
}

func driveOne[T any](t *testing.T, seq func(yield func(T, error) bool), checkAtLeastOne bool) (T, error) {
	t.Helper()
	var last T
	var lastErr error
	count := 0
	for v, err := range seq {
		last, lastErr = v, err
		count++
		if err != nil {
			break
		}
	}
	if checkAtLeastOne {
		require.Greater(t, count, 0)
	}
	return last, lastErr
}

func TestReadHeader(t *testing.T) {
	data := buildFixture(t, fixtureOpts{value: 5, binSize: 100, expectedValues: []float64{1, 1, 1}})
	r := hic.NewReader(streamio.NewMemorySource(data))

	h, err := driveOne(t, r.ReadHeader(), true)
	require.NoError(t, err)
	assert.Equal(t, "hg19", h.GenomeID)
	assert.Equal(t, 2, h.Genome.Len())
	assert.Equal(t, "chr1", h.Genome.NameAt(0))
	assert.Equal(t, int64(500), h.Genome.LengthAt(1))
	assert.Equal(t, []int32{100}, h.BPResolutions)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	data := buildFixture(t, fixtureOpts{value: 1, binSize: 100, expectedValues: []float64{1}})
	data[0] = 'X'
	r := hic.NewReader(streamio.NewMemorySource(data))

	_, err := driveOne(t, r.ReadHeader(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, hic.ErrInvalidMagic)
}

func TestReadMasterIndexRequiresHeader(t *testing.T) {
	data := buildFixture(t, fixtureOpts{value: 1, binSize: 100, expectedValues: []float64{1}})
	r := hic.NewReader(streamio.NewMemorySource(data))

	_, err := driveOne(t, r.ReadMasterIndex(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, hic.ErrStateError)
}

func TestGetMatrixMetadataUnknownKey(t *testing.T) {
	data := buildFixture(t, fixtureOpts{value: 1, binSize: 100, expectedValues: []float64{1}})
	r := hic.NewReader(streamio.NewMemorySource(data))

	_, err := driveOne(t, r.ReadHeader(), true)
	require.NoError(t, err)
	_, err = driveOne(t, r.ReadMasterIndex(), true)
	require.NoError(t, err)

	_, err = driveOne(t, r.GetMatrixMetadatas("5_9"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, hic.ErrUnknownMatrix)
}

func TestIterateObservedContacts(t *testing.T) {
	data := buildFixture(t, fixtureOpts{value: 7.5, binSize: 100, expectedValues: []float64{1}})
	r := hic.NewReader(streamio.NewMemorySource(data))

	_, err := driveOne(t, r.ReadHeader(), true)
	require.NoError(t, err)
	_, err = driveOne(t, r.ReadMasterIndex(), true)
	require.NoError(t, err)

	xr := mustRange(t, "chr1", 1, 100)
	yr := mustRange(t, "chr1", 1, 100)
	res := hic.Resolution{Unit: hic.BP, BinSize: 100}

	var recs []hic.ContactRecord
	for rec, err := range r.IterateContacts(xr, yr, res, hic.ObservedContacts()) {
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.Len(t, recs, 1)
	assert.Equal(t, int64(0), recs[0].BinX)
	assert.Equal(t, int64(0), recs[0].BinY)
	assert.InDelta(t, 7.5, recs[0].Value, 1e-6)
}

// buildTwoChromosomeFixture assembles a Hi-C V8 file whose one matrix is
// the chr1×chr2 pair (key "0_1"), with two contacts in a single block:
// (binX=0,binY=0)=4 and (binX=1,binY=0)=6, and a matching SumCounts of 10.
// Unlike buildFixture, it carries no expected-value vectors, since the
// swap and sum-of-emitted-values checks only ever drive ObservedContacts.
func buildTwoChromosomeFixture(t *testing.T) []byte {
	t.Helper()

	header := &builder{}
	header.buf.WriteString("HIC\x00")
	header.i32(8) // version
	header.i64(0) // footerPosition placeholder, patched below
	header.cstring("hg19")
	header.i32(0) // nAttrs
	header.i32(2) // nChromosomes
	header.cstring("chr1")
	header.i32(1000)
	header.cstring("chr2")
	header.i32(500)
	header.i32(1)   // nBpResolutions
	header.i32(100) // binSize
	header.i32(0)   // nFragResolutions

	headerBytes := header.bytes()
	footerPosition := int64(len(headerBytes))
	binary.LittleEndian.PutUint64(headerBytes[8:16], uint64(footerPosition))

	matrix := &builder{}
	matrix.i32(0) // chr1Idx
	matrix.i32(1) // chr2Idx
	matrix.i32(1) // nResolutions
	matrix.cstring("BP")
	matrix.i32(0)     // resolutionIdx, unused
	matrix.f32(10)    // sumCounts: must equal the sum of every emitted value below
	matrix.i32(0)     // occupiedCellCount
	matrix.f32(0)     // percent5
	matrix.f32(0)     // percent95
	matrix.i32(100)   // binSize
	matrix.i32(1000000)
	matrix.i32(1) // blockColumnCount
	matrix.i32(1) // blockCount
	matrix.i32(0) // blockNumber
	blockOffsetFieldPos := matrix.len()
	matrix.i64(0)
	matrix.i32(0)
	matrixBytes := matrix.bytes()

	// One row (binY=0) carrying two records: binX=0 value=4, binX=1 value=6.
	block := &builder{}
	block.i32(2) // nRecords, informational
	block.i32(0) // binXOffset
	block.i32(0) // binYOffset
	block.u8(1)  // useFloat
	block.u8(1)  // representation 1
	block.i16(1) // rowCount
	block.i16(0) // rowNumber (binY=0)
	block.i16(2) // recordCount
	block.i16(0) // colDelta -> binX=0
	block.f32(4)
	block.i16(1) // colDelta -> binX=1
	block.f32(6)
	compressedBlock := compressBytes(t, block.bytes())

	expected := &builder{}
	expected.i32(0) // nVectors (unnormalized)
	expected.i32(0) // nVectors (normalized)
	expectedBytes := expected.bytes()

	entries := &builder{}
	entries.cstring("0_1")
	entryPosFieldOffset := entries.len()
	entries.i64(0)
	entries.i32(int32(len(matrixBytes)))
	entriesBytes := entries.bytes()

	nBytes := int32(len(entriesBytes)) + 4 + int32(len(expectedBytes))

	masterIndex := &builder{}
	masterIndex.i32(nBytes)
	masterIndex.i32(1) // nEntries
	masterIndex.buf.Write(entriesBytes)
	masterIndex.buf.Write(expectedBytes)
	masterIndexBytes := masterIndex.bytes()

	actualMatrixPos := footerPosition + int64(len(masterIndexBytes))
	patchAt := 4 + 4 + entryPosFieldOffset
	binary.LittleEndian.PutUint64(masterIndexBytes[patchAt:patchAt+8], uint64(actualMatrixPos))

	blockPos := actualMatrixPos + int64(len(matrixBytes))
	binary.LittleEndian.PutUint64(matrixBytes[blockOffsetFieldPos:blockOffsetFieldPos+8], uint64(blockPos))
	binary.LittleEndian.PutUint32(matrixBytes[blockOffsetFieldPos+8:blockOffsetFieldPos+12], uint32(len(compressedBlock)))

	var out bytes.Buffer
	out.Write(headerBytes)
	out.Write(masterIndexBytes)
	out.Write(matrixBytes)
	out.Write(compressedBlock)
	return out.Bytes()
}

func TestIterateContactsChromosomeSwap(t *testing.T) {
	data := buildTwoChromosomeFixture(t)
	r := hic.NewReader(streamio.NewMemorySource(data))
	_, err := driveOne(t, r.ReadHeader(), true)
	require.NoError(t, err)
	_, err = driveOne(t, r.ReadMasterIndex(), true)
	require.NoError(t, err)

	// chr2 (index 1) passed as xRange and chr1 (index 0) as yRange forces
	// the chrI > chrJ swap in IterateContacts; the matrix is only stored
	// under key "0_1", so this only succeeds if the swap (and the
	// matching range swap) actually happens.
	xr := mustRange(t, "chr2", 1, 100)
	yr := mustRange(t, "chr1", 1, 200)
	res := hic.Resolution{Unit: hic.BP, BinSize: 100}

	var recs []hic.ContactRecord
	for rec, err := range r.IterateContacts(xr, yr, res, hic.ObservedContacts()) {
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.Len(t, recs, 2)

	mm, err := driveOne(t, r.GetMatrixMetadatas("0_1"), true)
	require.NoError(t, err)
	resMeta, err := mm.ResolutionMetadataFor(res)
	require.NoError(t, err)

	var sum float64
	for _, rec := range recs {
		sum += rec.Value
	}
	assert.InDelta(t, float64(resMeta.SumCounts), sum, 1e-6)
}

func TestIterateContactsUnknownChromosome(t *testing.T) {
	data := buildFixture(t, fixtureOpts{value: 1, binSize: 100, expectedValues: []float64{1}})
	r := hic.NewReader(streamio.NewMemorySource(data))
	_, err := driveOne(t, r.ReadHeader(), true)
	require.NoError(t, err)
	_, err = driveOne(t, r.ReadMasterIndex(), true)
	require.NoError(t, err)

	xr := mustRange(t, "chrZZZ", 1, 100)
	yr := mustRange(t, "chr1", 1, 100)
	res := hic.Resolution{Unit: hic.BP, BinSize: 100}

	_, err = driveOne(t, r.IterateContacts(xr, yr, res, hic.ObservedContacts()), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, hic.ErrChromosomeNotFound)
}

func TestIterateOverExpectedContacts(t *testing.T) {
	data := buildFixture(t, fixtureOpts{value: 10, binSize: 100, expectedValues: []float64{2, 4, 8}})
	r := hic.NewReader(streamio.NewMemorySource(data))
	_, err := driveOne(t, r.ReadHeader(), true)
	require.NoError(t, err)
	_, err = driveOne(t, r.ReadMasterIndex(), true)
	require.NoError(t, err)
	_, err = driveOne(t, r.ReadExpectedValueVectors(), true)
	require.NoError(t, err)

	xr := mustRange(t, "chr1", 1, 100)
	yr := mustRange(t, "chr1", 1, 100)
	res := hic.Resolution{Unit: hic.BP, BinSize: 100}

	var recs []hic.ContactRecord
	for rec, err := range r.IterateContacts(xr, yr, res, hic.OverExpectedContacts()) {
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.Len(t, recs, 1)
	// distance 0 -> expected[0] == 2; observed 10 / 2 == 5.
	assert.InDelta(t, 5.0, recs[0].Value, 1e-6)
}

func TestIterateNormalizedContacts(t *testing.T) {
	data := buildFixture(t, fixtureOpts{
		value:           100,
		binSize:         100,
		expectedValues:  []float64{1},
		normName:        "VC",
		normValues:      []float64{5},
		chrScaleFactors: map[int32]float64{0: 2},
	})
	r := hic.NewReader(streamio.NewMemorySource(data))
	_, err := driveOne(t, r.ReadHeader(), true)
	require.NoError(t, err)
	_, err = driveOne(t, r.ReadMasterIndex(), true)
	require.NoError(t, err)
	_, err = driveOne(t, r.ReadExpectedValueVectors(), true)
	require.NoError(t, err)

	xr := mustRange(t, "chr1", 1, 100)
	yr := mustRange(t, "chr1", 1, 100)
	res := hic.Resolution{Unit: hic.BP, BinSize: 100}

	var recs []hic.ContactRecord
	for rec, err := range r.IterateContacts(xr, yr, res, hic.NormalizedContacts("VC")) {
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.Len(t, recs, 1)
	// 100 / (5 * 2 * 2) == 5.
	assert.InDelta(t, 5.0, recs[0].Value, 1e-6)
}

func TestIterateContactsWithoutExpectedValuesRequiresThem(t *testing.T) {
	data := buildFixture(t, fixtureOpts{value: 1, binSize: 100, expectedValues: []float64{1}})
	r := hic.NewReader(streamio.NewMemorySource(data))
	_, err := driveOne(t, r.ReadHeader(), true)
	require.NoError(t, err)
	_, err = driveOne(t, r.ReadMasterIndex(), true)
	require.NoError(t, err)

	xr := mustRange(t, "chr1", 1, 100)
	yr := mustRange(t, "chr1", 1, 100)
	res := hic.Resolution{Unit: hic.BP, BinSize: 100}

	_, err = driveOne(t, r.IterateContacts(xr, yr, res, hic.OverExpectedContacts()), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, hic.ErrStateError)
}

func TestExpectedValueVectorClamping(t *testing.T) {
	v := hic.ExpectedValueVector{Values: []float64{1, 2, 3}}
	assert.Equal(t, 1.0, v.ValueForDistance(-5))
	assert.Equal(t, 1.0, v.ValueForDistance(0))
	assert.Equal(t, 3.0, v.ValueForDistance(2))
	assert.Equal(t, 3.0, v.ValueForDistance(1000))
}

// ensure zlib-compressed block bytes round-trip through inflateBlock's
// dependency (klauspost/compress/zlib), confirming the fixture builder
// produces a valid stream the reader can actually inflate.
func TestFixtureBlockIsValidZlib(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5}
	compressed := compressBytes(t, raw)
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	defer zr.Close()
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}
