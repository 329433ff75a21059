// Package hic reads Hi-C V8 contact-map files: the header and chromosome
// dictionary, the master index of per-chromosome-pair matrices, each
// matrix's per-resolution metadata, and the zlib-compressed contact
// blocks themselves, with optional expected-value normalization.
package hic

import (
	"bytes"
	"fmt"
	"io"
	"iter"
	"math"

	"github.com/biogo/store/llrb"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"

	"github.com/grailbio/biohic/genome"
	"github.com/grailbio/biohic/streamio"
)

// cstringChunkSize bounds how many bytes are requested per round trip
// while scanning for a NUL terminator in the header and expected-value
// sections, whose total length is not known up front.
const cstringChunkSize = 64

// Reader is a Hi-C V8 file container. Its operations must be driven in
// order: ReadHeader, then ReadMasterIndex, then GetMatrixMetadatas /
// IterateContacts / ReadExpectedValueVectors as needed. ReadHeader,
// ReadMasterIndex, GetMatrixMetadatas and ReadExpectedValueVectors store
// their results on the Reader for later operations; only
// GetMatrixMetadatas returns a stored result instead of parsing again, and
// IterateContacts stores nothing.
type Reader struct {
	source streamio.Source

	header      *Header
	masterIndex *MasterIndex
	matrixCache map[string]MatrixMetadata
	expected    *ExpectedValues
}

// NewReader returns a Reader over source. source is not closed by Reader;
// the caller's scoped acquisition owns that.
func NewReader(source streamio.Source) *Reader {
	return &Reader{source: source, matrixCache: make(map[string]MatrixMetadata)}
}

// ReadHeader returns the parser for the file preamble: magic and version
// (validated but not retained), footer position, genome id, attributes,
// chromosome dictionary, and declared resolutions. Draining it caches the
// result for every later operation.
func (r *Reader) ReadHeader() iter.Seq2[Header, error] {
	return func(yield func(Header, error) bool) {
		factory := func(acc *streamio.ByteAccumulator) streamio.Parser[Header] {
			return streamio.NewCoroutine(acc, readHeaderBody)
		}
		for h, err := range streamio.ParseSync(factory, r.source) {
			if err == nil {
				r.header = &h
			}
			if !yield(h, err) {
				return
			}
		}
	}
}

// ReadMasterIndex returns the parser for the directory mapping
// chromosome-pair keys to matrix file regions. Requires ReadHeader to
// have completed; also fills in header.ExpectedVectorsRegion as a side
// effect, matching the source's master-index-dependent footer layout.
func (r *Reader) ReadMasterIndex() iter.Seq2[MasterIndex, error] {
	return func(yield func(MasterIndex, error) bool) {
		if r.header == nil {
			yield(MasterIndex{}, errors.Wrap(ErrStateError, "hic: ReadMasterIndex requires ReadHeader first"))
			return
		}
		header := r.header
		factory := func(acc *streamio.ByteAccumulator) streamio.Parser[MasterIndex] {
			return streamio.NewCoroutine(acc, func(io *streamio.CoroutineIO[MasterIndex]) (MasterIndex, error) {
				return readMasterIndexBody(io, header)
			})
		}
		for mi, err := range streamio.ParseSync(factory, r.source) {
			if err == nil {
				r.masterIndex = &mi
			}
			if !yield(mi, err) {
				return
			}
		}
	}
}

// GetMatrixMetadatas returns the parser for the per-resolution metadata of
// the chromosome-pair matrix named by key ("{i}_{j}"). Requires
// ReadMasterIndex to have completed.
func (r *Reader) GetMatrixMetadatas(key string) iter.Seq2[MatrixMetadata, error] {
	return func(yield func(MatrixMetadata, error) bool) {
		if cached, ok := r.matrixCache[key]; ok {
			yield(cached, nil)
			return
		}
		if r.masterIndex == nil {
			yield(MatrixMetadata{}, errors.Wrap(ErrStateError, "hic: GetMatrixMetadatas requires ReadMasterIndex first"))
			return
		}
		entry, ok := r.masterIndex.entries[key]
		if !ok {
			yield(MatrixMetadata{}, errors.Wrapf(ErrUnknownMatrix, "key %s", key))
			return
		}
		factory := func(acc *streamio.ByteAccumulator) streamio.Parser[MatrixMetadata] {
			return streamio.NewCoroutine(acc, func(io *streamio.CoroutineIO[MatrixMetadata]) (MatrixMetadata, error) {
				return getMatrixMetadataBody(io, entry)
			})
		}
		for mm, err := range streamio.ParseSync(factory, r.source) {
			if err == nil {
				r.matrixCache[key] = mm
			}
			if !yield(mm, err) {
				return
			}
		}
	}
}

// ReadExpectedValueVectors returns the parser for the file's
// unnormalized and normalized expected-value vectors, read from the
// region ReadMasterIndex located. Requires ReadMasterIndex to have
// completed.
func (r *Reader) ReadExpectedValueVectors() iter.Seq2[ExpectedValues, error] {
	return func(yield func(ExpectedValues, error) bool) {
		if r.header == nil || r.masterIndex == nil {
			yield(ExpectedValues{}, errors.Wrap(ErrStateError, "hic: ReadExpectedValueVectors requires ReadHeader and ReadMasterIndex first"))
			return
		}
		region := r.header.ExpectedVectorsRegion
		factory := func(acc *streamio.ByteAccumulator) streamio.Parser[ExpectedValues] {
			return streamio.NewCoroutine(acc, func(io *streamio.CoroutineIO[ExpectedValues]) (ExpectedValues, error) {
				return readExpectedValuesBody(io, region)
			})
		}
		for ev, err := range streamio.ParseSync(factory, r.source) {
			if err == nil {
				r.expected = &ev
			}
			if !yield(ev, err) {
				return
			}
		}
	}
}

// IterateContacts returns the parser emitting every (binX, binY, value)
// contact within xRange × yRange at resolution res, scaled per kind.
// Requires ReadHeader and ReadMasterIndex to have completed; Normalized
// and OverExpected additionally require ReadExpectedValueVectors.
func (r *Reader) IterateContacts(xRange, yRange genome.GenomicRange, res Resolution, kind ContactsKind) iter.Seq2[ContactRecord, error] {
	return func(yield func(ContactRecord, error) bool) {
		if r.header == nil || r.masterIndex == nil {
			yield(ContactRecord{}, errors.Wrap(ErrStateError, "hic: IterateContacts requires ReadHeader and ReadMasterIndex first"))
			return
		}
		i, err := r.header.Genome.IndexOf(xRange.ChromosomeName)
		if err != nil {
			yield(ContactRecord{}, errors.Wrapf(ErrChromosomeNotFound, "%s", xRange.ChromosomeName))
			return
		}
		j, err := r.header.Genome.IndexOf(yRange.ChromosomeName)
		if err != nil {
			yield(ContactRecord{}, errors.Wrapf(ErrChromosomeNotFound, "%s", yRange.ChromosomeName))
			return
		}
		chrI, chrJ, rangeX, rangeY := i, j, xRange, yRange
		if chrI > chrJ {
			chrI, chrJ = chrJ, chrI
			rangeX, rangeY = yRange, xRange
		}
		key := fmt.Sprintf("%d_%d", chrI, chrJ)

		var matrixMeta MatrixMetadata
		gotMeta := false
		for mm, merr := range r.GetMatrixMetadatas(key) {
			if merr != nil {
				yield(ContactRecord{}, merr)
				return
			}
			matrixMeta, gotMeta = mm, true
		}
		if !gotMeta {
			return
		}
		resMeta, err := matrixMeta.ResolutionMetadataFor(res)
		if err != nil {
			yield(ContactRecord{}, err)
			return
		}

		var expected *ExpectedValueVector
		if kind.Tag != Observed {
			if r.expected == nil {
				yield(ContactRecord{}, errors.Wrap(ErrStateError, "hic: OverExpected/Normalized contacts require ReadExpectedValueVectors first"))
				return
			}
			v, ok := r.expected.find(kind, res)
			if !ok {
				yield(ContactRecord{}, errors.Wrapf(ErrResolutionNotFound, "no expected value vector for resolution %d", res.BinSize))
				return
			}
			expected = &v
		}

		params := contactsParams{
			xRange: rangeX, yRange: rangeY,
			resMeta: resMeta, kind: kind, expected: expected,
			chrI: chrI, chrJ: chrJ,
		}
		factory := func(acc *streamio.ByteAccumulator) streamio.Parser[ContactRecord] {
			return streamio.NewEmittingCoroutine(acc, func(io *streamio.CoroutineIO[ContactRecord]) error {
				return iterateContactsBody(io, params)
			})
		}
		for rec, rerr := range streamio.ParseSync(factory, r.source) {
			if !yield(rec, rerr) {
				return
			}
		}
	}
}

// readHeaderBody decodes the magic, version, footer position, genome id,
// attributes, chromosome dictionary, and declared resolutions in file
// order.
func readHeaderBody(io *streamio.CoroutineIO[Header]) (Header, error) {
	magic := io.ReadExact(4)
	if !bytes.Equal(magic, []byte("HIC\x00")) {
		return Header{}, errors.Wrapf(ErrInvalidMagic, "got %q", magic)
	}
	version := decodeI32(io.ReadExact(4))
	if version != 8 {
		return Header{}, errors.Wrapf(ErrUnsupportedVersion, "got %d", version)
	}
	footerPosition := decodeI64(io.ReadExact(8))
	genomeID := io.ReadCString(cstringChunkSize)

	nAttrs := decodeI32(io.ReadExact(4))
	attrs := make([]KV, 0, nAttrs)
	for a := int32(0); a < nAttrs; a++ {
		key := io.ReadCString(cstringChunkSize)
		value := io.ReadCString(cstringChunkSize)
		attrs = append(attrs, KV{Key: key, Value: value})
		io.Collapse()
	}

	nChroms := decodeI32(io.ReadExact(4))
	chroms := make([]genome.Chromosome, 0, nChroms)
	for c := int32(0); c < nChroms; c++ {
		name := io.ReadCString(cstringChunkSize)
		length := decodeI32(io.ReadExact(4))
		chroms = append(chroms, genome.Chromosome{Name: name, Length: int64(length)})
		io.Collapse()
	}
	g := genome.NewIndexedGenome(chroms)

	nBP := decodeI32(io.ReadExact(4))
	bpRes := make([]int32, nBP)
	for k := range bpRes {
		bpRes[k] = decodeI32(io.ReadExact(4))
	}

	nFrag := decodeI32(io.ReadExact(4))
	fragRes := make([]int32, nFrag)
	for k := range fragRes {
		fragRes[k] = decodeI32(io.ReadExact(4))
	}

	var fragSites map[string][]int32
	if nFrag > 0 {
		fragSites = make(map[string][]int32, g.Len())
		for c := 0; c < g.Len(); c++ {
			name := g.NameAt(int32(c))
			nSites := decodeI32(io.ReadExact(4))
			sites := make([]int32, nSites)
			for s := range sites {
				sites[s] = decodeI32(io.ReadExact(4))
			}
			fragSites[name] = sites
			io.Collapse()
		}
	}

	return Header{
		FooterPosition:  footerPosition,
		GenomeID:        genomeID,
		Attributes:      attrs,
		Genome:          g,
		BPResolutions:   bpRes,
		FragResolutions: fragRes,
		FragSites:       fragSites,
	}, nil
}

// readMasterIndexBody reads the footer's byte count and the directory of
// chromosome-pair keys to matrix-metadata regions, then derives the
// expected-value vectors' region from what's left of the footer's
// declared byte count.
func readMasterIndexBody(io *streamio.CoroutineIO[MasterIndex], header *Header) (MasterIndex, error) {
	nBytesBytes := io.SeekReadExact(header.FooterPosition, 4)
	nBytes := decodeI32(nBytesBytes)
	nEntries := decodeI32(io.ReadExact(4))

	entries := make(map[string]masterIndexEntry, nEntries)
	for e := int32(0); e < nEntries; e++ {
		key := io.ReadCString(cstringChunkSize)
		position := decodeI64(io.ReadExact(8))
		size := decodeI32(io.ReadExact(4))
		entries[key] = masterIndexEntry{position: position, size: size}
		io.Collapse()
	}

	consumed := io.Pos() - header.FooterPosition
	remainder := int64(nBytes) + 4 - consumed
	header.ExpectedVectorsRegion = FileRegion{Offset: io.Pos(), Length: int32(remainder)}

	return MasterIndex{entries: entries}, nil
}

// getMatrixMetadataBody decodes one chromosome-pair matrix's
// per-resolution metadata and block index. The whole metadata blob is
// known in length up front, so it is fetched with a single
// SeekReadExact and then decoded off a plain byteReader -- no further
// driver round trips are needed.
func getMatrixMetadataBody(io *streamio.CoroutineIO[MatrixMetadata], entry masterIndexEntry) (MatrixMetadata, error) {
	blob := io.SeekReadExact(entry.position, int(entry.size))
	br := &byteReader{b: blob}

	chr1Idx := decodeI32(br.next(4))
	chr2Idx := decodeI32(br.next(4))
	nRes := decodeI32(br.next(4))

	resolutions := make([]ResolutionMetadata, 0, nRes)
	for i := int32(0); i < nRes; i++ {
		unit, err := parseResolutionUnit(br.cstring())
		if err != nil {
			return MatrixMetadata{}, err
		}
		_ = decodeI32(br.next(4)) // resolutionIdx, not needed: binSize identifies the resolution
		sumCounts := decodeF32(br.next(4))
		_ = decodeI32(br.next(4)) // occupiedCellCount, must be 0 in V8
		_ = decodeF32(br.next(4)) // percent5, must be 0 in V8
		_ = decodeF32(br.next(4)) // percent95, must be 0 in V8
		binSize := decodeI32(br.next(4))
		blockSize := decodeI32(br.next(4))
		blockColumnCount := decodeI32(br.next(4))
		blockCount := decodeI32(br.next(4))

		var blockIndex llrb.Tree
		for b := int32(0); b < blockCount; b++ {
			blockNumber := decodeI32(br.next(4))
			offset := decodeI64(br.next(8))
			length := decodeI32(br.next(4))
			blockIndex.Insert(blockEntry{blockNumber: blockNumber, region: FileRegion{Offset: offset, Length: length}})
		}

		resolutions = append(resolutions, ResolutionMetadata{
			Resolution:       Resolution{Unit: unit, BinSize: binSize},
			SumCounts:        sumCounts,
			BlockSize:        blockSize,
			BlockColumnCount: blockColumnCount,
			BlockCount:       blockCount,
			blockIndex:       blockIndex,
		})
	}

	return MatrixMetadata{Chr1Idx: chr1Idx, Chr2Idx: chr2Idx, Resolutions: resolutions}, nil
}

// readExpectedValuesBody decodes the unnormalized and normalized
// expected-value vector sections as an explicit two-phase loop: pass 0
// reads unnamed (unnormalized) vectors, pass 1 reads named (normalized)
// ones.
func readExpectedValuesBody(io *streamio.CoroutineIO[ExpectedValues], region FileRegion) (ExpectedValues, error) {
	io.SeekReadExact(region.Offset, 0)

	var vectors []ExpectedValueVector
	for pass := 0; pass < 2; pass++ {
		normalized := pass == 1
		nVectors := decodeI32(io.ReadExact(4))
		for v := int32(0); v < nVectors; v++ {
			var name string
			if normalized {
				name = io.ReadCString(cstringChunkSize)
			}
			unit, err := parseResolutionUnit(io.ReadCString(cstringChunkSize))
			if err != nil {
				return ExpectedValues{}, err
			}
			binSize := decodeI32(io.ReadExact(4))
			nValues := decodeI32(io.ReadExact(4))
			values := make([]float64, nValues)
			for k := range values {
				values[k] = decodeF64(io.ReadExact(8))
			}
			nFactors := decodeI32(io.ReadExact(4))
			factors := make(map[int32]float64, nFactors)
			for k := int32(0); k < nFactors; k++ {
				chrIdx := decodeI32(io.ReadExact(4))
				factor := decodeF64(io.ReadExact(8))
				factors[chrIdx] = factor
			}
			vectors = append(vectors, ExpectedValueVector{
				NormalizationName: name,
				Resolution:        Resolution{Unit: unit, BinSize: binSize},
				Values:            values,
				ChrScaleFactors:   factors,
			})
			io.Collapse()
		}
	}
	return ExpectedValues{Vectors: vectors}, nil
}

// contactsParams bundles the resolved inputs iterateContactsBody needs;
// built by IterateContacts after its chromosome/metadata/expected-value
// lookups.
type contactsParams struct {
	xRange, yRange genome.GenomicRange
	resMeta        ResolutionMetadata
	kind           ContactsKind
	expected       *ExpectedValueVector
	chrI, chrJ     int32
}

// iterateContactsBody walks the block grid covering the requested
// ranges, fetching and decoding each present block in turn.
func iterateContactsBody(io *streamio.CoroutineIO[ContactRecord], p contactsParams) error {
	binSize := int64(p.resMeta.Resolution.BinSize)
	xStartBin, xEndBin := p.xRange.StartBin(binSize), p.xRange.EndBinExclusive(binSize)
	yStartBin, yEndBin := p.yRange.StartBin(binSize), p.yRange.EndBinExclusive(binSize)

	blockSize := int64(p.resMeta.BlockSize)
	xBlockStart, xBlockEnd := xStartBin/blockSize, (xEndBin+blockSize-1)/blockSize
	yBlockStart, yBlockEnd := yStartBin/blockSize, (yEndBin+blockSize-1)/blockSize

	for xBlock := xBlockStart; xBlock < xBlockEnd; xBlock++ {
		for yBlock := yBlockStart; yBlock < yBlockEnd; yBlock++ {
			blockNumber := int32(xBlock*int64(p.resMeta.BlockColumnCount) + yBlock)
			region, ok := p.resMeta.lookupBlock(blockNumber)
			if !ok {
				continue
			}
			compressed := io.SeekReadExact(region.Offset, int(region.Length))
			raw, err := inflateBlock(compressed)
			if err != nil {
				return err
			}
			records, err := decodeBlock(raw)
			if err != nil {
				return err
			}
			for _, rec := range records {
				if rec.BinX < xStartBin || rec.BinX >= xEndBin || rec.BinY < yStartBin || rec.BinY >= yEndBin {
					continue
				}
				rec.Value = scaleContact(rec, p)
				io.Emit(rec)
			}
		}
	}
	return nil
}

func scaleContact(rec ContactRecord, p contactsParams) float64 {
	switch p.kind.Tag {
	case OverExpected:
		if p.expected == nil {
			return rec.Value
		}
		return rec.Value / p.expected.ValueForDistance(absDiff(rec.BinX, rec.BinY))
	case Normalized:
		if p.expected == nil {
			return rec.Value
		}
		scaleX, scaleY := p.expected.ChrScaleFactors[p.chrI], p.expected.ChrScaleFactors[p.chrJ]
		if scaleX == 0 {
			scaleX = 1
		}
		if scaleY == 0 {
			scaleY = 1
		}
		return rec.Value / (p.expected.ValueForDistance(absDiff(rec.BinX, rec.BinY)) * scaleX * scaleY)
	default:
		return rec.Value
	}
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// inflateBlock decompresses one block's bytes in one shot. Only the
// per-block payload is zlib-compressed; the file's own I/O stays
// uncompressed, and each block is read and inflated independently.
func inflateBlock(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrap(err, "hic: opening compressed block")
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "hic: inflating block")
	}
	return raw, nil
}

// decodeBlock parses one inflated block's header and its
// representation-specific record layout (list-of-rows or dense).
func decodeBlock(raw []byte) ([]ContactRecord, error) {
	br := &byteReader{b: raw}
	_ = decodeI32(br.next(4)) // nRecords: informational; each representation below carries its own counts
	binXOffset := decodeI32(br.next(4))
	binYOffset := decodeI32(br.next(4))
	useFloat := decodeU8(br.next(1)) != 0
	representation := decodeU8(br.next(1))

	var out []ContactRecord
	switch representation {
	case 1:
		rowCount := decodeI16(br.next(2))
		for r := int16(0); r < rowCount; r++ {
			rowNumber := decodeI16(br.next(2))
			if rowNumber < 0 {
				return nil, errors.Wrap(ErrInvalidFormat, "negative row number")
			}
			recordCount := decodeI16(br.next(2))
			for c := int16(0); c < recordCount; c++ {
				colDelta := decodeI16(br.next(2))
				binX := int64(binXOffset) + int64(colDelta)
				binY := int64(binYOffset) + int64(rowNumber)
				value := readContactValue(br, useFloat)
				if !math.IsNaN(value) {
					out = append(out, ContactRecord{BinX: binX, BinY: binY, Value: value})
				}
			}
		}
	case 2:
		n := decodeI32(br.next(4))
		w := decodeI16(br.next(2))
		for k := int32(0); k < n; k++ {
			row := k / int32(w)
			col := k % int32(w)
			binX := int64(binXOffset) + int64(row)
			binY := int64(binYOffset) + int64(col)
			value := readContactValue(br, useFloat)
			if !math.IsNaN(value) {
				out = append(out, ContactRecord{BinX: binX, BinY: binY, Value: value})
			}
		}
	default:
		return nil, errors.Wrapf(ErrInvalidFormat, "representation %d", representation)
	}
	return out, nil
}

func readContactValue(br *byteReader, useFloat bool) float64 {
	if useFloat {
		return float64(decodeF32(br.next(4)))
	}
	return float64(decodeI16(br.next(2)))
}
