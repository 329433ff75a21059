package fasta

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// indexRegExp matches one line of a .fai index: name, total bases, byte
// offset of the first base, bases per line, and bytes per line (including
// the line terminator).
var indexRegExp = regexp.MustCompile(`^(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)$`)

// parseIndex parses a .fai-formatted reader into a slice of indexEntry, in
// file order.
func parseIndex(r io.Reader) ([]indexEntry, error) {
	var entries []indexEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		matches := indexRegExp.FindStringSubmatch(line)
		if len(matches) != 6 {
			return nil, errors.Errorf("fasta: invalid index line: %s", line)
		}
		ent := indexEntry{name: matches[1]}
		ent.length, _ = strconv.ParseUint(matches[2], 10, 64)
		ent.offset, _ = strconv.ParseUint(matches[3], 10, 64)
		ent.lineBase, _ = strconv.ParseUint(matches[4], 10, 64)
		ent.lineWidth, _ = strconv.ParseUint(matches[5], 10, 64)
		entries = append(entries, ent)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "fasta: reading index")
	}
	return entries, nil
}

// GenerateIndex generates an index (*.fai) from FASTA.  The index can be later
// passed to NewIndexed() to random-access the FASTA file quickly.
//
// The index format is defined by "samtool faidx"
// (http://www.htslib.org/doc/faidx.html).
func GenerateIndex(out io.Writer, in io.Reader) (err error) {
	var (
		w           = bufio.NewWriter(out)
		r           = bufio.NewReader(in)
		seqName     string
		seqStartOff int64
		totalBases  int
		lineBases   int
		lineWidth   int
		cumByte     int64
		eof         bool
	)

	setErr := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}
	flush := func() {
		_, e := w.WriteString(strings.Join([]string{
			seqName,
			strconv.FormatInt(int64(totalBases), 10),
			strconv.FormatInt(seqStartOff, 10),
			strconv.FormatInt(int64(lineBases), 10),
			strconv.FormatInt(int64(lineWidth), 10),
		}, "\t") + "\n")
		setErr(e)
	}
	for !eof && err == nil {
		fullLine, e := r.ReadBytes('\n')
		if e == io.EOF { // Process fullLine, then exit the loop
			eof = true
		} else if e != nil {
			setErr(e)
		}
		cumByte += int64(len(fullLine))
		line := bytes.TrimRight(fullLine, "\r\n")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' { // Start a new sequence.
			if lineWidth != 0 {
				if seqName == "" {
					setErr(errors.New("fasta: malformed FASTA file"))
				}
				flush()
			}
			seqName = strings.Split(string(line[1:]), " ")[0]
			seqStartOff = cumByte
			lineWidth = 0
			lineBases = 0
			totalBases = 0
			continue
		}
		if lineWidth == 0 {
			lineWidth = len(fullLine)
			lineBases = len(line)
		}
		totalBases += len(line)
	}
	flush()
	setErr(w.Flush())
	if cumByte == 0 {
		setErr(errors.New("fasta: empty FASTA file"))
	}
	return
}
