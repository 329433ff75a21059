package streamio

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// Source is a random-access, synchronously readable byte source -- a
// file-like collaborator for the driver. Implementations may permit a
// short read at EOF (read fewer than count bytes, possibly zero); they
// must not block indefinitely.
type Source interface {
	// ReadAt reads up to len(buf) bytes starting at the given absolute
	// position and returns the number of bytes actually read. A short read
	// (n < len(buf)) signals EOF to the caller; it is not itself an error.
	ReadAt(buf []byte, position int64) (n int, err error)

	// Close releases any resources held by the source. The driver never
	// calls Close; callers own the source's lifecycle (open before driving
	// a parser, close on all exit paths).
	Close() error
}

// FileSource is a Source backed by an os.File.
type FileSource struct {
	f *os.File
}

// OpenFile opens path for reading and returns a FileSource.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "streamio: opening %s", path)
	}
	return &FileSource{f: f}, nil
}

// ReadAt implements Source. os.File.ReadAt already reads at an absolute
// position without moving the file's shared seek offset, so a FileSource
// can be driven concurrently with other readers of the same *os.File.
func (s *FileSource) ReadAt(buf []byte, position int64) (int, error) {
	n, err := s.f.ReadAt(buf, position)
	if err != nil && err != io.EOF {
		return n, errors.Wrap(err, "streamio: read")
	}
	return n, nil
}

// Close implements Source.
func (s *FileSource) Close() error {
	return s.f.Close()
}

// MemorySource is a Source backed by an in-memory byte slice, useful for
// tests and for small embedded references.
type MemorySource struct {
	data []byte
}

// NewMemorySource wraps data as a Source. data is not copied; callers must
// not mutate it while a parser is reading from the source.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

// ReadAt implements Source.
func (s *MemorySource) ReadAt(buf []byte, position int64) (int, error) {
	if position < 0 || position >= int64(len(s.data)) {
		return 0, nil
	}
	n := copy(buf, s.data[position:])
	return n, nil
}

// Close implements Source. It is a no-op.
func (s *MemorySource) Close() error { return nil }
