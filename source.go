// source.go
//
// Positioned byte access to an archive.
// Every read in the package goes through a Source so that the same decoding
// code runs against a memory-mapped file in production and an in-memory slice
// in tests. Reads never share a cursor position: each call names its own
// absolute offset, which is what makes concurrent subtree loads safe.

package acdat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/exp/mmap"
)

// Source is a seekable, byte-addressable provider of archive bytes.
//
// Implementations must support concurrent ReadAt calls; ReadAt follows the
// io.ReaderAt contract. Size reports the total number of addressable bytes.
type Source interface {
	io.ReaderAt
	Size() int64
}

// MmapSource is a read-only, memory-mapped Source backed by a file on disk.
//
// The mapping is acquired by OpenSource and released by Close. Close waits
// for in-flight reads and is idempotent; reads after Close fail with
// ErrClosed.
type MmapSource struct {
	r    *mmap.ReaderAt
	path string

	mu     sync.RWMutex // held for reading while the mapping is in use
	closed bool
	err    error
}

// OpenSource memory-maps the file at path.
func OpenSource(path string) (*MmapSource, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap archive: %w", err)
	}
	return &MmapSource{r: r, path: path}, nil
}

// ReadAt implements io.ReaderAt.
func (s *MmapSource) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.r.ReadAt(p, off)
}

// Size returns the length of the mapped file, or zero once closed.
func (s *MmapSource) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return int64(s.r.Len())
}

// Path returns the file the source was opened from.
func (s *MmapSource) Path() string { return s.path }

// Close unmaps the file once no read is using the mapping. Only the first
// call does any work; later calls return the same result.
func (s *MmapSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.err = s.r.Close()
	}
	return s.err
}

// bytesSource adapts an in-memory slice to Source.
type bytesSource struct{ *bytes.Reader }

// NewBytesSource returns a Source that serves reads from b.
// The slice must not be modified while the Source is in use.
func NewBytesSource(b []byte) Source { return bytesSource{bytes.NewReader(b)} }

// readAt reads exactly n bytes at off.
//
// Any request that reaches past the end of src fails with ErrTruncatedInput
// before touching the source, so callers never observe a partially filled
// buffer.
func readAt(src Source, off int64, n int) ([]byte, error) {
	if err := checkRange(src, off, n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := readFullAt(src, off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readFullAt fills dst from src starting at off.
func readFullAt(src Source, off int64, dst []byte) error {
	if err := checkRange(src, off, len(dst)); err != nil {
		return err
	}
	n, err := src.ReadAt(dst, off)
	if n == len(dst) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: short read at offset %d (%d of %d bytes)",
			ErrTruncatedInput, off, n, len(dst))
	}
	return err
}

// checkRange reports whether n bytes at off lie inside src.
func checkRange(src Source, off int64, n int) error {
	size := src.Size()
	if n < 0 || off < 0 || off > size || int64(n) > size-off {
		return fmt.Errorf("%w: need %d bytes at offset %d, source holds %d",
			ErrTruncatedInput, n, off, size)
	}
	return nil
}

// cursor decodes little-endian scalars from an in-memory record.
//
// The first short read latches ErrTruncatedInput into err; every later read
// returns zero, so a parser can decode a whole record and check err once.
type cursor struct {
	buf []byte
	pos int
	err error
}

func newCursor(buf []byte) *cursor { return &cursor{buf: buf} }

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n > len(c.buf)-c.pos {
		c.err = fmt.Errorf("%w: record needs %d bytes at %d, has %d",
			ErrTruncatedInput, n, c.pos, len(c.buf))
		return nil
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b
}

func (c *cursor) u32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// bytes copies the next n bytes out of the record.
func (c *cursor) bytes(n int) []byte {
	b := c.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
