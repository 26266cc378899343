package acdat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-acdat/internal/fixture"
)

// recordingSource wraps a Source and remembers the offset of every read.
type recordingSource struct {
	Source

	mu      sync.Mutex
	offsets []int64
}

func (r *recordingSource) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	r.offsets = append(r.offsets, off)
	r.mu.Unlock()
	return r.Source.ReadAt(p, off)
}

func (r *recordingSource) reads() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.offsets...)
}

func (r *recordingSource) reset() {
	r.mu.Lock()
	r.offsets = nil
	r.mu.Unlock()
}

// textureRecords returns n records with consecutive texture ids. FileOffset
// and FileSize are left for the caller.
func textureRecords(n int) []fixture.Record {
	recs := make([]fixture.Record, n)
	for i := range recs {
		recs[i] = fixture.Record{
			BitFlags:  uint32(i % 3),
			ObjectID:  uint32(TextureBase) + uint32(i) + 1,
			Timestamp: 1_600_000_000 + uint32(i),
			Iteration: 7,
		}
	}
	return recs
}

func toFileRecords(recs []fixture.Record) []FileRecord {
	out := make([]FileRecord, len(recs))
	for i, r := range recs {
		out[i] = FileRecord{
			BitFlags:   r.BitFlags,
			ObjectID:   ObjectID(r.ObjectID),
			FileOffset: r.FileOffset,
			FileSize:   r.FileSize,
			Timestamp:  r.Timestamp,
			Iteration:  r.Iteration,
		}
	}
	return out
}

// testAsset describes one image payload stored by buildTestArchive.
type testAsset struct {
	id     ObjectID
	form   uint32
	width  uint32
	height uint32
	pixels []byte
}

// buildTestArchive writes the given assets and a directory tree listing them
// plus extra. It returns the archive bytes and the records in catalog order.
func buildTestArchive(t *testing.T, blockSize uint32, leafSize int, assets []testAsset, extra []fixture.Record) ([]byte, []FileRecord) {
	t.Helper()

	b := fixture.New(blockSize)
	var recs []fixture.Record
	for _, a := range assets {
		off := b.WriteAsset(uint32(a.id), a.form, a.width, a.height, 1, a.pixels)
		recs = append(recs, fixture.Record{
			ObjectID:   uint32(a.id),
			FileOffset: off,
			FileSize:   uint32(28 + len(a.pixels)),
			Iteration:  1,
		})
	}
	recs = append(recs, extra...)

	root := fixture.Tree(recs, leafSize)
	rootOff := b.WriteNode(root)
	img := b.Finish(fixture.Header{BTree: rootOff})
	return img, toFileRecords(root.Flatten())
}

func newTestArchive(t *testing.T, img []byte, opts ...Option) *Archive {
	t.Helper()
	a, err := NewArchive(NewBytesSource(img), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31) ^ seed
	}
	return b
}

func ptr[T any](v T) *T { return &v }
