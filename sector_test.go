package acdat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-acdat/internal/fixture"
)

func TestReadSectorChain(t *testing.T) {
	tests := []struct {
		name      string
		blockSize uint32
		size      int
		scatter   bool
	}{
		{name: "empty", blockSize: 1024, size: 0},
		{name: "single sector", blockSize: 1024, size: 500},
		{name: "exactly one payload", blockSize: 256, size: 252},
		{name: "tail spills into next block", blockSize: 256, size: 254},
		{name: "largest tail", blockSize: 256, size: 255},
		{name: "one full sector then tail", blockSize: 256, size: 256},
		{name: "two payloads exactly", blockSize: 256, size: 504},
		{name: "many sectors", blockSize: 256, size: 5000},
		{name: "many sectors scattered", blockSize: 256, size: 5000, scatter: true},
		{name: "directory record", blockSize: 1024, size: nodeHeaderSize},
		{name: "directory record scattered", blockSize: 64, size: nodeHeaderSize, scatter: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := pattern(tt.size, 0x5a)
			b := fixture.New(tt.blockSize)
			b.Scatter = tt.scatter
			off := b.WriteChain(data)
			img := b.Finish(fixture.Header{BTree: off})

			got, err := ReadSectorChain(NewBytesSource(img), off, uint32(tt.size), tt.blockSize)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestReadSectorChainIgnoresFinalPointer(t *testing.T) {
	data := pattern(300, 1)
	b := fixture.New(256)
	off := b.WriteChain(data)
	img := b.Finish(fixture.Header{BTree: off})

	// Locate the tail sector by following the first pointer, then poison
	// the pointer the reader must never follow.
	tail := binary.LittleEndian.Uint32(img[off:])
	binary.LittleEndian.PutUint32(img[tail:], 0xDEADBEEF)

	got, err := ReadSectorChain(NewBytesSource(img), off, uint32(len(data)), 256)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadSectorChainInvalidPointer(t *testing.T) {
	for _, next := range []uint32{0, 0xFFFFFF00} {
		data := pattern(5000, 2)
		b := fixture.New(256)
		off := b.WriteChain(data)
		img := b.Finish(fixture.Header{BTree: off})
		binary.LittleEndian.PutUint32(img[off:], next)

		_, err := ReadSectorChain(NewBytesSource(img), off, uint32(len(data)), 256)
		assert.ErrorIs(t, err, ErrInvalidChain, "next=%#x", next)
	}
}

func TestReadSectorChainTruncated(t *testing.T) {
	t.Run("tail cut off", func(t *testing.T) {
		data := pattern(5000, 3)
		b := fixture.New(256)
		off := b.WriteChain(data)
		img := b.Finish(fixture.Header{BTree: off})

		got, err := ReadSectorChain(NewBytesSource(img[:len(img)-200]), off, uint32(len(data)), 256)
		assert.ErrorIs(t, err, ErrTruncatedInput)
		assert.Nil(t, got, "no partial buffer")
	})

	t.Run("start past end", func(t *testing.T) {
		_, err := ReadSectorChain(NewBytesSource(make([]byte, 512)), 1024, 10, 256)
		assert.ErrorIs(t, err, ErrTruncatedInput)
	})

	t.Run("logical size larger than chain", func(t *testing.T) {
		b := fixture.New(256)
		off := b.WriteChain(pattern(100, 4))
		img := b.Finish(fixture.Header{BTree: off})

		// The chain's only pointer is zero, so asking for more than one
		// sector's worth must fail rather than wrap around.
		_, err := ReadSectorChain(NewBytesSource(img), off, 1000, 256)
		assert.ErrorIs(t, err, ErrInvalidChain)
	})
}

func TestReadSectorChainBlockSize(t *testing.T) {
	src := NewBytesSource(make([]byte, 4096))
	for _, bs := range []uint32{0, 1, 4} {
		_, err := ReadSectorChain(src, 0x400, 16, bs)
		assert.ErrorIs(t, err, ErrInvalidHeader, "block size %d", bs)
	}
}

func TestReadChainCountsSectors(t *testing.T) {
	data := pattern(1000, 5)
	b := fixture.New(256)
	off := b.WriteChain(data)
	img := b.Finish(fixture.Header{BTree: off})

	buf := make([]byte, len(data))
	sectors, err := readChain(NewBytesSource(img), off, buf, 256)
	require.NoError(t, err)
	// 252*3 bytes in full sectors, 244 in the tail.
	assert.Equal(t, 4, sectors)

	// A whole number of payloads still ends on a tail read of the last
	// sector, so the last pointer is read but never followed.
	data = pattern(2*252, 6)
	b = fixture.New(256)
	off = b.WriteChain(data)
	img = b.Finish(fixture.Header{BTree: off})
	sectors, err = readChain(NewBytesSource(img), off, make([]byte, len(data)), 256)
	require.NoError(t, err)
	assert.Equal(t, 2, sectors)
}
