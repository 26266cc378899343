package acdat

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-acdat/internal/fixture"
)

func loadFixture(t *testing.T, img []byte, opts ...LoadOption) (*DirectoryNode, error) {
	t.Helper()
	src := NewBytesSource(img)
	h, err := ParseHeader(src)
	require.NoError(t, err)
	return LoadDirectory(context.Background(), src, h.BTree, h.BlockSize, opts...)
}

func TestLoadDirectoryLeaf(t *testing.T) {
	recs := textureRecords(10)
	img := fixture.Archive(1024, fixture.Tree(recs, MaxEntries))

	root, err := loadFixture(t, img)
	require.NoError(t, err)

	assert.True(t, root.IsLeaf())
	assert.Equal(t, NodeLeaf, root.Kind)
	assert.Empty(t, root.Children)
	assert.Equal(t, toFileRecords(recs), root.Entries)
	assert.Equal(t, 1, root.NodeCount())
	assert.Equal(t, 1, root.Height())
}

func TestLoadDirectoryLeafIgnoresBranches(t *testing.T) {
	recs := textureRecords(4)

	b := fixture.New(1024)
	decoy := b.WriteNode(&fixture.Node{Entries: recs[:2]})
	leaf := &fixture.Node{
		Entries:        recs[2:],
		BranchOverride: map[int]uint32{1: decoy, 2: decoy, 61: decoy},
	}
	off := b.WriteNode(leaf)
	img := b.Finish(fixture.Header{BTree: off})

	src := &recordingSource{Source: NewBytesSource(img)}
	root, err := LoadDirectory(context.Background(), src, off, 1024)
	require.NoError(t, err)

	assert.True(t, root.IsLeaf())
	assert.Equal(t, decoy, root.Branches[1], "raw branch table is kept")
	assert.Empty(t, root.Children)
	for _, o := range src.reads() {
		assert.False(t, o >= int64(decoy) && o < int64(decoy)+2*1024,
			"read at %#x touches a node only reachable from a leaf's branch table", o)
	}
}

func TestLoadDirectoryInternal(t *testing.T) {
	recs := textureRecords(200)
	fx := fixture.Tree(recs, 10)
	img := fixture.Archive(1024, fx)

	root, err := loadFixture(t, img)
	require.NoError(t, err)

	require.Equal(t, NodeInternal, root.Kind)
	require.Len(t, root.Children, len(root.Entries)+1)
	require.Len(t, root.Children, len(fx.Children))
	for i, c := range root.Children {
		assert.Equal(t, fx.Children[i].Offset, c.Offset, "child %d out of branch order", i)
		assert.Equal(t, root.Branches[i], c.Offset)
		assert.True(t, c.IsLeaf())
	}
	for i := len(root.Children); i < MaxBranches; i++ {
		assert.Zero(t, root.Branches[i], "unused branch %d", i)
	}

	assert.Equal(t, toFileRecords(fx.Flatten()), Flatten(root))
	assert.Equal(t, 2, root.Height())
}

func TestLoadDirectoryDeep(t *testing.T) {
	recs := textureRecords(3000)
	fx := fixture.Tree(recs, 5)

	for _, bs := range []uint32{64, 256, 1024, 4096} {
		img := fixture.Archive(bs, fx)
		root, err := loadFixture(t, img)
		require.NoError(t, err, "block size %d", bs)
		assert.Equal(t, toFileRecords(fx.Flatten()), Flatten(root), "block size %d", bs)
		assert.Greater(t, root.Height(), 2)
	}
}

func TestLoadDirectoryParallel(t *testing.T) {
	recs := textureRecords(3000)
	img := fixture.Archive(512, fixture.Tree(recs, 5))

	seq, err := loadFixture(t, img)
	require.NoError(t, err)
	par, err := loadFixture(t, img, WithLoadConcurrency(8))
	require.NoError(t, err)

	assert.Equal(t, Flatten(seq), Flatten(par))
	assert.Equal(t, seq.NodeCount(), par.NodeCount())
}

func TestLoadDirectoryMalformed(t *testing.T) {
	recs := textureRecords(8)
	leaf := func(i int) *fixture.Node { return &fixture.Node{Entries: recs[i : i+1]} }

	t.Run("entry count above limit", func(t *testing.T) {
		n := &fixture.Node{Entries: recs[:1], CountOverride: ptr(uint32(MaxEntries + 1))}
		img := fixture.Archive(1024, n)

		_, err := loadFixture(t, img)
		assert.ErrorIs(t, err, ErrMalformedTree)

		var ne *NodeError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, n.Offset, ne.Offset)
		assert.Zero(t, ne.Depth)
	})

	t.Run("internal node without entries", func(t *testing.T) {
		n := &fixture.Node{BranchOverride: map[int]uint32{0: 0x400}}
		img := fixture.Archive(1024, n)

		_, err := loadFixture(t, img)
		assert.ErrorIs(t, err, ErrCorruptHeader)
		assert.ErrorIs(t, err, ErrMalformedTree)
	})

	t.Run("missing branch", func(t *testing.T) {
		n := &fixture.Node{Entries: recs[:2], Children: []*fixture.Node{leaf(2), leaf(3)}}
		img := fixture.Archive(1024, n)

		_, err := loadFixture(t, img)
		assert.ErrorIs(t, err, ErrMalformedTree)
		assert.NotErrorIs(t, err, ErrCorruptHeader)
	})

	t.Run("child past end", func(t *testing.T) {
		n := &fixture.Node{
			Entries:        recs[:1],
			Children:       []*fixture.Node{leaf(2)},
			BranchOverride: map[int]uint32{1: 0x7FFFFFF0},
		}
		img := fixture.Archive(1024, n)

		_, err := loadFixture(t, img)
		assert.ErrorIs(t, err, ErrTruncatedInput)

		var ne *NodeError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, uint32(0x7FFFFFF0), ne.Offset)
		assert.Equal(t, 1, ne.Depth)
	})

	t.Run("parallel load reports subtree failure", func(t *testing.T) {
		bad := &fixture.Node{Entries: recs[4:5], CountOverride: ptr(uint32(99))}
		n := &fixture.Node{Entries: recs[:2], Children: []*fixture.Node{leaf(2), bad, leaf(3)}}
		img := fixture.Archive(1024, n)

		_, err := loadFixture(t, img, WithLoadConcurrency(3))
		assert.ErrorIs(t, err, ErrMalformedTree)
	})
}

func TestLoadDirectoryCycle(t *testing.T) {
	recs := textureRecords(3)
	n := &fixture.Node{
		Entries:  recs[:1],
		Children: []*fixture.Node{{Entries: recs[1:2]}, {Entries: recs[2:3]}},
	}

	// With 4096-byte blocks the whole record sits in the chain's first
	// sector, so branch i lives at offset+4+4*i.
	b := fixture.New(4096)
	rootOff := b.WriteNode(n)
	img := b.Finish(fixture.Header{BTree: rootOff})
	binary.LittleEndian.PutUint32(img[rootOff+4+4:], rootOff)

	_, err := loadFixture(t, img)
	assert.ErrorIs(t, err, ErrCycleOrTooDeep)

	var ne *NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, rootOff, ne.Offset)
	assert.Equal(t, 1, ne.Depth)
}

func TestLoadDirectorySharedSubtree(t *testing.T) {
	recs := textureRecords(7)

	t.Run("siblings", func(t *testing.T) {
		n := &fixture.Node{
			Entries:  recs[:1],
			Children: []*fixture.Node{{Entries: recs[1:2]}, {Entries: recs[2:3]}},
		}
		b := fixture.New(4096)
		rootOff := b.WriteNode(n)
		img := b.Finish(fixture.Header{BTree: rootOff})
		shared := n.Children[0].Offset
		binary.LittleEndian.PutUint32(img[rootOff+4+4:], shared)

		for _, conc := range []int{1, 4} {
			_, err := loadFixture(t, img, WithLoadConcurrency(conc))
			assert.ErrorIs(t, err, ErrCycleOrTooDeep, "concurrency %d", conc)

			var ne *NodeError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, shared, ne.Offset)
			assert.Equal(t, 1, ne.Depth)
		}
	})

	t.Run("cousins", func(t *testing.T) {
		left := &fixture.Node{
			Entries:  recs[1:2],
			Children: []*fixture.Node{{Entries: recs[2:3]}, {Entries: recs[3:4]}},
		}
		right := &fixture.Node{
			Entries:  recs[4:5],
			Children: []*fixture.Node{{Entries: recs[5:6]}, {Entries: recs[6:7]}},
		}
		root := &fixture.Node{Entries: recs[:1], Children: []*fixture.Node{left, right}}

		b := fixture.New(4096)
		rootOff := b.WriteNode(root)
		img := b.Finish(fixture.Header{BTree: rootOff})
		shared := left.Children[0].Offset
		binary.LittleEndian.PutUint32(img[right.Offset+4:], shared)

		_, err := loadFixture(t, img)
		assert.ErrorIs(t, err, ErrCycleOrTooDeep)

		var ne *NodeError
		require.ErrorAs(t, err, &ne)
		assert.Equal(t, shared, ne.Offset)
		assert.Equal(t, 2, ne.Depth)
	})

	t.Run("fan-in does not multiply work", func(t *testing.T) {
		leaf := &fixture.Node{Entries: recs[:1]}
		b := fixture.New(4096)
		leafOff := b.WriteNode(leaf)

		branches := make(map[int]uint32, MaxBranches)
		for i := range MaxBranches {
			branches[i] = leafOff
		}
		root := &fixture.Node{Entries: textureRecords(MaxEntries), BranchOverride: branches}
		rootOff := b.WriteNode(root)
		img := b.Finish(fixture.Header{BTree: rootOff})

		src := &recordingSource{Source: NewBytesSource(img)}
		_, err := LoadDirectory(context.Background(), src, rootOff, 4096)
		assert.ErrorIs(t, err, ErrCycleOrTooDeep)
		assert.LessOrEqual(t, len(src.reads()), 4, "root and one leaf are read once each")
	})
}

func TestLoadDirectoryDepthLimit(t *testing.T) {
	recs := textureRecords(5)
	mid := &fixture.Node{
		Entries:  recs[1:2],
		Children: []*fixture.Node{{Entries: recs[2:3]}, {Entries: recs[3:4]}},
	}
	root := &fixture.Node{
		Entries:  recs[0:1],
		Children: []*fixture.Node{mid, {Entries: recs[4:5]}},
	}
	img := fixture.Archive(1024, root)

	_, err := loadFixture(t, img, WithLoadMaxDepth(1))
	assert.ErrorIs(t, err, ErrCycleOrTooDeep)

	tree, err := loadFixture(t, img, WithLoadMaxDepth(2))
	require.NoError(t, err)
	assert.Equal(t, 3, tree.Height())
	assert.Equal(t, toFileRecords(root.Flatten()), Flatten(tree))
}

func TestLoadDirectoryContext(t *testing.T) {
	img := fixture.Archive(1024, fixture.Tree(textureRecords(100), 10))
	src := NewBytesSource(img)
	h, err := ParseHeader(src)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = LoadDirectory(ctx, src, h.BTree, h.BlockSize)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadDirectoryWindow(t *testing.T) {
	img := fixture.Archive(1024, fixture.Tree(textureRecords(300), 10))
	src := &recordingSource{Source: NewBytesSource(img)}
	h, err := ParseHeader(src)
	require.NoError(t, err)

	w, err := newNodeWindow(64)
	require.NoError(t, err)

	first, err := LoadDirectory(context.Background(), src, h.BTree, h.BlockSize, withNodeWindow(w))
	require.NoError(t, err)
	src.reset()

	second, err := LoadDirectory(context.Background(), src, h.BTree, h.BlockSize, withNodeWindow(w))
	require.NoError(t, err)
	assert.Empty(t, src.reads(), "every header should come from the window")
	assert.Equal(t, Flatten(first), Flatten(second))
}

func TestDefaultMaxDepth(t *testing.T) {
	assert.Equal(t, 16, DefaultMaxDepth(0, 1024))
	assert.Equal(t, 16, DefaultMaxDepth(1<<20, 0))
	assert.Equal(t, 16, DefaultMaxDepth(100, 1024))
	assert.Equal(t, 16, DefaultMaxDepth(1<<30, 1024))
	assert.Equal(t, 19, DefaultMaxDepth(math.MaxInt64, 1))
}

func TestParseNodeHeaderShortBuffer(t *testing.T) {
	_, err := parseNodeHeader(make([]byte, 100))
	assert.ErrorIs(t, err, ErrTruncatedInput)
}
