// Package fixture writes synthetic DAT archives for tests.
//
// The writer mirrors the reader's layout rules exactly: every sector starts
// with a 4-byte pointer to the next sector of its chain, full sectors carry
// blockSize-4 payload bytes, and the final stretch of a chain (fewer than
// blockSize bytes) follows its sector's pointer contiguously, spilling into
// the next physical sector when it needs more than blockSize-4 bytes.
package fixture

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// Layout constants, duplicated from the reader so that a change on either
// side shows up as a test failure.
const (
	HeaderOffset   = 0x140
	HeaderSize     = 80
	MaxBranches    = 62
	MaxEntries     = 61
	RecordSize     = 24
	NodeHeaderSize = MaxBranches*4 + 4 + MaxEntries*RecordSize
)

// Record is a file record as it appears inside a directory node.
type Record struct {
	BitFlags   uint32
	ObjectID   uint32
	FileOffset uint32
	FileSize   uint32
	Timestamp  uint32
	Iteration  uint32
}

// Node describes a directory node to be written.
//
// Children are written first and their offsets fill the branch table. The
// override fields corrupt the encoded record on purpose.
type Node struct {
	Entries  []Record
	Children []*Node

	// CountOverride replaces the encoded entry count.
	CountOverride *uint32

	// BranchOverride replaces individual branch slots after children
	// have been placed.
	BranchOverride map[int]uint32

	// Offset is set by WriteNode.
	Offset uint32
}

// Flatten returns the node's records children-first, in branch order,
// followed by its own entries.
func (n *Node) Flatten() []Record {
	var out []Record
	for _, c := range n.Children {
		out = append(out, c.Flatten()...)
	}
	return append(out, n.Entries...)
}

// Tree arranges records into a valid fixed-fanout tree whose leaves hold at
// most leafSize entries.
func Tree(records []Record, leafSize int) *Node {
	if leafSize < 1 {
		leafSize = 1
	}
	if len(records) <= leafSize {
		return &Node{Entries: append([]Record(nil), records...)}
	}

	children := (len(records) + leafSize) / (leafSize + 1)
	children = max(2, min(MaxBranches, children))
	seps := children - 1
	rest := len(records) - seps

	n := &Node{}
	pos := 0
	for i := range children {
		size := rest / children
		if i < rest%children {
			size++
		}
		n.Children = append(n.Children, Tree(records[pos:pos+size], leafSize))
		pos += size
		if i < seps {
			n.Entries = append(n.Entries, records[pos])
			pos++
		}
	}
	return n
}

// Header holds the database header fields a test may want to control.
// BlockSize and BTree are filled in by Finish when left zero.
type Header struct {
	FileType          uint32
	BlockSize         uint32
	FileSize          uint32
	DataSet           uint32
	DataSubset        uint32
	FreeHead          uint32
	FreeTail          uint32
	FreeCount         uint32
	BTree             uint32
	NewLRU            uint32
	OldLRU            uint32
	UseLRU            uint32
	MasterMapID       uint32
	EnginePackVersion uint32
	GamePackVersion   uint32
	VersionMajor      [16]byte
	VersionMinor      uint32
}

// Builder accumulates sectors for one archive.
type Builder struct {
	blockSize uint32
	buf       []byte

	// Scatter allocates the sectors of each chain in reverse physical
	// order, so that following pointers jumps backwards.
	Scatter bool
}

// New returns a Builder for the given sector size. The first sector starts
// at the first block boundary after the header.
func New(blockSize uint32) *Builder {
	first := (HeaderOffset + HeaderSize + blockSize - 1) / blockSize * blockSize
	return &Builder{blockSize: blockSize, buf: make([]byte, first)}
}

// BlockSize returns the sector size.
func (b *Builder) BlockSize() uint32 { return b.blockSize }

func (b *Builder) alloc(n int) uint32 {
	off := uint32(len(b.buf))
	b.buf = append(b.buf, make([]byte, n*int(b.blockSize))...)
	return off
}

// WriteChain stores data as a sector chain and returns its first sector.
func (b *Builder) WriteChain(data []byte) uint32 {
	bs := int(b.blockSize)
	payload := bs - 4

	full := 0
	remaining := len(data)
	for remaining >= bs {
		full++
		remaining -= payload
	}

	// Each full sector gets its own block; the tail (if any) needs enough
	// contiguous blocks for its pointer plus the remaining bytes.
	var starts []uint32
	for range full {
		starts = append(starts, 0)
	}
	tailBlocks := 0
	if remaining > 0 || full == 0 {
		tailBlocks = (4 + remaining + bs - 1) / bs
		starts = append(starts, 0)
	}

	order := make([]int, len(starts))
	for i := range order {
		order[i] = i
	}
	if b.Scatter {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	for _, i := range order {
		blocks := 1
		if i == full {
			blocks = tailBlocks
		}
		starts[i] = b.alloc(blocks)
	}

	pos := 0
	for i, off := range starts {
		var next uint32
		if i+1 < len(starts) {
			next = starts[i+1]
		}
		binary.LittleEndian.PutUint32(b.buf[off:], next)
		n := payload
		if i == full {
			n = remaining
		}
		copy(b.buf[off+4:], data[pos:pos+n])
		pos += n
	}
	return starts[0]
}

// EncodeNode returns the logical record for n using the given child
// offsets.
func EncodeNode(n *Node, childOffsets []uint32) []byte {
	rec := make([]byte, NodeHeaderSize)
	for i, off := range childOffsets {
		binary.LittleEndian.PutUint32(rec[i*4:], off)
	}
	for slot, v := range n.BranchOverride {
		binary.LittleEndian.PutUint32(rec[slot*4:], v)
	}
	count := uint32(len(n.Entries))
	if n.CountOverride != nil {
		count = *n.CountOverride
	}
	binary.LittleEndian.PutUint32(rec[MaxBranches*4:], count)
	p := MaxBranches*4 + 4
	for _, e := range n.Entries {
		if p+RecordSize > len(rec) {
			break
		}
		for _, v := range []uint32{e.BitFlags, e.ObjectID, e.FileOffset, e.FileSize, e.Timestamp, e.Iteration} {
			binary.LittleEndian.PutUint32(rec[p:], v)
			p += 4
		}
	}
	return rec
}

// WriteNode writes n and its subtree, children first, and returns n's
// offset.
func (b *Builder) WriteNode(n *Node) uint32 {
	offs := make([]uint32, 0, len(n.Children))
	for _, c := range n.Children {
		offs = append(offs, b.WriteNode(c))
	}
	n.Offset = b.WriteChain(EncodeNode(n, offs))
	return n.Offset
}

// WriteAsset stores an image payload contiguously and returns its offset.
// The first reserved word is left zero and the second holds id.
func (b *Builder) WriteAsset(id, form, width, height, format uint32, pixels []byte) uint32 {
	body := make([]byte, 28+len(pixels))
	for i, v := range []uint32{0, id, form, width, height, format, uint32(len(pixels))} {
		binary.LittleEndian.PutUint32(body[i*4:], v)
	}
	copy(body[28:], pixels)
	blocks := (len(body) + int(b.blockSize) - 1) / int(b.blockSize)
	off := b.alloc(max(blocks, 1))
	copy(b.buf[off:], body)
	return off
}

// WriteRaw stores arbitrary bytes on fresh blocks and returns their offset.
func (b *Builder) WriteRaw(data []byte) uint32 {
	blocks := (len(data) + int(b.blockSize) - 1) / int(b.blockSize)
	off := b.alloc(max(blocks, 1))
	copy(b.buf[off:], data)
	return off
}

// Finish writes the header and returns the archive bytes. The tree root is
// h.BTree; BlockSize and FileSize default to the builder's values.
func (b *Builder) Finish(h Header) []byte {
	if h.BlockSize == 0 {
		h.BlockSize = b.blockSize
	}
	if h.FileSize == 0 {
		h.FileSize = uint32(len(b.buf))
	}
	p := HeaderOffset
	put := func(v uint32) {
		binary.LittleEndian.PutUint32(b.buf[p:], v)
		p += 4
	}
	for _, v := range []uint32{
		h.FileType, h.BlockSize, h.FileSize, h.DataSet, h.DataSubset,
		h.FreeHead, h.FreeTail, h.FreeCount, h.BTree, h.NewLRU, h.OldLRU,
		h.UseLRU, h.MasterMapID, h.EnginePackVersion, h.GamePackVersion,
	} {
		put(v)
	}
	copy(b.buf[p:], h.VersionMajor[:])
	p += 16
	put(h.VersionMinor)
	return append([]byte(nil), b.buf...)
}

// Archive writes root as a complete archive and returns its bytes.
func Archive(blockSize uint32, root *Node) []byte {
	b := New(blockSize)
	off := b.WriteNode(root)
	return b.Finish(Header{BTree: off})
}

// WriteFile stores data in a file under t.TempDir and returns its path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
