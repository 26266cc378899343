// directory.go
//
// Fixed-fanout directory tree decoding.
// Each node is a 1716-byte logical record spread over a sector chain: 62
// branch offsets, an entry count, and room for 61 file records. A node whose
// first branch is zero is a leaf. Any other node owns exactly entryCount+1
// children, one between each pair of separator entries, and the tree is
// materialized by depth-first descent from the root offset.
//
// The format is acyclic by construction, but nothing in the bytes enforces
// that, so the loader records every offset it has loaded and enforces a depth
// limit. An offset reached twice, whether from a descendant or from a sibling
// subtree, fails the load with ErrCycleOrTooDeep, as does exceeding the depth.

package acdat

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Directory record layout.
const (
	MaxBranches = 62
	MaxEntries  = MaxBranches - 1

	fileRecordSize = 6 * 4
	nodeHeaderSize = MaxBranches*4 + 4 + MaxEntries*fileRecordSize // 1716
)

// FileRecord locates one file inside the archive.
type FileRecord struct {
	BitFlags   uint32
	ObjectID   ObjectID
	FileOffset uint32 // sector offset of the file's chain
	FileSize   uint32 // logical size of the file contents
	Timestamp  uint32
	Iteration  uint32
}

// Type classifies the record by its object id.
func (r FileRecord) Type() FileType { return r.ObjectID.Type() }

// NodeKind tells leaves and internal nodes apart. It is decided once, when
// the node header is parsed.
type NodeKind uint8

const (
	NodeLeaf NodeKind = iota
	NodeInternal
)

func (k NodeKind) String() string {
	if k == NodeInternal {
		return "internal"
	}
	return "leaf"
}

// DirectoryNode is one node of the directory tree.
//
// A leaf has Entries and no Children. An internal node has
// len(Children) == len(Entries)+1, ordered as the branch table lists them.
// Each node exclusively owns its children; the tree shares no nodes.
type DirectoryNode struct {
	// Offset is the sector offset the node was loaded from.
	Offset uint32

	Kind NodeKind

	// Branches is the raw branch table. Only the first len(Entries)+1
	// slots of an internal node are meaningful.
	Branches [MaxBranches]uint32

	Entries  []FileRecord
	Children []*DirectoryNode
}

// IsLeaf reports whether n has no children.
func (n *DirectoryNode) IsLeaf() bool { return n.Kind == NodeLeaf }

// NodeCount returns the number of nodes in the subtree rooted at n.
func (n *DirectoryNode) NodeCount() int {
	count := 1
	for _, c := range n.Children {
		count += c.NodeCount()
	}
	return count
}

// Height returns the number of levels in the subtree rooted at n.
func (n *DirectoryNode) Height() int {
	h := 0
	for _, c := range n.Children {
		h = max(h, c.Height())
	}
	return h + 1
}

// nodeHeader is the decoded form of one directory record, before any
// children are loaded. It is immutable and may sit in a nodeWindow.
type nodeHeader struct {
	kind     NodeKind
	branches [MaxBranches]uint32
	entries  []FileRecord
}

// parseNodeHeader decodes a logical directory record.
//
// It fails with ErrMalformedTree when the entry count exceeds MaxEntries or
// an internal node lacks a live branch for one of its subtrees, and with
// ErrCorruptHeader when an internal node has no entries at all.
func parseNodeHeader(buf []byte) (*nodeHeader, error) {
	c := newCursor(buf)
	h := &nodeHeader{}
	for i := range h.branches {
		h.branches[i] = c.u32()
	}
	count := c.u32()
	if c.err != nil {
		return nil, c.err
	}
	if count > MaxEntries {
		return nil, fmt.Errorf("%w: entry count %d exceeds %d", ErrMalformedTree, count, MaxEntries)
	}

	h.entries = make([]FileRecord, count)
	for i := range h.entries {
		h.entries[i] = FileRecord{
			BitFlags:   c.u32(),
			ObjectID:   ObjectID(c.u32()),
			FileOffset: c.u32(),
			FileSize:   c.u32(),
			Timestamp:  c.u32(),
			Iteration:  c.u32(),
		}
	}
	if c.err != nil {
		return nil, c.err
	}

	if h.branches[0] == 0 {
		h.kind = NodeLeaf
		return h, nil
	}
	h.kind = NodeInternal
	if count == 0 {
		return nil, ErrCorruptHeader
	}
	for i := 1; i <= int(count); i++ {
		if h.branches[i] == 0 {
			return nil, fmt.Errorf("%w: branch %d of %d is empty", ErrMalformedTree, i, count+1)
		}
	}
	return h, nil
}

// LoadOption configures LoadDirectory.
type LoadOption func(*loader)

// WithLoadMaxDepth bounds the number of levels below the root. Values of
// zero or less keep the default derived from the archive size.
func WithLoadMaxDepth(depth int) LoadOption {
	return func(l *loader) {
		if depth > 0 {
			l.maxDepth = depth
		}
	}
}

// WithLoadConcurrency loads the root's subtrees on up to n goroutines. The
// source must support concurrent ReadAt calls, which every Source does.
func WithLoadConcurrency(n int) LoadOption {
	return func(l *loader) { l.concurrency = n }
}

// WithLoadLogger sets the logger used for per-node debug output.
func WithLoadLogger(log *logrus.Entry) LoadOption {
	return func(l *loader) {
		if log != nil {
			l.log = log
		}
	}
}

func withNodeWindow(w *nodeWindow) LoadOption {
	return func(l *loader) { l.window = w }
}

// loader carries per-load state through the recursive descent.
type loader struct {
	src         Source
	blockSize   uint32
	maxDepth    int
	concurrency int
	window      *nodeWindow
	log         *logrus.Entry

	mu   sync.Mutex
	seen map[uint32]struct{}
}

// claim marks off as loaded. It reports false if off was already claimed
// during this load.
func (l *loader) claim(off uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[off]; ok {
		return false
	}
	l.seen[off] = struct{}{}
	return true
}

// DefaultMaxDepth returns the depth limit used for an archive of size bytes
// with the given block size.
//
// A tree of fanout 62 holding one node per sector cannot be taller than
// log62(size/blockSize); eight levels of slack absorb sparse trees.
func DefaultMaxDepth(size int64, blockSize uint32) int {
	const floor = 16
	if blockSize == 0 || size <= 0 {
		return floor
	}
	sectors := float64(size) / float64(blockSize)
	if sectors < 1 {
		return floor
	}
	d := int(math.Ceil(math.Log(sectors)/math.Log(MaxBranches))) + 8
	return max(d, floor)
}

// LoadDirectory reads the directory node at offset and, recursively, every
// node below it.
//
// Errors are never converted into empty results: a failure anywhere in the
// tree is returned as a *NodeError naming the offending node, wrapping one of
// ErrTruncatedInput, ErrInvalidChain, ErrMalformedTree or ErrCycleOrTooDeep.
func LoadDirectory(ctx context.Context, src Source, offset, blockSize uint32, opts ...LoadOption) (*DirectoryNode, error) {
	l := &loader{
		src:       src,
		blockSize: blockSize,
		maxDepth:  DefaultMaxDepth(src.Size(), blockSize),
		log:       logrus.NewEntry(discardLogger()),
		seen:      make(map[uint32]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l.load(ctx, offset, 0)
}

// readHeader returns the parsed record at off, from the window if present.
func (l *loader) readHeader(off uint32) (*nodeHeader, error) {
	if h, ok := l.window.lookup(off); ok {
		return h, nil
	}

	buf := getNodeBuf()
	defer putNodeBuf(buf)
	sectors, err := readChain(l.src, off, buf[:], l.blockSize)
	sectorsRead.Add(float64(sectors))
	if err != nil {
		return nil, err
	}
	h, err := parseNodeHeader(buf[:])
	if err != nil {
		return nil, err
	}
	nodesLoaded.Inc()
	l.window.add(off, h)
	return h, nil
}

func (l *loader) load(ctx context.Context, off uint32, depth int) (*DirectoryNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if depth > l.maxDepth {
		return nil, &NodeError{Offset: off, Depth: depth,
			Err: fmt.Errorf("%w: depth exceeds %d", ErrCycleOrTooDeep, l.maxDepth)}
	}
	if !l.claim(off) {
		return nil, &NodeError{Offset: off, Depth: depth,
			Err: fmt.Errorf("%w: node already loaded", ErrCycleOrTooDeep)}
	}

	h, err := l.readHeader(off)
	if err != nil {
		return nil, &NodeError{Offset: off, Depth: depth, Err: err}
	}

	n := &DirectoryNode{
		Offset:   off,
		Kind:     h.kind,
		Branches: h.branches,
		Entries:  append([]FileRecord(nil), h.entries...),
	}
	l.log.WithFields(logrus.Fields{
		"offset":  fmt.Sprintf("%#x", off),
		"depth":   depth,
		"kind":    h.kind,
		"entries": len(h.entries),
	}).Debug("loaded directory node")

	if n.IsLeaf() {
		return n, nil
	}

	n.Children = make([]*DirectoryNode, len(n.Entries)+1)

	if depth == 0 && l.concurrency > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.concurrency)
		for i := range n.Children {
			g.Go(func() error {
				child, err := l.load(gctx, n.Branches[i], depth+1)
				if err != nil {
					return err
				}
				n.Children[i] = child
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return n, nil
	}

	for i := range n.Children {
		child, err := l.load(ctx, n.Branches[i], depth+1)
		if err != nil {
			return nil, err
		}
		n.Children[i] = child
	}
	return n, nil
}
