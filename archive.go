// Package acdat reads the DAT archives of a legacy game client: a single
// file holding a database header, a fixed-fanout directory tree, and file
// payloads scattered across fixed-size sectors linked by continuation
// pointers.
//
// The package is intended for read-only scenarios such as cataloging,
// indexing, and serving individual assets, where the archive is large but
// only its directory and a handful of payloads are needed at a time.
//
// IMPLEMENTATION:
// An Archive memory-maps the file, parses the header at offset 0x140, and
// lazily materializes the directory tree by depth-first descent. Each
// directory node is a fixed-size logical record reassembled from a sector
// chain. The tree is flattened into a Catalog whose order (children before
// own entries) is stable and may be used to name exports by index. Texture
// payloads are decoded on demand and kept in an adaptive replacement cache.
//
// Every malformed structure surfaces as a typed error; nothing is silently
// skipped inside the package. The Scanner is the one place that applies a
// skip-and-record policy, and it reports what it skipped.
//
// Typical usage:
//
//	a, err := acdat.Open("client_portal.dat")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Close()
//
//	cat, err := a.Catalog(ctx)
//	// handle records…
//
// Archive is safe for concurrent readers.
package acdat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// discardLogger returns a logger that drops everything. It is the default
// for library code; callers opt in to output with WithLogger.
func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Archive provides read-only access to one DAT archive.
//
// An Archive owns its Source and releases it on Close. The directory tree
// and catalog are loaded on first use and then reused. All methods are safe
// for concurrent use by multiple goroutines.
type Archive struct {
	src    Source
	closer io.Closer
	header DatabaseHeader

	// mu guards live configuration and the lazily loaded tree.
	mu          sync.Mutex
	maxDepth    int
	concurrency int
	root        *DirectoryNode
	catalog     *Catalog

	log    *logrus.Entry
	window *nodeWindow
	assets *assetCache
	closed atomic.Bool
}

// archiveConfig collects options that must be known before the caches are
// built.
type archiveConfig struct {
	log            *logrus.Entry
	maxDepth       int
	concurrency    int
	nodeCacheSize  int
	assetCacheSize int
}

// Option configures an Archive at construction.
type Option func(*archiveConfig)

// WithLogger routes the archive's log output to log.
func WithLogger(log *logrus.Entry) Option {
	return func(c *archiveConfig) { c.log = log }
}

// WithMaxDepth overrides the directory depth limit derived from the archive
// size.
func WithMaxDepth(depth int) Option {
	return func(c *archiveConfig) { c.maxDepth = depth }
}

// WithConcurrency loads the root's subtrees on up to n goroutines.
func WithConcurrency(n int) Option {
	return func(c *archiveConfig) { c.concurrency = n }
}

// WithNodeCacheSize bounds the parsed-node window. Zero disables it.
func WithNodeCacheSize(n int) Option {
	return func(c *archiveConfig) { c.nodeCacheSize = n }
}

// WithAssetCacheSize bounds the decoded-asset cache. Zero disables it.
func WithAssetCacheSize(n int) Option {
	return func(c *archiveConfig) { c.assetCacheSize = n }
}

// Open memory-maps the archive at path and parses its header.
//
// The header is validated against the file size: a block size that leaves
// no payload, or a tree root outside the file, fails with ErrInvalidHeader.
// On any error the mapping is released before Open returns.
func Open(path string, opts ...Option) (*Archive, error) {
	src, err := OpenSource(path)
	if err != nil {
		return nil, err
	}
	a, err := newArchive(src, src, opts)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	a.log.WithField("path", path).Debug("opened archive")
	return a, nil
}

// NewArchive reads an archive from an existing Source. Closing the Archive
// does not close src.
func NewArchive(src Source, opts ...Option) (*Archive, error) {
	return newArchive(src, nil, opts)
}

func newArchive(src Source, closer io.Closer, opts []Option) (*Archive, error) {
	cfg := archiveConfig{
		nodeCacheSize:  defaultNodeCacheSize,
		assetCacheSize: defaultAssetCacheSize,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logrus.NewEntry(discardLogger())
	}

	h, err := ParseHeader(src)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(src.Size()); err != nil {
		return nil, err
	}

	window, err := newNodeWindow(cfg.nodeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("node cache: %w", err)
	}
	assets, err := newAssetCache(cfg.assetCacheSize)
	if err != nil {
		return nil, fmt.Errorf("asset cache: %w", err)
	}

	maxDepth := cfg.maxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth(src.Size(), h.BlockSize)
	}

	return &Archive{
		src:         src,
		closer:      closer,
		header:      *h,
		maxDepth:    maxDepth,
		concurrency: cfg.concurrency,
		log:         cfg.log,
		window:      window,
		assets:      assets,
	}, nil
}

// Header returns a copy of the parsed database header.
func (a *Archive) Header() DatabaseHeader { return a.header }

// Source returns the Source the archive reads from.
func (a *Archive) Source() Source { return a.src }

// SetMaxDepth changes the directory depth limit for the next tree load.
// A tree that is already loaded is kept.
//
// This method is safe for concurrent use.
func (a *Archive) SetMaxDepth(depth int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxDepth = depth
}

// SetConcurrency changes the number of goroutines used for the next tree
// load.
//
// This method is safe for concurrent use.
func (a *Archive) SetConcurrency(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.concurrency = n
}

// Close releases the archive's mapping.
//
// Reads already in progress finish before the mapping is released. After
// Close returns, every method fails with ErrClosed. Calling Close more than
// once is safe; only the first call releases anything.
func (a *Archive) Close() error {
	if a == nil || !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// Tree returns the root of the directory tree, loading it on first use.
func (a *Archive) Tree(ctx context.Context) (*DirectoryNode, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.treeLocked(ctx)
}

func (a *Archive) treeLocked(ctx context.Context) (*DirectoryNode, error) {
	if a.root != nil {
		return a.root, nil
	}
	root, err := LoadDirectory(ctx, a.src, a.header.BTree, a.header.BlockSize,
		WithLoadMaxDepth(a.maxDepth),
		WithLoadConcurrency(a.concurrency),
		WithLoadLogger(a.log),
		withNodeWindow(a.window),
	)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	a.log.WithFields(logrus.Fields{
		"nodes":  root.NodeCount(),
		"height": root.Height(),
	}).Debug("loaded directory tree")
	a.root = root
	return root, nil
}

// Catalog returns the flattened record list, loading the tree on first use.
func (a *Archive) Catalog(ctx context.Context) (*Catalog, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.catalog != nil {
		return a.catalog, nil
	}
	root, err := a.treeLocked(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := NewCatalog(Flatten(root))
	if err != nil {
		return nil, err
	}
	a.catalog = cat
	return cat, nil
}

// Lookup returns the record with the given object id.
func (a *Archive) Lookup(ctx context.Context, id ObjectID) (FileRecord, error) {
	cat, err := a.Catalog(ctx)
	if err != nil {
		return FileRecord{}, err
	}
	rec, ok := cat.Lookup(id)
	if !ok {
		return FileRecord{}, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return rec, nil
}

// Asset decodes the payload of rec, consulting the asset cache first.
func (a *Archive) Asset(rec FileRecord) (*AssetPayload, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if p, ok := a.assets.lookup(rec.ObjectID); ok {
		return p, nil
	}
	p, err := DecodeAsset(a.src, rec.FileOffset)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", rec.ObjectID, err)
	}
	a.assets.add(rec.ObjectID, p)
	return p, nil
}

// AssetByID looks up id and decodes its payload.
func (a *Archive) AssetByID(ctx context.Context, id ObjectID) (*AssetPayload, error) {
	rec, err := a.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Asset(rec)
}

// ReadFile returns the logical contents of rec, reassembled from its sector
// chain. The result is a fresh copy.
func (a *Archive) ReadFile(rec FileRecord) ([]byte, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if int64(rec.FileSize) > a.src.Size() {
		return nil, fmt.Errorf("object %s: %w: size %d exceeds archive", rec.ObjectID, ErrTruncatedInput, rec.FileSize)
	}
	buf := make([]byte, rec.FileSize)
	sectors, err := readChain(a.src, rec.FileOffset, buf, a.header.BlockSize)
	sectorsRead.Add(float64(sectors))
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", rec.ObjectID, err)
	}
	return buf, nil
}
