// cache.go
//
// Caches for parsed directory headers and decoded assets.
// Directory headers are keyed by sector offset and bounded by entry count;
// the tree of one archive rarely exceeds a few thousand nodes, so the default
// window holds all of them. Decoded assets are keyed by object id and kept in
// an adaptive replacement cache, which copes better than plain LRU with a
// scan over every texture interleaved with repeated look-ups of a few icons.

package acdat

import (
	"github.com/hashicorp/golang-lru/arc/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultNodeCacheSize  = 4096
	defaultAssetCacheSize = 256
)

// nodeWindow caches parsed directory headers by sector offset.
//
// Values are immutable once added. The wrapped lru.Cache is safe for
// concurrent use, so a nodeWindow may be shared by parallel subtree loads.
type nodeWindow struct {
	entries *lru.Cache[uint32, *nodeHeader]
}

// newNodeWindow returns a window holding at most size headers. A size of
// zero or less disables caching and yields a nil window.
func newNodeWindow(size int) (*nodeWindow, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[uint32, *nodeHeader](size)
	if err != nil {
		return nil, err
	}
	return &nodeWindow{entries: c}, nil
}

func (w *nodeWindow) lookup(off uint32) (*nodeHeader, bool) {
	if w == nil {
		return nil, false
	}
	h, ok := w.entries.Get(off)
	if ok {
		cacheHits.WithLabelValues("node").Inc()
	}
	return h, ok
}

func (w *nodeWindow) add(off uint32, h *nodeHeader) {
	if w == nil {
		return
	}
	w.entries.Add(off, h)
}

// assetCache holds decoded payloads by object id.
type assetCache struct {
	entries *arc.ARCCache[ObjectID, *AssetPayload]
}

func newAssetCache(size int) (*assetCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := arc.NewARC[ObjectID, *AssetPayload](size)
	if err != nil {
		return nil, err
	}
	return &assetCache{entries: c}, nil
}

func (c *assetCache) lookup(id ObjectID) (*AssetPayload, bool) {
	if c == nil {
		return nil, false
	}
	p, ok := c.entries.Get(id)
	if ok {
		cacheHits.WithLabelValues("asset").Inc()
	}
	return p, ok
}

func (c *assetCache) add(id ObjectID, p *AssetPayload) {
	if c == nil {
		return
	}
	c.entries.Add(id, p)
}

func (c *assetCache) len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
