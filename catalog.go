// catalog.go
//
// Flattening of the directory tree into an ordered record list.
// Order matters to callers that name exports by catalog index: every node
// contributes its children's records first, in branch order, followed by its
// own entries in array order.

package acdat

import (
	"fmt"
	"io"
)

// Flatten returns every record in the tree rooted at root.
//
// For a node with children C0..Cn and entries E the result is
// Flatten(C0) ++ ... ++ Flatten(Cn) ++ E. The records are copies; the result
// does not alias node storage. Flatten performs no I/O.
func Flatten(root *DirectoryNode) []FileRecord {
	if root == nil {
		return nil
	}
	out := make([]FileRecord, 0, countEntries(root))
	return appendFlattened(out, root)
}

func appendFlattened(out []FileRecord, n *DirectoryNode) []FileRecord {
	for _, c := range n.Children {
		out = appendFlattened(out, c)
	}
	return append(out, n.Entries...)
}

func countEntries(n *DirectoryNode) int {
	total := len(n.Entries)
	for _, c := range n.Children {
		total += countEntries(c)
	}
	return total
}

// If a catalog has more than this many records we also build an id→index map.
const catalogIndexThreshold = 64

// Catalog is an ordered, read-only list of file records with look-up by
// object id.
//
// Construct a Catalog with NewCatalog. The records slice is owned by the
// Catalog; callers must treat anything it returns as immutable.
type Catalog struct {
	records []FileRecord

	// index maps object ids to positions in records. It is nil for small
	// catalogs, which fall back to a linear scan.
	index map[ObjectID]int
}

// NewCatalog wraps records, which must already be in flatten order.
//
// Object ids are the tree's keys, so a repeated id means the tree is
// malformed and NewCatalog returns ErrMalformedTree.
func NewCatalog(records []FileRecord) (*Catalog, error) {
	c := &Catalog{records: records}
	if len(records) <= catalogIndexThreshold {
		for i := range records {
			for j := i + 1; j < len(records); j++ {
				if records[i].ObjectID == records[j].ObjectID {
					return nil, fmt.Errorf("%w: duplicate object id %s", ErrMalformedTree, records[i].ObjectID)
				}
			}
		}
		return c, nil
	}

	m := make(map[ObjectID]int, len(records))
	for i, r := range records {
		if _, dup := m[r.ObjectID]; dup {
			return nil, fmt.Errorf("%w: duplicate object id %s", ErrMalformedTree, r.ObjectID)
		}
		m[r.ObjectID] = i
	}
	c.index = m
	return c, nil
}

// Len returns the number of records.
func (c *Catalog) Len() int { return len(c.records) }

// At returns the record at position i in flatten order.
func (c *Catalog) At(i int) FileRecord { return c.records[i] }

// Records returns the records in flatten order.
func (c *Catalog) Records() []FileRecord { return c.records }

// Lookup returns the record with the given id.
func (c *Catalog) Lookup(id ObjectID) (FileRecord, bool) {
	if c.index != nil {
		i, ok := c.index[id]
		if !ok {
			return FileRecord{}, false
		}
		return c.records[i], true
	}
	for _, r := range c.records {
		if r.ObjectID == id {
			return r, true
		}
	}
	return FileRecord{}, false
}

// Filter returns the records of the given type, preserving order.
func (c *Catalog) Filter(t FileType) []FileRecord {
	var out []FileRecord
	for _, r := range c.records {
		if r.Type() == t {
			out = append(out, r)
		}
	}
	return out
}

// Iter returns a forward-only iterator over the catalog.
func (c *Catalog) Iter() *CatalogIter { return &CatalogIter{rest: c.records} }

// CatalogIter walks a Catalog one record at a time.
//
// A CatalogIter must stay confined to the goroutine that consumes it.
type CatalogIter struct {
	rest []FileRecord
	pos  int
}

// Next returns the next record and its catalog index. When the catalog is
// exhausted ok is false and err is io.EOF.
func (it *CatalogIter) Next() (index int, rec FileRecord, ok bool, err error) {
	if len(it.rest) == 0 {
		return it.pos, FileRecord{}, false, io.EOF
	}
	rec = it.rest[0]
	it.rest = it.rest[1:]
	index = it.pos
	it.pos++
	return index, rec, true, nil
}
