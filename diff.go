// diff.go – record-level and listing-level catalog comparison
package acdat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// RecordChange pairs the two versions of a record present in both catalogs.
type RecordChange struct {
	Old FileRecord
	New FileRecord
}

// CatalogDiff describes how one catalog differs from another, keyed by
// object id. Every slice is sorted by object id.
type CatalogDiff struct {
	Added   []FileRecord
	Removed []FileRecord
	Changed []RecordChange
}

// Empty reports whether the two catalogs hold identical records.
func (d *CatalogDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffCatalogs compares old and new by object id.
//
// A record counts as changed when any field other than its id differs;
// catalog position is ignored.
func DiffCatalogs(old, new *Catalog) *CatalogDiff {
	d := &CatalogDiff{}
	for _, o := range old.Records() {
		n, ok := new.Lookup(o.ObjectID)
		if !ok {
			d.Removed = append(d.Removed, o)
			continue
		}
		if n != o {
			d.Changed = append(d.Changed, RecordChange{Old: o, New: n})
		}
	}
	for _, n := range new.Records() {
		if _, ok := old.Lookup(n.ObjectID); !ok {
			d.Added = append(d.Added, n)
		}
	}

	byID := func(rs []FileRecord) func(i, j int) bool {
		return func(i, j int) bool { return rs[i].ObjectID < rs[j].ObjectID }
	}
	sort.Slice(d.Added, byID(d.Added))
	sort.Slice(d.Removed, byID(d.Removed))
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Old.ObjectID < d.Changed[j].Old.ObjectID })
	return d
}

// FormatRecord renders one record as a single listing line.
func FormatRecord(r FileRecord) string {
	return fmt.Sprintf("%s offset=%#x size=%d iteration=%d flags=%#x time=%d",
		r.ObjectID, r.FileOffset, r.FileSize, r.Iteration, r.BitFlags, r.Timestamp)
}

// listing renders records sorted by id, one per line, so that two catalogs
// with the same content produce the same text regardless of tree shape.
func listing(c *Catalog) string {
	rs := append([]FileRecord(nil), c.Records()...)
	sort.Slice(rs, func(i, j int) bool { return rs[i].ObjectID < rs[j].ObjectID })
	var b strings.Builder
	for _, r := range rs {
		b.WriteString(FormatRecord(r))
		b.WriteByte('\n')
	}
	return b.String()
}

// UnifiedListing returns a unified diff of the two catalogs' listings, or
// the empty string when they match.
//
// It performs a line-oriented diff using the Myers algorithm provided by
// github.com/hexops/gotextdiff.
func UnifiedListing(oldName, newName string, old, new *Catalog) string {
	a, b := listing(old), listing(new)
	if a == b {
		return ""
	}
	edits := myers.ComputeEdits(span.URIFromPath(oldName), a, b)
	return fmt.Sprint(gotextdiff.ToUnified(oldName, newName, a, edits))
}
