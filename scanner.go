// scanner.go
//
// Bulk asset decoding over a whole catalog.
// The scanner is the orchestration layer above the core readers: it walks the
// catalog, decodes matching records on a worker pool, and hands each payload
// to a visitor. Records whose payload cannot be decoded (unknown form,
// truncated data, broken chain) are skipped and reported together in a
// ScanError; structural failures such as an unreadable directory tree abort
// the scan.

package acdat

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ScannedAsset is one decoded payload delivered to a scan visitor.
type ScannedAsset struct {
	// Index is the record's position in the catalog.
	Index int

	Record  FileRecord
	Payload *AssetPayload
}

// ScanError reports records that were skipped during a scan.
// The error is non-fatal; callers decide whether the missing records matter.
type ScanError struct {
	// Skipped maps each skipped object id to the decoding error.
	Skipped map[ObjectID]error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("skipped %d records", len(e.Skipped))
}

// IDs returns the skipped object ids in ascending order.
func (e *ScanError) IDs() []ObjectID {
	ids := make([]ObjectID, 0, len(e.Skipped))
	for id := range e.Skipped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Scanner decodes the payloads of many catalog records concurrently.
type Scanner struct {
	archive *Archive
	workers int
	filter  func(FileRecord) bool
	log     *logrus.Entry

	debug DebugConfig
}

// ScannerOption is a function that configures a Scanner during construction.
type ScannerOption func(*Scanner)

// WithWorkers sets the number of decoding goroutines. Values below one
// select runtime.NumCPU.
func WithWorkers(n int) ScannerOption {
	return func(s *Scanner) { s.workers = n }
}

// WithFilter selects which records are decoded. The default selects
// textures.
func WithFilter(fn func(FileRecord) bool) ScannerOption {
	return func(s *Scanner) {
		if fn != nil {
			s.filter = fn
		}
	}
}

// WithScanLogger sets the scanner's logger. By default the archive's logger
// is used.
func WithScanLogger(log *logrus.Entry) ScannerOption {
	return func(s *Scanner) {
		if log != nil {
			s.log = log
		}
	}
}

// NewScanner returns a Scanner over a. The archive stays owned by the
// caller.
func NewScanner(a *Archive, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		archive: a,
		filter:  func(r FileRecord) bool { return r.Type() == FileTypeTexture },
		log:     a.log,
	}
	for _, o := range opts {
		o(s)
	}
	if s.workers < 1 {
		s.workers = runtime.NumCPU()
	}
	return s
}

// IsRecordError reports whether err concerns a single record's payload
// (unknown form, truncated data, broken chain) rather than the archive as a
// whole. Orchestrators may skip such records and continue.
func IsRecordError(err error) bool {
	return errors.Is(err, ErrUnsupportedForm) ||
		errors.Is(err, ErrTruncatedInput) ||
		errors.Is(err, ErrInvalidChain)
}

// Scan decodes every selected record and calls visit for each payload.
//
// visit runs on the calling goroutine, one payload at a time, in completion
// order; use ScannedAsset.Index to recover catalog order. A non-nil error
// from visit stops the scan and is returned as is.
//
// Scan returns the number of payloads visited. When records were skipped the
// error is a *ScanError and the count is still valid.
func (s *Scanner) Scan(ctx context.Context, visit func(ScannedAsset) error) (int, error) {
	dbg, err := startDebug(s.debug, s.log)
	if err != nil {
		s.log.WithError(err).Warn("scan diagnostics disabled")
	}
	defer dbg.stop()

	cat, err := s.archive.Catalog(ctx)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type workItem struct {
		index int
		rec   FileRecord
	}

	var (
		mu      sync.Mutex
		skipped = make(map[ObjectID]error)
	)

	work := make(chan workItem, s.workers)
	results := make(chan ScannedAsset, s.workers)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(work)
		it := cat.Iter()
		for {
			if err := gctx.Err(); err != nil {
				return err
			}
			i, rec, ok, _ := it.Next()
			if !ok {
				return nil
			}
			if !s.filter(rec) {
				continue
			}
			select {
			case work <- workItem{index: i, rec: rec}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	for range s.workers {
		g.Go(func() error {
			for item := range work {
				p, err := s.archive.Asset(item.rec)
				if err != nil {
					if !IsRecordError(err) {
						return err
					}
					s.log.WithFields(logrus.Fields{
						"object_id": item.rec.ObjectID.String(),
						"offset":    fmt.Sprintf("%#x", item.rec.FileOffset),
					}).WithError(err).Debug("skipping record")
					mu.Lock()
					skipped[item.rec.ObjectID] = err
					mu.Unlock()
					continue
				}
				select {
				case results <- ScannedAsset{Index: item.index, Record: item.rec, Payload: p}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	var (
		visited  int
		visitErr error
	)
	for r := range results {
		if visitErr != nil {
			continue // drain so workers can exit
		}
		if err := visit(r); err != nil {
			visitErr = err
			cancel()
			continue
		}
		visited++
	}

	if visitErr != nil {
		return visited, visitErr
	}
	if err := g.Wait(); err != nil {
		return visited, err
	}
	if len(skipped) > 0 {
		s.log.WithField("skipped", len(skipped)).Info("scan finished with skipped records")
		return visited, &ScanError{Skipped: skipped}
	}
	return visited, nil
}
