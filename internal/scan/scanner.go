// Package scan drives the multi-phase duplicate scan pipeline:
// load the catalog, backfill missing sizes, hash content, analyze.
// Phases 2 and 3 fan out to a bounded worker pool; a phase barrier
// keeps phases from overlapping. Progress is published as a stream of
// session snapshots; cancellation is cooperative and checked before
// every unit of work.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"mediadedup/internal/hash"
	"mediadedup/internal/match"
	"mediadedup/internal/models"
)

// ErrScanInFlight is returned by Start while another session is running.
// Scans are never queued; the caller retries after the current one ends.
var ErrScanInFlight = errors.New("a scan is already in flight")

// ErrCancelled is returned by Wait when the session was cancelled.
// A cancelled scan produces no groups and retains no partial progress.
var ErrCancelled = errors.New("scan cancelled")

// Catalog lists the non-trashed items under consideration
type Catalog interface {
	ListActiveItems(ctx context.Context, userID string, kind models.Kind) ([]*models.MediaItem, error)
}

// ContentSource retrieves item bytes from blob storage
type ContentSource interface {
	Open(ctx context.Context, itemID string) (io.ReadCloser, error)
	Size(ctx context.Context, itemID string) (int64, error)
}

// SizeSaver is optionally implemented by catalogs that can persist a
// backfilled size, sparing the fetch on the next scan. Sizes are
// authoritative once known.
type SizeSaver interface {
	SetSize(ctx context.Context, itemID string, size int64) error
}

// Scanner orchestrates scan sessions. One session runs at a time.
type Scanner struct {
	catalog Catalog
	content ContentSource
	workers int
	logger  *slog.Logger

	mu     sync.Mutex
	active *Session
}

// Option configures a Scanner
type Option func(*Scanner)

// WithWorkers sets the concurrency ceiling for the fetch and hash phases
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// DefaultWorkers bounds concurrent fetch+hash operations so a scan does
// not saturate the blob storage backend. Deployment constant, not a
// per-call knob.
const DefaultWorkers = 6

// New creates a Scanner over the given catalog and content source
func New(catalog Catalog, content ContentSource, opts ...Option) *Scanner {
	s := &Scanner{
		catalog: catalog,
		content: content,
		workers: DefaultWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a scan session for the user's items. pins carries the
// user's canonical-original overrides from the resolver; nil is fine.
// Returns ErrScanInFlight while another session is active.
func (s *Scanner) Start(ctx context.Context, userID string, mode models.Mode, pins match.Pins) (*Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown scan mode %q", mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && !s.active.Terminal() {
		return nil, ErrScanInFlight
	}

	sess := newSession(mode, userID, pins)
	s.active = sess

	go s.run(ctx, sess)

	return sess, nil
}

// Active returns the current session, or nil when none has run yet
func (s *Scanner) Active() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scanner) run(ctx context.Context, sess *Session) {
	defer sess.finish()

	items, err := s.loadItems(ctx, sess)
	if err != nil {
		// Listing failure is fatal: no best-effort result exists yet
		s.logger.Error("scan failed during listing", "user", sess.userID, "error", err)
		sess.fail(fmt.Errorf("failed to list items: %w", err))
		return
	}
	if sess.stopRequested(ctx) {
		sess.cancel()
		return
	}

	items = s.fillSizes(ctx, sess, items)
	if sess.stopRequested(ctx) {
		sess.cancel()
		return
	}

	if sess.mode.NeedsHashing() {
		s.hashItems(ctx, sess, items)
		if sess.stopRequested(ctx) {
			sess.cancel()
			return
		}
	}

	sess.setPhase(PhaseAnalyzing, len(items), "Analyzing scanned items")
	analyzer := match.NewAnalyzer(sess.mode, sess.pins)
	for i, it := range items {
		if sess.stopRequested(ctx) {
			sess.cancel()
			return
		}
		analyzer.Add(it)
		sess.advance(i+1, "Analyzing "+it.Filename)
	}
	groups, stats := analyzer.Finish()

	s.logger.Info("scan complete",
		"user", sess.userID,
		"mode", sess.mode,
		"items", stats.TotalItems,
		"groups", stats.TotalGroups,
		"duplicates", stats.TotalDuplicateCount,
		"wasted_bytes", stats.TotalDuplicateSize,
	)

	sess.complete(&Result{
		Mode:       sess.mode,
		Items:      items,
		Groups:     groups,
		Stats:      stats,
		ItemErrors: sess.itemErrors(),
	})
}

// loadItems fetches the full non-trashed item list for both kinds
func (s *Scanner) loadItems(ctx context.Context, sess *Session) ([]*models.MediaItem, error) {
	sess.setPhase(PhaseLoading, 2, "Listing catalog items")

	var items []*models.MediaItem
	for _, kind := range []models.Kind{models.KindPhoto, models.KindFile} {
		listed, err := s.catalog.ListActiveItems(ctx, sess.userID, kind)
		if err != nil {
			return nil, err
		}
		items = append(items, listed...)
		sess.advance(1, "Listing catalog items")
	}
	return items, nil
}

// fillSizes backfills missing byte lengths via the content source.
// Per-item failures are non-fatal: the item is excluded from further
// consideration and the failure recorded.
func (s *Scanner) fillSizes(ctx context.Context, sess *Session, items []*models.MediaItem) []*models.MediaItem {
	var missing []*models.MediaItem
	for _, it := range items {
		if it.Size < 0 {
			missing = append(missing, it)
		}
	}

	sess.setPhase(PhaseFetchingSizes, len(missing), "Fetching missing sizes")
	if len(missing) == 0 {
		return items
	}

	var (
		excluded sync.Map
		done     atomic.Int64
	)

	g := &errgroup.Group{}
	g.SetLimit(s.workers)
	for _, it := range missing {
		// Cooperative cancellation: no new unit once cancel is observed
		if sess.stopRequested(ctx) {
			break
		}
		it := it
		g.Go(func() error {
			size, err := s.content.Size(ctx, it.ID)
			if err != nil {
				s.logger.Warn("size fetch failed", "item", it.ID, "error", err)
				sess.recordError(it.ID, StageSize, err)
				excluded.Store(it.ID, true)
			} else {
				it.Size = size
				if saver, ok := s.catalog.(SizeSaver); ok {
					if err := saver.SetSize(ctx, it.ID, size); err != nil {
						s.logger.Warn("size persist failed", "item", it.ID, "error", err)
					}
				}
			}
			sess.advance(int(done.Add(1)), "Fetching size "+it.Filename)
			return nil
		})
	}
	g.Wait() // phase barrier

	kept := items[:0]
	for _, it := range items {
		if _, skip := excluded.Load(it.ID); !skip {
			kept = append(kept, it)
		}
	}
	return kept
}

// hashItems streams every item's bytes through the digest under the
// bounded worker pool. Hash failures are non-fatal: the item stays in
// the set as unhashable and, in all mode, falls through to similarity
// matching.
func (s *Scanner) hashItems(ctx context.Context, sess *Session, items []*models.MediaItem) {
	sess.setPhase(PhaseHashing, len(items), "Hashing content")

	var done atomic.Int64

	g := &errgroup.Group{}
	g.SetLimit(s.workers)
	for _, it := range items {
		if sess.stopRequested(ctx) {
			break
		}
		it := it
		g.Go(func() error {
			digest, err := s.hashOne(ctx, it.ID)
			if err != nil {
				s.logger.Warn("hash failed", "item", it.ID, "error", err)
				sess.recordError(it.ID, StageHash, err)
			} else {
				it.ContentHash = digest
			}
			sess.advance(int(done.Add(1)), "Hashing "+it.Filename)
			return nil
		})
	}
	g.Wait() // phase barrier
}

func (s *Scanner) hashOne(ctx context.Context, itemID string) (string, error) {
	rc, err := s.content.Open(ctx, itemID)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return hash.Sum(rc)
}
