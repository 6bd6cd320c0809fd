package scan

import (
	"context"
	"sync"
	"sync/atomic"

	"mediadedup/internal/match"
	"mediadedup/internal/models"
)

// Phase identifies where a session is in the pipeline
type Phase string

const (
	PhaseLoading       Phase = "loading"
	PhaseFetchingSizes Phase = "fetching-sizes"
	PhaseHashing       Phase = "hashing"
	PhaseAnalyzing     Phase = "analyzing"
	PhaseDone          Phase = "done"
	PhaseCancelled     Phase = "cancelled"
	PhaseFailed        Phase = "failed"
)

// Stages at which a per-item failure can occur
const (
	StageSize = "size"
	StageHash = "hash"
)

// Snapshot is one observation of a running session, published on every
// progress change. Percent is a weighted blend across phases, heaviest
// on hashing, monotonically non-decreasing, 100 only at done.
type Snapshot struct {
	Phase   Phase   `json:"phase"`
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Message string  `json:"message"`
	Percent float64 `json:"percent"`
}

// ItemError records a non-fatal per-item failure. The scan continues;
// the caller sees these alongside the best-effort result.
type ItemError struct {
	ItemID string `json:"item_id"`
	Stage  string `json:"stage"`
	Err    error  `json:"-"`
}

// Result is the outcome of a completed scan
type Result struct {
	Mode       models.Mode              `json:"mode"`
	Items      []*models.MediaItem      `json:"-"`
	Groups     []*models.DuplicateGroup `json:"groups"`
	Stats      models.ScanStats         `json:"stats"`
	ItemErrors []ItemError              `json:"item_errors,omitempty"`
}

// Phase weights for the progress blend. Hashing dominates wall-clock
// time, so it gets the lion's share; in similar mode its weight is
// redistributed.
var (
	phaseBase = map[models.Mode]map[Phase]float64{
		models.ModeExact:   {PhaseLoading: 0, PhaseFetchingSizes: 0.10, PhaseHashing: 0.25, PhaseAnalyzing: 0.85},
		models.ModeAll:     {PhaseLoading: 0, PhaseFetchingSizes: 0.10, PhaseHashing: 0.25, PhaseAnalyzing: 0.85},
		models.ModeSimilar: {PhaseLoading: 0, PhaseFetchingSizes: 0.20, PhaseAnalyzing: 0.60},
	}
	phaseSpan = map[models.Mode]map[Phase]float64{
		models.ModeExact:   {PhaseLoading: 0.10, PhaseFetchingSizes: 0.15, PhaseHashing: 0.60, PhaseAnalyzing: 0.15},
		models.ModeAll:     {PhaseLoading: 0.10, PhaseFetchingSizes: 0.15, PhaseHashing: 0.60, PhaseAnalyzing: 0.15},
		models.ModeSimilar: {PhaseLoading: 0.20, PhaseFetchingSizes: 0.40, PhaseAnalyzing: 0.40},
	}
)

// Session is the ephemeral state of one scan run. It is created by
// Scanner.Start, mutated in place as phases advance, and frozen at
// completion, failure or cancellation.
type Session struct {
	mode   models.Mode
	userID string
	pins   match.Pins

	cancelled atomic.Bool

	mu          sync.Mutex
	phase       Phase
	current     int
	total       int
	lastPercent float64
	errs        []ItemError
	result      *Result
	err         error

	snapshots chan Snapshot
	done      chan struct{}
}

func newSession(mode models.Mode, userID string, pins match.Pins) *Session {
	return &Session{
		mode:      mode,
		userID:    userID,
		pins:      pins,
		phase:     PhaseLoading,
		snapshots: make(chan Snapshot, 128),
		done:      make(chan struct{}),
	}
}

// Mode returns the session's scan mode
func (s *Session) Mode() models.Mode { return s.mode }

// Cancel requests cooperative termination. In-flight single-item
// operations finish; no new unit starts. The flag is monotonic.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Snapshots returns the progress stream. It is closed when the session
// reaches a terminal phase. Slow consumers miss intermediate snapshots
// rather than stalling the scan.
func (s *Session) Snapshots() <-chan Snapshot {
	return s.snapshots
}

// Wait blocks until the session terminates. It returns the result, or
// ErrCancelled after Cancel, or the fatal error that failed the scan.
func (s *Session) Wait() (*Result, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Snapshot returns the current progress observation
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked("")
}

// Phase returns the session's current phase
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Terminal reports whether the session has ended
func (s *Session) Terminal() bool {
	switch s.Phase() {
	case PhaseDone, PhaseCancelled, PhaseFailed:
		return true
	}
	return false
}

func (s *Session) stopRequested(ctx context.Context) bool {
	return s.cancelled.Load() || ctx.Err() != nil
}

func (s *Session) setPhase(phase Phase, total int, message string) {
	s.mu.Lock()
	s.phase = phase
	s.current = 0
	s.total = total
	snap := s.snapshotLocked(message)
	s.mu.Unlock()
	s.publish(snap)
}

// advance moves the phase-local counter to current and publishes.
// Workers complete in no particular order, so only forward moves count.
func (s *Session) advance(current int, message string) {
	s.mu.Lock()
	if current > s.current {
		s.current = current
	}
	snap := s.snapshotLocked(message)
	s.mu.Unlock()
	s.publish(snap)
}

func (s *Session) recordError(itemID, stage string, err error) {
	s.mu.Lock()
	s.errs = append(s.errs, ItemError{ItemID: itemID, Stage: stage, Err: err})
	s.mu.Unlock()
}

func (s *Session) itemErrors() []ItemError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ItemError(nil), s.errs...)
}

func (s *Session) complete(res *Result) {
	s.mu.Lock()
	s.phase = PhaseDone
	s.result = res
	snap := s.snapshotLocked("Scan complete")
	s.mu.Unlock()
	s.publishTerminal(snap)
}

func (s *Session) cancel() {
	s.mu.Lock()
	s.phase = PhaseCancelled
	s.err = ErrCancelled
	snap := s.snapshotLocked("Scan cancelled")
	s.mu.Unlock()
	s.publishTerminal(snap)
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.phase = PhaseFailed
	s.err = err
	snap := s.snapshotLocked("Scan failed")
	s.mu.Unlock()
	s.publishTerminal(snap)
}

func (s *Session) finish() {
	close(s.snapshots)
	close(s.done)
}

// snapshotLocked builds a Snapshot; the caller holds s.mu
func (s *Session) snapshotLocked(message string) Snapshot {
	pct := s.lastPercent
	switch s.phase {
	case PhaseDone:
		pct = 100
	case PhaseCancelled, PhaseFailed:
		// frozen at the last observed value
	default:
		frac := 1.0
		if s.total > 0 {
			frac = float64(s.current) / float64(s.total)
		}
		computed := (phaseBase[s.mode][s.phase] + phaseSpan[s.mode][s.phase]*frac) * 100
		if computed > pct {
			pct = computed
		}
	}
	s.lastPercent = pct

	return Snapshot{
		Phase:   s.phase,
		Current: s.current,
		Total:   s.total,
		Message: message,
		Percent: pct,
	}
}

func (s *Session) publish(snap Snapshot) {
	select {
	case s.snapshots <- snap:
	default:
	}
}

// publishTerminal delivers a terminal snapshot even against a full
// buffer: intermediate observations are droppable, the final one is
// not. Phases have ended, so no other publisher is racing for slots;
// evicting the oldest snapshot always makes room.
func (s *Session) publishTerminal(snap Snapshot) {
	for {
		select {
		case s.snapshots <- snap:
			return
		default:
		}
		select {
		case <-s.snapshots:
		default:
		}
	}
}
