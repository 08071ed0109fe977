// Package display keeps the currently visible caption in sync with the
// playback clock.
package display

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/MrWong99/captionflow/internal/playback"
	"github.com/MrWong99/captionflow/internal/store"
	"github.com/MrWong99/captionflow/pkg/caption"
)

// Scheduler publishes the fragment under the playhead to a [store.Store].
//
// It holds a start-sorted timeline. [Scheduler.Supplement] merges new
// fragments by exact start time, so re-translating a block replaces lines
// instead of duplicating them. While started, every clock signal looks up the
// fragment whose [start, end) contains the position and publishes it when it
// differs from the one shown before. A stopped Scheduler holds no clock
// subscription.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	clock  playback.Clock
	store  *store.Store
	logger *slog.Logger

	mu       sync.Mutex
	frags    []caption.Fragment
	active   bool
	unsub    func()
	shown    caption.Fragment
	hasShown bool
}

// Option is a functional option for configuring a [Scheduler].
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a stopped Scheduler bound to clock and st.
func New(clock playback.Clock, st *store.Store, opts ...Option) *Scheduler {
	s := &Scheduler{clock: clock, store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFragments replaces the whole timeline.
func (s *Scheduler) SetFragments(frags []caption.Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frags = caption.Normalize(caption.Clone(frags))
	s.store.SetFragments(s.frags)
	s.refreshLocked()
}

// Supplement merges frags into the timeline. A fragment whose start time
// equals an existing one replaces it.
func (s *Scheduler) Supplement(frags []caption.Fragment) {
	if len(frags) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byStart := make(map[int64]int, len(s.frags))
	merged := caption.Clone(s.frags)
	for i, f := range merged {
		byStart[f.StartMs] = i
	}
	for _, f := range frags {
		if i, ok := byStart[f.StartMs]; ok {
			merged[i] = f
			continue
		}
		byStart[f.StartMs] = len(merged)
		merged = append(merged, f)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].StartMs < merged[j].StartMs })
	s.frags = merged
	s.store.SetFragments(s.frags)
	s.refreshLocked()
}

// Start attaches to the clock and publishes the fragment at the current
// position. Starting an active Scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.unsub = s.clock.Subscribe(s.onSignal)
	s.refreshLocked()
}

// Stop detaches from the clock and hides the current fragment.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.refreshLocked()
}

// Reset clears the timeline, sets the status to idle and publishes that no
// fragment is visible. The Scheduler stays started if it was.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frags = nil
	s.hasShown = false
	s.shown = caption.Fragment{}
	s.store.SetFragments(nil)
	s.store.SetStatus(caption.Status{State: caption.StatusIdle})
	s.store.SetCurrent(nil)
}

// Active reports whether the Scheduler is attached to the clock.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Len returns the number of fragments in the timeline.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frags)
}

func (s *Scheduler) onSignal(sig playback.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.syncLocked(sig.PositionMs)
}

func (s *Scheduler) refreshLocked() {
	if !s.active {
		s.publishLocked(nil)
		return
	}
	s.syncLocked(s.clock.Now())
}

func (s *Scheduler) syncLocked(ms int64) {
	s.publishLocked(At(s.frags, ms))
}

// publishLocked publishes f unless it is already shown.
func (s *Scheduler) publishLocked(f *caption.Fragment) {
	switch {
	case f == nil && !s.hasShown:
		return
	case f != nil && s.hasShown && *f == s.shown:
		return
	}
	if f == nil {
		s.hasShown = false
		s.shown = caption.Fragment{}
	} else {
		s.hasShown = true
		s.shown = *f
	}
	s.store.SetCurrent(f)
}

// At returns the fragment of the start-sorted timeline frags whose
// [start, end) contains ms, or nil.
func At(frags []caption.Fragment, ms int64) *caption.Fragment {
	i := sort.Search(len(frags), func(i int) bool { return frags[i].StartMs > ms })
	if i == 0 {
		return nil
	}
	f := frags[i-1]
	if !f.Contains(ms) {
		return nil
	}
	return &f
}
