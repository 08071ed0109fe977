// Package store holds the shared state of one caption pipeline instance.
//
// A [Store] is owned by a single pipeline instance and passed explicitly to
// the orchestrator and both schedulers. Only those three mutate it; every
// other consumer reads snapshots or subscribes to changes.
package store

import (
	"sync"

	"github.com/MrWong99/captionflow/pkg/caption"
)

// Topic names the part of the state a [Change] touched.
type Topic int

const (
	TopicStatus Topic = iota
	TopicCurrent
	TopicFragments
	TopicBlocks
	TopicMedia
	TopicReset
)

// String implements fmt.Stringer.
func (t Topic) String() string {
	switch t {
	case TopicStatus:
		return "status"
	case TopicCurrent:
		return "current"
	case TopicFragments:
		return "fragments"
	case TopicBlocks:
		return "blocks"
	case TopicMedia:
		return "media"
	case TopicReset:
		return "reset"
	}
	return "unknown"
}

// Snapshot is an immutable view of the store. Slices are shared with the
// store and must not be modified.
type Snapshot struct {
	InstanceID string
	MediaID    string
	Generation uint64

	Status    caption.Status
	Fragments []caption.Fragment
	Blocks    []caption.Block

	// Current is the fragment visible at the playhead, nil when none is.
	Current *caption.Fragment
}

// Change is delivered to subscribers after every mutation.
type Change struct {
	Topic    Topic
	Snapshot Snapshot
}

// Store is a subscribe/publish state container. All methods are safe for
// concurrent use. Subscribers are called synchronously, in subscription
// order, one change at a time; they must not mutate the store.
type Store struct {
	pubMu sync.Mutex

	mu     sync.RWMutex
	snap   Snapshot
	subs   map[uint64]func(Change)
	order  []uint64
	nextID uint64
}

// New creates an empty store in the idle state.
func New(instanceID string) *Store {
	return &Store{
		snap: Snapshot{
			InstanceID: instanceID,
			Status:     caption.Status{State: caption.StatusIdle},
		},
		subs: make(map[uint64]func(Change)),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// ID returns the instance id the store was created with.
func (s *Store) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.InstanceID
}

// Subscribe registers fn for all future changes and returns a function that
// removes the subscription. The returned function is idempotent.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// SetStatus replaces the pipeline status.
func (s *Store) SetStatus(st caption.Status) {
	s.update(TopicStatus, func(snap *Snapshot) {
		snap.Status = st
	})
}

// SetCurrent replaces the visible fragment. nil clears it.
func (s *Store) SetCurrent(f *caption.Fragment) {
	var cur *caption.Fragment
	if f != nil {
		c := *f
		cur = &c
	}
	s.update(TopicCurrent, func(snap *Snapshot) {
		snap.Current = cur
	})
}

// SetFragments replaces the display timeline. frags is copied.
func (s *Store) SetFragments(frags []caption.Fragment) {
	frags = caption.Clone(frags)
	s.update(TopicFragments, func(snap *Snapshot) {
		snap.Fragments = frags
	})
}

// SetBlocks replaces the block list. blocks is copied.
func (s *Store) SetBlocks(blocks []caption.Block) {
	blocks = append([]caption.Block(nil), blocks...)
	s.update(TopicBlocks, func(snap *Snapshot) {
		snap.Blocks = blocks
	})
}

// SetMedia records the media id and generation the state belongs to.
func (s *Store) SetMedia(mediaID string, gen uint64) {
	s.update(TopicMedia, func(snap *Snapshot) {
		snap.MediaID = mediaID
		snap.Generation = gen
	})
}

// Reset discards fragments, blocks and the current fragment and returns the
// status to idle. Media id and generation are kept.
func (s *Store) Reset() {
	s.update(TopicReset, func(snap *Snapshot) {
		snap.Fragments = nil
		snap.Blocks = nil
		snap.Current = nil
		snap.Status = caption.Status{State: caption.StatusIdle}
	})
}

func (s *Store) update(topic Topic, fn func(*Snapshot)) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	fn(&s.snap)
	snap := s.snap
	subs := make([]func(Change), 0, len(s.order))
	for _, id := range s.order {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	ch := Change{Topic: topic, Snapshot: snap}
	for _, sub := range subs {
		sub(ch)
	}
}
