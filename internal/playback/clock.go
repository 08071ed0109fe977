// Package playback models the live playback clock of a media element.
//
// The page reports periodic "time advanced" ticks and explicit seeks. Both
// schedulers and the orchestrator subscribe to the same [Clock] and read it
// independently.
package playback

import (
	"sync"
)

// Kind distinguishes the two clock signals.
type Kind int

const (
	TimeAdvanced Kind = iota
	Seeked
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k == Seeked {
		return "seek"
	}
	return "time"
}

// Signal is one clock notification.
type Signal struct {
	Kind       Kind
	PositionMs int64
}

// Clock exposes the current playback position and its change signals.
type Clock interface {
	// Now returns the last reported position in milliseconds.
	Now() int64

	// Subscribe registers fn for future signals and returns a function that
	// removes it. Listeners are invoked synchronously by whoever drives the
	// clock; they must return quickly.
	Subscribe(fn func(Signal)) (unsubscribe func())
}

// Feed is a [Clock] driven by explicit [Feed.Advance] and [Feed.Seek] calls,
// typically from the transport that receives the page's media events.
// Signals are delivered in call order on the caller's goroutine; concurrent
// drivers are serialized.
type Feed struct {
	dispatchMu sync.Mutex

	mu        sync.Mutex
	now       int64
	listeners map[uint64]func(Signal)
	order     []uint64
	nextID    uint64
}

var _ Clock = (*Feed)(nil)

// NewFeed creates a clock positioned at 0.
func NewFeed() *Feed {
	return &Feed{listeners: make(map[uint64]func(Signal))}
}

// Now implements [Clock].
func (f *Feed) Now() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Subscribe implements [Clock].
func (f *Feed) Subscribe(fn func(Signal)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.order = append(f.order, id)
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.listeners, id)
			for i, v := range f.order {
				if v == id {
					f.order = append(f.order[:i:i], f.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Listeners returns the number of active subscriptions.
func (f *Feed) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Advance reports normal playback progress to ms.
func (f *Feed) Advance(ms int64) {
	f.emit(Signal{Kind: TimeAdvanced, PositionMs: ms})
}

// Seek reports a user seek to ms.
func (f *Feed) Seek(ms int64) {
	f.emit(Signal{Kind: Seeked, PositionMs: ms})
}

func (f *Feed) emit(sig Signal) {
	if sig.PositionMs < 0 {
		sig.PositionMs = 0
	}
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	f.mu.Lock()
	f.now = sig.PositionMs
	fns := make([]func(Signal), 0, len(f.order))
	for _, id := range f.order {
		fns = append(fns, f.listeners[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(sig)
	}
}
