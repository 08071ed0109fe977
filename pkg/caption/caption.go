// Package caption defines the shared data model used across all captionflow
// packages: timed fragments, raw wire events, translation blocks and the
// pipeline status.
//
// These types form the lingua franca between the parsers, the reflow stages,
// the schedulers and the orchestrator. Each package defines its own internal
// types; cross-cutting structures live here to avoid circular imports.
package caption

import "slices"

// Fragment is one timed caption unit.
//
// Within one produced track fragments are sorted by StartMs and never overlap:
// fragments[i].EndMs <= fragments[i+1].StartMs. Producers guarantee this with
// [Normalize] or an equivalent push-time fix-up.
type Fragment struct {
	// Text is the source-language caption text.
	Text string `json:"text"`

	// StartMs is the playback position at which the fragment becomes visible.
	StartMs int64 `json:"start_ms"`

	// EndMs is the playback position at which the fragment stops being visible.
	// Always >= StartMs.
	EndMs int64 `json:"end_ms"`

	// Translation holds the target-language text once the fragment's block has
	// been translated. Empty until then.
	Translation string `json:"translation,omitempty"`
}

// Contains reports whether ms lies in the half-open interval [StartMs, EndMs).
func (f Fragment) Contains(ms int64) bool {
	return ms >= f.StartMs && ms < f.EndMs
}

// DurationMs returns EndMs - StartMs.
func (f Fragment) DurationMs() int64 {
	return f.EndMs - f.StartMs
}

// RawSegment is a single text run inside a [RawEvent].
type RawSegment struct {
	Text string `json:"text"`

	// OffsetMs is relative to the owning event's StartMs. Nil means 0.
	OffsetMs *int64 `json:"offset_ms,omitempty"`
}

// Offset returns the segment offset, treating a missing value as 0.
func (s RawSegment) Offset() int64 {
	if s.OffsetMs == nil {
		return 0
	}
	return *s.OffsetMs
}

// RawEvent is one item of a timed-text wire stream as delivered by a platform.
// Unknown fields of the originating format are dropped during decoding.
type RawEvent struct {
	StartMs    int64        `json:"start_ms"`
	DurationMs *int64       `json:"duration_ms,omitempty"`
	Segments   []RawSegment `json:"segments,omitempty"`

	// TrackID distinguishes simultaneous tracks rendering the same instant
	// (karaoke dual-track captions).
	TrackID *int `json:"track_id,omitempty"`

	// WindowID together with IsSeparator marks scrolling-ASR line breaks.
	WindowID    *int `json:"window_id,omitempty"`
	IsSeparator bool `json:"is_separator,omitempty"`
}

// Duration returns the event duration, treating a missing value as 0.
func (e RawEvent) Duration() int64 {
	if e.DurationMs == nil {
		return 0
	}
	return *e.DurationMs
}

// HasDuration reports whether the wire event carried an explicit duration.
func (e RawEvent) HasDuration() bool {
	return e.DurationMs != nil
}

// Format identifies the wire-format family of a raw event batch.
type Format string

const (
	FormatKaraoke   Format = "karaoke"
	FormatScrolling Format = "scrolling-asr"
	FormatStandard  Format = "standard"
)

// Normalize enforces the track invariants on frags in place and returns it:
// every fragment gets EndMs >= StartMs, the slice is stably sorted by StartMs,
// and each fragment's end is clamped to the following fragment's start.
func Normalize(frags []Fragment) []Fragment {
	if len(frags) == 0 {
		return frags
	}
	slices.SortStableFunc(frags, func(a, b Fragment) int {
		switch {
		case a.StartMs < b.StartMs:
			return -1
		case a.StartMs > b.StartMs:
			return 1
		}
		return 0
	})
	for i := range frags {
		if frags[i].EndMs < frags[i].StartMs {
			frags[i].EndMs = frags[i].StartMs
		}
		if i > 0 && frags[i-1].EndMs > frags[i].StartMs {
			frags[i-1].EndMs = frags[i].StartMs
		}
	}
	return frags
}

// IsNormalized reports whether frags satisfies the track invariants.
func IsNormalized(frags []Fragment) bool {
	for i, f := range frags {
		if f.EndMs < f.StartMs {
			return false
		}
		if i > 0 && (frags[i-1].StartMs > f.StartMs || frags[i-1].EndMs > f.StartMs) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of frags.
func Clone(frags []Fragment) []Fragment {
	if frags == nil {
		return nil
	}
	return slices.Clone(frags)
}
