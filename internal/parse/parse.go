// Package parse turns raw timed-text event batches into normalized caption
// fragments.
//
// [Detect] classifies a batch into one of three wire-format families and
// [Parse] dispatches to the matching parser. Every parser is total: malformed
// input produces fewer (possibly zero) fragments, never an error or a panic.
// All outputs are start-sorted and non-overlapping.
package parse

import (
	"slices"
	"strings"

	"github.com/MrWong99/captionflow/pkg/caption"
	"github.com/MrWong99/captionflow/pkg/caption/lang"
)

// Options configures parsing of one track.
type Options struct {
	// Language is the BCP-47 tag of the caption source. When empty the
	// language family is guessed from the caption text.
	Language string

	// Tuning supplies the named constants. Zero fields take their defaults.
	Tuning caption.Tuning
}

// Result is the outcome of [Parse].
type Result struct {
	Format    caption.Format
	Family    lang.Family
	Fragments []caption.Fragment
}

// Parse detects the wire format of events and parses them into fragments.
func Parse(events []caption.RawEvent, opts Options) Result {
	tun := opts.Tuning.WithDefaults()
	family := lang.Resolve(opts.Language, sampleText(events))
	format := Detect(events)

	var frags []caption.Fragment
	switch format {
	case caption.FormatKaraoke:
		frags = ParseKaraoke(events, tun)
	case caption.FormatScrolling:
		frags = ParseScrolling(events, family, tun)
	default:
		frags = ParseStandard(events, tun)
	}
	return Result{Format: format, Family: family, Fragments: frags}
}

// Detect classifies a raw event batch. Two or more events sharing a start
// time with distinct track ids mean karaoke; otherwise any separator event
// carrying a window id means scrolling ASR; everything else is standard.
func Detect(events []caption.RawEvent) caption.Format {
	tracksAt := make(map[int64]map[int]struct{})
	for _, ev := range events {
		if ev.TrackID == nil {
			continue
		}
		set, ok := tracksAt[ev.StartMs]
		if !ok {
			set = make(map[int]struct{}, 2)
			tracksAt[ev.StartMs] = set
		}
		set[*ev.TrackID] = struct{}{}
		if len(set) >= 2 {
			return caption.FormatKaraoke
		}
	}
	for _, ev := range events {
		if ev.WindowID != nil && ev.IsSeparator {
			return caption.FormatScrolling
		}
	}
	return caption.FormatStandard
}

// sortedEvents returns a copy of events stably sorted by start time.
func sortedEvents(events []caption.RawEvent) []caption.RawEvent {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b caption.RawEvent) int {
		switch {
		case a.StartMs < b.StartMs:
			return -1
		case a.StartMs > b.StartMs:
			return 1
		}
		return 0
	})
	return out
}

// sampleText concatenates the first few segment texts for language guessing.
func sampleText(events []caption.RawEvent) string {
	var sb strings.Builder
	for _, ev := range events {
		for _, seg := range ev.Segments {
			sb.WriteString(seg.Text)
			if sb.Len() > 512 {
				return sb.String()
			}
		}
	}
	return sb.String()
}

// trackBuilder accumulates fragments of one track and applies the overlap
// fix-up on every push.
type trackBuilder struct {
	frags []caption.Fragment

	// mergeRepeats folds a fragment into its predecessor when both carry
	// identical text, however far apart they start.
	mergeRepeats bool
}

func (b *trackBuilder) push(f caption.Fragment) {
	if f.EndMs < f.StartMs {
		f.EndMs = f.StartMs
	}
	n := len(b.frags)
	if n == 0 {
		b.frags = append(b.frags, f)
		return
	}
	prev := &b.frags[n-1]
	if b.mergeRepeats && prev.Text == f.Text {
		prev.EndMs = max(prev.EndMs, f.EndMs)
		return
	}
	if f.StartMs < prev.StartMs {
		f.StartMs = prev.StartMs
		f.EndMs = max(f.EndMs, f.StartMs)
	}
	if prev.EndMs > f.StartMs {
		prev.EndMs = f.StartMs
	}
	b.frags = append(b.frags, f)
}

func (b *trackBuilder) fragments() []caption.Fragment {
	return slices.Clone(b.frags)
}
