package parse

import (
	"github.com/MrWong99/captionflow/pkg/caption"
	"github.com/MrWong99/captionflow/pkg/caption/lang"
)

// ParseStandard turns every segment into its own fragment. A fragment ends
// where the next segment of the same event starts; the last segment of an
// event ends with the event. Events without a duration estimate the end from
// the word count. The output is deliberately fine-grained and is meant to be
// reflowed afterwards.
func ParseStandard(events []caption.RawEvent, tun caption.Tuning) []caption.Fragment {
	tun = tun.WithDefaults()
	word := tun.WordDuration.Milliseconds()

	type timed struct {
		text string
		at   int64
	}

	var b trackBuilder
	for _, ev := range sortedEvents(events) {
		if ev.IsSeparator {
			continue
		}
		segs := make([]timed, 0, len(ev.Segments))
		for _, seg := range ev.Segments {
			text := lang.Clean(seg.Text)
			if text == "" {
				continue
			}
			segs = append(segs, timed{text: text, at: ev.StartMs + seg.Offset()})
		}
		for i, s := range segs {
			var end int64
			switch {
			case i+1 < len(segs):
				end = segs[i+1].at
			case ev.HasDuration():
				end = ev.StartMs + ev.Duration()
			default:
				end = s.at + int64(max(1, lang.WordCount(s.text)))*word
			}
			b.push(caption.Fragment{Text: s.text, StartMs: s.at, EndMs: end})
		}
	}
	return b.fragments()
}
