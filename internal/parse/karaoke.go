package parse

import (
	"strings"

	"github.com/MrWong99/captionflow/pkg/caption"
	"github.com/MrWong99/captionflow/pkg/caption/lang"
)

// ParseKaraoke parses a multi-track karaoke batch. Only the main track is
// kept: the canonical track id from tun when present, otherwise the
// numerically largest track id. Identical re-emissions of the same line are
// merged into one fragment.
func ParseKaraoke(events []caption.RawEvent, tun caption.Tuning) []caption.Fragment {
	tun = tun.WithDefaults()
	main, ok := mainTrack(events, tun.KaraokeMainTrack)
	if !ok {
		return nil
	}

	b := trackBuilder{mergeRepeats: true}
	for _, ev := range sortedEvents(events) {
		if ev.TrackID == nil || *ev.TrackID != main {
			continue
		}
		var sb strings.Builder
		for _, seg := range ev.Segments {
			sb.WriteString(seg.Text)
		}
		text := lang.Clean(sb.String())
		if text == "" {
			continue
		}
		b.push(caption.Fragment{
			Text:    text,
			StartMs: ev.StartMs,
			EndMs:   ev.StartMs + ev.Duration(),
		})
	}
	return b.fragments()
}

// mainTrack picks the track to render from a karaoke batch.
func mainTrack(events []caption.RawEvent, canonical int) (int, bool) {
	found := false
	largest := 0
	for _, ev := range events {
		if ev.TrackID == nil {
			continue
		}
		id := *ev.TrackID
		if id == canonical {
			return id, true
		}
		if !found || id > largest {
			largest = id
			found = true
		}
	}
	return largest, found
}
