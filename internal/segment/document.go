package segment

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/captionflow/pkg/caption"
)

var cueTimingRe = regexp.MustCompile(`^(\S+)\s*-->\s*(\S+)`)

// Decode parses a simplified caption document: an optional header followed
// by cues, each a "start --> end" timing line and one or more non-blank text
// lines. Timings are integer milliseconds; WebVTT clock timestamps are also
// accepted. Multi-line cue text is joined with "\n". Malformed cues are
// skipped and the result is normalized.
func Decode(doc string) []caption.Fragment {
	lines := strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n")

	var (
		frags []caption.Fragment
		cur   *caption.Fragment
		text  []string
	)
	finish := func() {
		if cur != nil && len(text) > 0 {
			cur.Text = strings.Join(text, "\n")
			frags = append(frags, *cur)
		}
		cur = nil
		text = text[:0]
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			finish()
			continue
		}
		if m := cueTimingRe.FindStringSubmatch(line); m != nil {
			finish()
			start, ok1 := parseTiming(m[1])
			end, ok2 := parseTiming(m[2])
			if ok1 && ok2 && end >= start {
				cur = &caption.Fragment{StartMs: start, EndMs: end}
			}
			continue
		}
		if cur != nil {
			text = append(text, line)
		}
	}
	finish()
	return caption.Normalize(frags)
}

// parseTiming accepts "1500" (milliseconds) or "00:00:01.500".
func parseTiming(s string) (int64, bool) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, ms >= 0
	}
	parts := strings.Split(strings.Replace(s, ",", ".", 1), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		total = total*60 + v
	}
	return int64(total*1000 + 0.5), true
}
