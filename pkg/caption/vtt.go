package caption

import (
	"fmt"
	"io"
	"strings"
)

// WriteVTT renders frags as a WebVTT document. When translated is true and a
// fragment carries a translation, the translation is written below the source
// text.
func WriteVTT(w io.Writer, frags []Fragment, translated bool) error {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")
	for i, f := range frags {
		fmt.Fprintf(&sb, "%d\n%s --> %s\n", i+1, FormatTimestamp(f.StartMs), FormatTimestamp(f.EndMs))
		sb.WriteString(f.Text)
		if translated && f.Translation != "" {
			sb.WriteString("\n")
			sb.WriteString(f.Translation)
		}
		sb.WriteString("\n\n")
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("caption: write vtt: %w", err)
	}
	return nil
}

// FormatTimestamp formats ms as a WebVTT timestamp (HH:MM:SS.mmm).
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	ms %= 3_600_000
	m := ms / 60_000
	ms %= 60_000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
