package parse

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/captionflow/pkg/caption"
	"github.com/MrWong99/captionflow/pkg/caption/lang"
)

// ScrollingParser incrementally parses a scrolling-ASR stream, where words
// arrive in small bursts and separator events mark line breaks.
//
// Text accumulates in one buffer that spans event boundaries. Once the buffer
// ends a sentence or grows past the family's length limit a split becomes
// pending: the buffer is flushed at the next separator, or immediately before
// more text is appended. Flushed annotations such as "[Music]" are dropped.
//
// A ScrollingParser is not safe for concurrent use.
type ScrollingParser struct {
	family lang.Family
	tun    caption.Tuning

	buf       strings.Builder
	start     int64
	lastAt    int64
	authEnd   int64
	hasAuth   bool
	wantSpace bool
	pending   bool

	out trackBuilder
}

// NewScrollingParser returns a parser for a stream of the given family.
func NewScrollingParser(family lang.Family, tun caption.Tuning) *ScrollingParser {
	return &ScrollingParser{family: family, tun: tun.WithDefaults()}
}

// ParseScrolling parses a complete scrolling-ASR batch.
func ParseScrolling(events []caption.RawEvent, family lang.Family, tun caption.Tuning) []caption.Fragment {
	p := NewScrollingParser(family, tun)
	for _, ev := range sortedEvents(events) {
		p.Feed(ev)
	}
	p.Finish()
	return p.Fragments()
}

// Feed consumes one event. Events must arrive in start-time order.
func (p *ScrollingParser) Feed(ev caption.RawEvent) {
	if ev.IsSeparator {
		if p.buf.Len() == 0 {
			return
		}
		p.authEnd = ev.StartMs
		p.hasAuth = true
		if p.pending {
			p.flush(ev.StartMs)
		}
		return
	}

	boundary := true
	for _, seg := range ev.Segments {
		at := ev.StartMs + seg.Offset()
		text := strings.ReplaceAll(lang.Sanitize(seg.Text), "\n", " ")
		for _, piece := range splitSentences(text) {
			if p.append(piece.text, at+p.estimateMs(piece.before), boundary) {
				boundary = false
			}
		}
	}
}

// Finish flushes whatever is left in the buffer.
func (p *ScrollingParser) Finish() {
	if p.buf.Len() == 0 {
		return
	}
	p.flush(p.lastAt + p.tun.WordDuration.Milliseconds())
}

// Fragments returns the fragments flushed so far.
func (p *ScrollingParser) Fragments() []caption.Fragment {
	return p.out.fragments()
}

// append adds piece to the buffer and reports whether anything was written.
func (p *ScrollingParser) append(piece string, at int64, boundary bool) bool {
	trimmed := strings.TrimSpace(piece)
	if trimmed == "" {
		if p.buf.Len() > 0 && piece != "" {
			p.wantSpace = true
		}
		return false
	}
	if p.pending {
		p.flush(at)
	}

	if p.buf.Len() == 0 {
		p.start = at
	} else if p.family == lang.Spaced {
		leading, _ := utf8.DecodeRuneInString(piece)
		if boundary || p.wantSpace || unicode.IsSpace(leading) {
			p.buf.WriteByte(' ')
		}
	}
	p.buf.WriteString(trimmed)
	p.hasAuth = false
	trailing, _ := utf8.DecodeLastRuneInString(piece)
	p.wantSpace = unicode.IsSpace(trailing)
	p.lastAt = at

	text := p.buf.String()
	if lang.EndsSentence(text) || lang.IsAnnotation(text) || p.full(text) {
		p.pending = true
	}
	return true
}

func (p *ScrollingParser) full(text string) bool {
	if p.family == lang.Logographic {
		return lang.RuneLen(text) >= p.tun.ScrollingMaxRunes
	}
	return lang.WordCount(text) >= p.tun.ScrollingMaxWords
}

// flush emits the buffer as one fragment ending at the authoritative end time
// when a separator supplied one, or at endHint otherwise.
func (p *ScrollingParser) flush(endHint int64) {
	text := lang.CollapseSpace(p.buf.String())
	end := endHint
	if p.hasAuth && p.authEnd >= p.start {
		end = p.authEnd
	}
	if text != "" && !lang.IsAnnotation(text) {
		p.out.push(caption.Fragment{Text: text, StartMs: p.start, EndMs: end})
	}
	p.buf.Reset()
	p.hasAuth = false
	p.wantSpace = false
	p.pending = false
}

// estimateMs estimates how long the text preceding a split point took to say.
func (p *ScrollingParser) estimateMs(before string) int64 {
	if before == "" {
		return 0
	}
	units := lang.WordCount(before)
	if p.family == lang.Logographic {
		// Roughly two characters per spoken word.
		units = (lang.RuneLen(strings.TrimSpace(before)) + 1) / 2
	}
	return int64(units) * p.tun.WordDuration.Milliseconds()
}

type sentencePiece struct {
	text   string
	before string
}

// splitSentences cuts s after every sentence terminator (plus trailing
// closers) that is followed by whitespace, so "one. two" yields "one." and
// " two". Full-width terminators always cut. Each piece carries the text that
// precedes it within s.
func splitSentences(s string) []sentencePiece {
	var pieces []sentencePiece
	cut := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if !lang.IsTerminal(r) {
			continue
		}
		j := i
		for j < len(s) {
			c, sz := utf8.DecodeRuneInString(s[j:])
			if lang.IsTerminal(c) || strings.ContainsRune(`"')]}»”’」』）】`, c) {
				j += sz
				continue
			}
			break
		}
		if j >= len(s) {
			break
		}
		next, _ := utf8.DecodeRuneInString(s[j:])
		if !unicode.IsSpace(next) && !strings.ContainsRune("。！？｡", r) {
			i = j
			continue
		}
		pieces = append(pieces, sentencePiece{text: s[cut:j], before: s[:cut]})
		cut = j
		i = j
	}
	return append(pieces, sentencePiece{text: s[cut:], before: s[:cut]})
}
