package lang

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var terminalRunes = map[rune]bool{
	'.': true, '!': true, '?': true, '…': true,
	'。': true, '！': true, '？': true, '｡': true,
}

var closerRunes = map[rune]bool{
	'"': true, '\'': true, '”': true, '’': true, ')': true, ']': true,
	'}': true, '»': true, '」': true, '』': true, '）': true, '】': true,
}

// bracketPairs maps every opening annotation bracket to its closer.
var bracketPairs = map[rune]rune{
	'[': ']',
	'(': ')',
	'（': '）',
	'【': '】',
	'〔': '〕',
	'［': '］',
}

var musicRunes = map[rune]bool{
	'♪': true, '♫': true, '♬': true, '♩': true,
}

// speakerMarkers are prefixes platforms use to signal a change of speaker.
var speakerMarkers = []string{">>", "&gt;&gt;", "- ", "– ", "— "}

// IsTerminal reports whether r ends a sentence.
func IsTerminal(r rune) bool {
	return terminalRunes[r]
}

// TrimClosers removes trailing whitespace, quotes and closing brackets that
// would otherwise hide a sentence terminator.
func TrimClosers(s string) string {
	for {
		s = strings.TrimRightFunc(s, unicode.IsSpace)
		if s == "" {
			return s
		}
		r, size := utf8.DecodeLastRuneInString(s)
		if r == utf8.RuneError && size == 1 {
			s = s[:len(s)-1]
			continue
		}
		if !closerRunes[r] {
			return s
		}
		s = s[:len(s)-size]
	}
}

// EndsSentence reports whether s ends in sentence-terminal punctuation,
// ignoring trailing closers such as quotes.
func EndsSentence(s string) bool {
	s = TrimClosers(s)
	if s == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return IsTerminal(r)
}

// StartsWithMarker reports whether s opens with an annotation bracket or a
// music note.
func StartsWithMarker(s string) bool {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	r, _ := utf8.DecodeRuneInString(s)
	if _, ok := bracketPairs[r]; ok {
		return true
	}
	return musicRunes[r]
}

// IsAnnotation reports whether the whole of s is a non-speech annotation: a
// single bracketed span such as "[Music]" or "(laughs)", or only music notes.
func IsAnnotation(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.IndexFunc(s, func(r rune) bool { return !musicRunes[r] && !unicode.IsSpace(r) }) < 0 {
		return true
	}
	open, _ := utf8.DecodeRuneInString(s)
	closer, ok := bracketPairs[open]
	if !ok {
		if musicRunes[open] {
			last, _ := utf8.DecodeLastRuneInString(s)
			return musicRunes[last]
		}
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	if last != closer {
		return false
	}
	// "[a] b [c]" is speech with annotations, not an annotation.
	inner := s[utf8.RuneLen(open) : len(s)-utf8.RuneLen(closer)]
	return !strings.ContainsRune(inner, closer)
}

// StripSpeakerMarker removes leading speaker-change markers from s.
func StripSpeakerMarker(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := s
		for _, m := range speakerMarkers {
			if strings.HasPrefix(trimmed, m) {
				trimmed = strings.TrimSpace(trimmed[len(m):])
				break
			}
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// connectives lists discourse connectives per family. Spaced entries match
// the lower-cased first word; logographic entries match as a prefix.
var connectives = map[Family][]string{
	Spaced: {
		"and", "but", "so", "because", "then", "however", "actually",
		"anyway", "also", "or", "well", "now", "okay", "ok", "which",
		"although", "though", "meanwhile", "basically", "plus",
	},
	Logographic: {
		"でも", "だから", "それで", "そして", "しかし", "ところで", "なので",
		"じゃあ", "つまり", "但是", "所以", "然后", "因为", "可是", "而且",
		"那么", "不过",
	},
}

// IsConnective reports whether s opens with a discourse connective of family f.
func IsConnective(f Family, s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if f == Logographic {
		for _, c := range connectives[Logographic] {
			if strings.HasPrefix(s, c) {
				return true
			}
		}
		return false
	}
	first := strings.Fields(s)[0]
	first = strings.ToLower(strings.TrimFunc(first, func(r rune) bool {
		return unicode.IsPunct(r)
	}))
	for _, c := range connectives[Spaced] {
		if first == c {
			return true
		}
	}
	return false
}
