// Package lang holds the table-driven language heuristics used by the caption
// parsers and the reflow stages.
//
// Every predicate is a pure function over its input. Behaviour that differs
// between languages is keyed on [Family] rather than on individual language
// tags, so adding a language usually means adding one table entry.
package lang

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Family groups languages by how words are delimited in running text.
type Family int

const (
	// Spaced languages separate words with whitespace (English, Korean, ...).
	Spaced Family = iota

	// Logographic languages write words without separators (Japanese, Chinese).
	Logographic
)

// String implements fmt.Stringer.
func (f Family) String() string {
	if f == Logographic {
		return "logographic"
	}
	return "spaced"
}

// Separator returns the string inserted between two joined caption pieces.
func (f Family) Separator() string {
	if f == Logographic {
		return ""
	}
	return " "
}

// logographicBases lists ISO 639 base languages written without word spaces.
var logographicBases = map[string]bool{
	"ja":  true,
	"zh":  true,
	"yue": true,
	"wuu": true,
	"lzh": true,
}

// FamilyForTag returns the family of a BCP-47 language tag. Unknown or empty
// tags resolve to [Spaced].
func FamilyForTag(tag string) Family {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Spaced
	}
	// Platform ASR tracks are sometimes tagged "a.en".
	if i := strings.LastIndexByte(tag, '.'); i >= 0 {
		tag = tag[i+1:]
	}
	t, err := language.Parse(tag)
	if err != nil {
		return Spaced
	}
	base, _ := t.Base()
	if logographicBases[base.String()] {
		return Logographic
	}
	return Spaced
}

// DetectFamily guesses the family from text alone: when more than a third of
// the letters are Han, Hiragana or Katakana the text is [Logographic].
func DetectFamily(text string) Family {
	var letters, cjk int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if IsCJKRune(r) {
			cjk++
		}
	}
	if letters > 0 && cjk*3 > letters {
		return Logographic
	}
	return Spaced
}

// Resolve returns the family for tag, falling back to [DetectFamily] on
// sample when tag is empty.
func Resolve(tag, sample string) Family {
	if strings.TrimSpace(tag) == "" {
		return DetectFamily(sample)
	}
	return FamilyForTag(tag)
}

// IsCJKRune reports whether r is a Han, Hiragana or Katakana character.
func IsCJKRune(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana)
}

// zeroWidth are invisible runes platforms inject into caption text.
var zeroWidth = map[rune]bool{
	'\u200b': true,
	'\u200c': true,
	'\u200d': true,
	'\u2060': true,
	'\ufeff': true,
}

// StripZeroWidth removes zero-width characters from s.
func StripZeroWidth(s string) string {
	if !strings.ContainsFunc(s, func(r rune) bool { return zeroWidth[r] }) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if zeroWidth[r] {
			return -1
		}
		return r
	}, s)
}

// CollapseSpace trims s and replaces every whitespace run (newlines included)
// with a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Sanitize drops invalid UTF-8 bytes, applies NFC normalization and strips
// zero-width characters. Whitespace is left as is.
func Sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return StripZeroWidth(norm.NFC.String(s))
}

// Clean is [Sanitize] followed by [CollapseSpace].
func Clean(s string) string {
	return CollapseSpace(Sanitize(s))
}

// RuneLen returns the number of runes in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// WordCount returns the number of whitespace-separated words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Length measures s in the unit used for line limits of family f: runes for
// logographic text, words for spaced text.
func Length(f Family, s string) int {
	if f == Logographic {
		return RuneLen(s)
	}
	return WordCount(s)
}
