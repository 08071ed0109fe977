package caption

import "time"

// Default tuning values. They are empirically chosen and every one of them can
// be overridden through the tuning section of the configuration file.
const (
	DefaultWordDuration        = 200 * time.Millisecond
	DefaultPauseTimeout        = 1500 * time.Millisecond
	DefaultKaraokeMainTrack    = 3
	DefaultMaxLineSpaced       = 300
	DefaultMaxLineLogographic  = 100
	DefaultScrollingMaxWords   = 24
	DefaultScrollingMaxRunes   = 30
	DefaultLongLine            = 250
	DefaultLongLineLogographic = 80
	DefaultLongLineMaxFraction = 0.2
)

// Tuning bundles the named constants that steer parsing and reflow.
type Tuning struct {
	// WordDuration is the estimated on-screen time of one word. Used to
	// estimate end times when the wire format does not carry one.
	WordDuration time.Duration

	// PauseTimeout is the silence after which the optimizer always starts a
	// new line.
	PauseTimeout time.Duration

	// KaraokeMainTrack is the canonical main track id. When absent from a
	// karaoke batch the numerically largest track id is used instead.
	KaraokeMainTrack int

	// MaxLineSpaced and MaxLineLogographic bound the optimizer's line length
	// in runes.
	MaxLineSpaced      int
	MaxLineLogographic int

	// ScrollingMaxWords and ScrollingMaxRunes bound the scrolling-ASR buffer
	// before a split becomes pending.
	ScrollingMaxWords int
	ScrollingMaxRunes int

	// LongLine, LongLineLogographic and LongLineMaxFraction configure the
	// quality gate: when more than LongLineMaxFraction of the first pass
	// output lines are longer than the long-line threshold, the optimizer
	// reruns with the discourse-connective rule enabled.
	LongLine            int
	LongLineLogographic int
	LongLineMaxFraction float64
}

// DefaultTuning returns the default tuning values.
func DefaultTuning() Tuning {
	return Tuning{
		WordDuration:        DefaultWordDuration,
		PauseTimeout:        DefaultPauseTimeout,
		KaraokeMainTrack:    DefaultKaraokeMainTrack,
		MaxLineSpaced:       DefaultMaxLineSpaced,
		MaxLineLogographic:  DefaultMaxLineLogographic,
		ScrollingMaxWords:   DefaultScrollingMaxWords,
		ScrollingMaxRunes:   DefaultScrollingMaxRunes,
		LongLine:            DefaultLongLine,
		LongLineLogographic: DefaultLongLineLogographic,
		LongLineMaxFraction: DefaultLongLineMaxFraction,
	}
}

// WithDefaults returns t with every zero field replaced by its default.
func (t Tuning) WithDefaults() Tuning {
	d := DefaultTuning()
	if t.WordDuration <= 0 {
		t.WordDuration = d.WordDuration
	}
	if t.PauseTimeout <= 0 {
		t.PauseTimeout = d.PauseTimeout
	}
	if t.KaraokeMainTrack == 0 {
		t.KaraokeMainTrack = d.KaraokeMainTrack
	}
	if t.MaxLineSpaced <= 0 {
		t.MaxLineSpaced = d.MaxLineSpaced
	}
	if t.MaxLineLogographic <= 0 {
		t.MaxLineLogographic = d.MaxLineLogographic
	}
	if t.ScrollingMaxWords <= 0 {
		t.ScrollingMaxWords = d.ScrollingMaxWords
	}
	if t.ScrollingMaxRunes <= 0 {
		t.ScrollingMaxRunes = d.ScrollingMaxRunes
	}
	if t.LongLine <= 0 {
		t.LongLine = d.LongLine
	}
	if t.LongLineLogographic <= 0 {
		t.LongLineLogographic = d.LongLineLogographic
	}
	if t.LongLineMaxFraction <= 0 {
		t.LongLineMaxFraction = d.LongLineMaxFraction
	}
	return t
}
