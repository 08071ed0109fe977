// Package reflow merges fine-grained caption fragments into sentence-scale
// lines.
//
// The [Optimizer] runs a single accumulate-and-flush pass. If too many of the
// resulting lines are abnormally long, which happens with unpunctuated ASR
// input, the pass is discarded and rerun with an additional rule that breaks
// lines before discourse connectives such as "but" or "so".
package reflow

import (
	"log/slog"
	"strings"

	"github.com/MrWong99/captionflow/pkg/caption"
	"github.com/MrWong99/captionflow/pkg/caption/lang"
)

// Optimizer reflows fragments of one language family. It is stateless and
// safe for concurrent use.
type Optimizer struct {
	family lang.Family
	tun    caption.Tuning
	logger *slog.Logger
}

// Option is a functional option for configuring an [Optimizer].
type Option func(*Optimizer)

// WithTuning overrides the tuning constants.
func WithTuning(t caption.Tuning) Option {
	return func(o *Optimizer) {
		o.tun = t.WithDefaults()
	}
}

// WithLogger sets the logger used to report quality-gate reruns.
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Optimizer for the given language family.
func New(family lang.Family, opts ...Option) *Optimizer {
	o := &Optimizer{
		family: family,
		tun:    caption.DefaultTuning(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize returns the reflowed lines. Empty input yields empty output.
// Translations on the input are dropped; reflow runs before translation.
func (o *Optimizer) Optimize(frags []caption.Fragment) []caption.Fragment {
	if len(frags) == 0 {
		return nil
	}
	lines := o.pass(frags, false)
	if o.underSegmented(lines) {
		o.logger.Debug("reflow: quality gate triggered, rerunning with connective breaks",
			"lines", len(lines),
			"family", o.family.String(),
		)
		lines = o.pass(frags, true)
	}
	return caption.Normalize(lines)
}

// underSegmented reports whether more than the configured fraction of lines
// exceed the long-line threshold.
func (o *Optimizer) underSegmented(lines []caption.Fragment) bool {
	if len(lines) == 0 {
		return false
	}
	limit := o.tun.LongLine
	if o.family == lang.Logographic {
		limit = o.tun.LongLineLogographic
	}
	long := 0
	for _, l := range lines {
		if lang.RuneLen(l.Text) > limit {
			long++
		}
	}
	return float64(long)/float64(len(lines)) > o.tun.LongLineMaxFraction
}

func (o *Optimizer) maxLine() int {
	if o.family == lang.Logographic {
		return o.tun.MaxLineLogographic
	}
	return o.tun.MaxLineSpaced
}

// pass performs one accumulate-and-flush sweep over frags.
func (o *Optimizer) pass(frags []caption.Fragment, connectives bool) []caption.Fragment {
	var (
		out     []caption.Fragment
		buf     []caption.Fragment
		bufText strings.Builder
		sep     = o.family.Separator()
	)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		out = append(out, caption.Fragment{
			Text:    bufText.String(),
			StartMs: buf[0].StartMs,
			EndMs:   buf[len(buf)-1].EndMs,
		})
		buf = buf[:0]
		bufText.Reset()
	}

	for _, f := range frags {
		text := lang.StripSpeakerMarker(lang.Clean(f.Text))
		if text == "" {
			continue
		}
		if len(buf) > 0 && o.breaksBefore(buf, bufText.String(), f.StartMs, text, connectives) {
			flush()
		}
		if len(buf) > 0 {
			bufText.WriteString(sep)
		}
		bufText.WriteString(text)
		buf = append(buf, caption.Fragment{Text: text, StartMs: f.StartMs, EndMs: f.EndMs})
	}
	flush()
	return out
}

// breaksBefore reports whether the buffered line must be flushed before next
// is appended.
func (o *Optimizer) breaksBefore(buf []caption.Fragment, line string, nextStart int64, next string, connectives bool) bool {
	last := buf[len(buf)-1]
	switch {
	case lang.EndsSentence(last.Text):
		return true
	case nextStart-last.EndMs > o.tun.PauseTimeout.Milliseconds():
		return true
	case lang.RuneLen(line)+lang.RuneLen(o.family.Separator())+lang.RuneLen(next) > o.maxLine():
		return true
	case lang.StartsWithMarker(next):
		return true
	case connectives && len(buf) > 1 && lang.IsConnective(o.family, next):
		return true
	}
	return false
}
