// Package segment delegates caption line segmentation to an external text
// model.
//
// The [Bridge] is an alternative to the rule-based reflow. It filters noise,
// serializes the remaining fragments as a compact JSON record list, hands the
// document to a [Segmenter], and parses the simplified caption document that
// comes back. The bridge never fails its caller: on any error it returns the
// original fragments unchanged.
package segment

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/captionflow/pkg/caption"
	"github.com/MrWong99/captionflow/pkg/caption/lang"
)

// Segmenter performs one segmentation round trip. doc is the JSON record list
// produced by [Encode]; routingKey is passed through for the backend's own
// request routing. The result is a simplified caption document (see [Decode]).
type Segmenter interface {
	SegmentSubtitles(ctx context.Context, doc string, routingKey string) (string, error)
}

// Record is one entry of the document sent to the segmenter.
type Record struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Text  string `json:"text"`
}

// noisePatterns match fragments that are entirely non-speech annotations.
// The "â™ª" forms are UTF-8 music notes that were decoded as Latin-1 upstream.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\[[^\]]*\]$`),
	regexp.MustCompile(`^\([^)]*\)$`),
	regexp.MustCompile(`^（[^）]*）$`),
	regexp.MustCompile(`^【[^】]*】$`),
	regexp.MustCompile(`^[♪♫♬♩\s]+$`),
	regexp.MustCompile(`^♪.*♪$`),
	regexp.MustCompile(`^(â™ª|â™«|\s)+$`),
	regexp.MustCompile(`^â™ª.*â™ª$`),
}

// IsNoise reports whether text is entirely a non-speech annotation.
func IsNoise(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	for _, re := range noisePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Clean collapses embedded newlines and whitespace and drops noise fragments.
func Clean(frags []caption.Fragment) []caption.Fragment {
	out := make([]caption.Fragment, 0, len(frags))
	for _, f := range frags {
		f.Text = lang.CollapseSpace(f.Text)
		if IsNoise(f.Text) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Encode serializes frags into the compact record document.
func Encode(frags []caption.Fragment) (string, error) {
	recs := make([]Record, len(frags))
	for i, f := range frags {
		recs[i] = Record{Start: f.StartMs, End: f.EndMs, Text: f.Text}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Bridge runs the segmentation round trip with silent fallback.
type Bridge struct {
	seg     Segmenter
	timeout time.Duration
	logger  *slog.Logger
	onDone  func(elapsed time.Duration, fallback bool)
}

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithTimeout bounds one segmentation round trip. Zero means no bound beyond
// the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.timeout = d
	}
}

// WithLogger sets the logger used to report fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithObserver registers a callback invoked after every round trip with its
// duration and whether the bridge fell back to the input.
func WithObserver(fn func(elapsed time.Duration, fallback bool)) Option {
	return func(b *Bridge) {
		b.onDone = fn
	}
}

// NewBridge creates a Bridge backed by seg.
func NewBridge(seg Segmenter, opts ...Option) *Bridge {
	b := &Bridge{seg: seg, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Segment returns the segmenter's fragments, or frags unchanged if anything
// goes wrong.
func (b *Bridge) Segment(ctx context.Context, frags []caption.Fragment, routingKey string) []caption.Fragment {
	start := time.Now()
	out, ok := b.segment(ctx, frags, routingKey)
	if b.onDone != nil {
		b.onDone(time.Since(start), !ok)
	}
	if !ok {
		return frags
	}
	return out
}

func (b *Bridge) segment(ctx context.Context, frags []caption.Fragment, routingKey string) ([]caption.Fragment, bool) {
	if b.seg == nil {
		return nil, false
	}
	cleaned := Clean(frags)
	if len(cleaned) == 0 {
		return nil, false
	}
	doc, err := Encode(cleaned)
	if err != nil {
		b.logger.Warn("segment: encode records", "err", err)
		return nil, false
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	resp, err := b.seg.SegmentSubtitles(ctx, doc, routingKey)
	if err != nil {
		b.logger.Warn("segment: backend failed, keeping original fragments", "err", err, "fragments", len(frags))
		return nil, false
	}
	out := Decode(resp)
	if len(out) == 0 {
		b.logger.Warn("segment: backend returned no cues, keeping original fragments", "fragments", len(frags))
		return nil, false
	}
	return out, true
}
