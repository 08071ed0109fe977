// Package translate is the LLM-backed translation backend for the caption
// pipeline.
//
// A [Translator] turns one caption line into the target language per call,
// consulting an optional [cache.Cache] first, and answers the segmentation
// round trip used when AI segmentation is enabled. Model selection follows
// the one-provider-per-model pattern: construct the [llm.Provider] with the
// model configured (optionally wrapped in a resilience.LLMFallback).
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/captionflow/internal/observe"
	"github.com/MrWong99/captionflow/internal/translate/cache"
	"github.com/MrWong99/captionflow/pkg/provider/llm"
)

const (
	defaultTemperature    = 0.2
	defaultTimeout        = 30 * time.Second
	segmentOutputHeadroom = 2
)

// ErrPromptTooLarge is returned when a segmentation document would not fit
// the model's context window.
var ErrPromptTooLarge = errors.New("translate: prompt exceeds model context window")

// Option is a functional option for configuring a [Translator].
type Option func(*Translator)

// WithCache sets the translation cache. Nil disables caching.
func WithCache(c cache.Cache) Option {
	return func(t *Translator) {
		t.cache = c
	}
}

// WithMetrics sets the metrics instance. Nil means [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Translator) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTimeout bounds a single completion request. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(t *Translator) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(t *Translator) {
		if name != "" {
			t.provider = name
		}
	}
}

// Translator implements the pipeline's translation backend on top of an
// [llm.Provider]. It is safe for concurrent use.
type Translator struct {
	llm      llm.Provider
	cache    cache.Cache
	metrics  *observe.Metrics
	logger   *slog.Logger
	timeout  time.Duration
	provider string
}

// New returns a Translator backed by p.
func New(p llm.Provider, opts ...Option) (*Translator, error) {
	if p == nil {
		return nil, errors.New("translate: llm provider is required")
	}
	t := &Translator{
		llm:      p,
		metrics:  observe.DefaultMetrics(),
		logger:   slog.Default(),
		timeout:  defaultTimeout,
		provider: "llm",
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// TranslateText translates one caption line from source into target. Blank
// text is returned unchanged without a model call.
func (t *Translator) TranslateText(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if target == "" {
		return "", errors.New("translate: target language is required")
	}

	key := cache.Key{Source: source, Target: target, Text: text}
	if hit, ok := t.lookup(ctx, key); ok {
		return hit, nil
	}

	resp, err := t.complete(ctx, "translate", llm.CompletionRequest{
		SystemPrompt: translatePrompt(source, target),
		Temperature:  defaultTemperature,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
	})
	if err != nil {
		return "", err
	}
	out := cleanTranslation(resp.Content)
	if out == "" {
		return "", fmt.Errorf("translate: empty translation for %q", text)
	}

	if t.cache != nil {
		if err := t.cache.Put(ctx, key, out); err != nil {
			t.logger.Warn("translate: cache put failed", "err", err)
		}
	}
	return out, nil
}

// SegmentSubtitles sends the record document to the model and returns its
// caption document. routingKey is logged for correlation.
func (t *Translator) SegmentSubtitles(ctx context.Context, doc, routingKey string) (string, error) {
	msgs := []llm.Message{{Role: llm.RoleUser, Content: doc}}

	caps := t.llm.Capabilities()
	if caps.ContextWindow > 0 {
		n, err := t.llm.CountTokens(append([]llm.Message{{Role: llm.RoleSystem, Content: segmentPrompt}}, msgs...))
		if err != nil {
			return "", fmt.Errorf("translate: count tokens: %w", err)
		}
		// The reply repeats the document text plus timings.
		if n*segmentOutputHeadroom > caps.ContextWindow {
			return "", fmt.Errorf("%w: %d tokens, window %d", ErrPromptTooLarge, n, caps.ContextWindow)
		}
	}

	t.logger.Debug("translate: segmenting", "routing_key", routingKey, "bytes", len(doc))
	resp, err := t.complete(ctx, "segment", llm.CompletionRequest{
		SystemPrompt: segmentPrompt,
		Messages:     msgs,
	})
	if err != nil {
		return "", err
	}
	return stripMarkdown(resp.Content), nil
}

func (t *Translator) lookup(ctx context.Context, key cache.Key) (string, bool) {
	if t.cache == nil {
		return "", false
	}
	v, err := t.cache.Get(ctx, key)
	switch {
	case err == nil:
		t.metrics.RecordCacheLookup(ctx, true)
		return v, true
	case errors.Is(err, cache.ErrMiss):
	default:
		t.logger.Warn("translate: cache get failed", "err", err)
	}
	t.metrics.RecordCacheLookup(ctx, false)
	return "", false
}

func (t *Translator) complete(ctx context.Context, kind string, req llm.CompletionRequest) (_ *llm.CompletionResponse, err error) {
	ctx, span := observe.StartSpan(ctx, "translate."+kind,
		attribute.String("captionflow.provider", t.provider),
	)
	defer func() { observe.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	resp, err := t.llm.Complete(ctx, req)
	t.metrics.RecordLLM(ctx, time.Since(start), t.provider, kind)
	if err != nil {
		t.metrics.RecordProviderRequest(ctx, t.provider, kind, "error")
		t.metrics.RecordProviderError(ctx, t.provider, kind)
		observe.Logger(ctx, t.logger).Debug("translate: completion failed", "kind", kind, "err", err)
		return nil, fmt.Errorf("translate: %s: %w", kind, err)
	}
	if resp == nil {
		t.metrics.RecordProviderRequest(ctx, t.provider, kind, "error")
		return nil, fmt.Errorf("translate: %s: empty response", kind)
	}
	t.metrics.RecordProviderRequest(ctx, t.provider, kind, "ok")
	return resp, nil
}
