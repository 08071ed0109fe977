package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/captionflow/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
// Unless cfg sets its own Cooldown, a rate limited backend is benched for the
// Retry-After it sent.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.CircuitBreaker.Cooldown == nil {
		cfg.CircuitBreaker.Cooldown = llm.RetryAfter
	}
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens delegates to the first healthy provider's token counter.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(context.Background(), f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the smallest limits across all entries, since any of
// them may end up serving a request sized against the result.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	var caps llm.ModelCapabilities
	for i, e := range f.group.entries {
		c := e.value.Capabilities()
		if i == 0 {
			caps = c
			continue
		}
		if c.ContextWindow > 0 && (caps.ContextWindow == 0 || c.ContextWindow < caps.ContextWindow) {
			caps.ContextWindow = c.ContextWindow
		}
		if c.MaxOutputTokens > 0 && (caps.MaxOutputTokens == 0 || c.MaxOutputTokens < caps.MaxOutputTokens) {
			caps.MaxOutputTokens = c.MaxOutputTokens
		}
	}
	return caps
}

// Status reports the breaker state of every backend in failover order.
func (f *LLMFallback) Status() []EntryStatus { return f.group.Status() }

// Ready returns nil while at least one backend accepts calls. Otherwise the
// error names the earliest time a backend will be probed again. It satisfies
// the health checker signature.
func (f *LLMFallback) Ready(context.Context) error {
	if f.group.Available() {
		return nil
	}
	var next time.Time
	for _, st := range f.group.Status() {
		if !st.RetryAt.IsZero() && (next.IsZero() || st.RetryAt.Before(next)) {
			next = st.RetryAt
		}
	}
	if next.IsZero() {
		return ErrCircuitOpen
	}
	return fmt.Errorf("%w: next probe at %s", ErrCircuitOpen, next.UTC().Format(time.RFC3339))
}
