package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/captionflow/internal/config"
	"github.com/MrWong99/captionflow/internal/observe"
	"github.com/MrWong99/captionflow/internal/resilience"
	"github.com/MrWong99/captionflow/pkg/provider/llm"
	"github.com/MrWong99/captionflow/pkg/provider/llm/anyllm"
	"github.com/MrWong99/captionflow/pkg/provider/llm/openai"
)

// anyllmPrefix namespaces the backends served through any-llm-go.
const anyllmPrefix = "anyllm:"

// registerBuiltinProviders wires all built-in LLM factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// The any-llm backends share one pattern: optional APIKey + optional
	// BaseURL. Local servers (ollama, llamacpp, llamafile) need no key.
	for _, backend := range anyllm.Backends {
		reg.RegisterLLM(anyllmPrefix+backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildLLM instantiates the configured LLM and its fallbacks. With at least
// one fallback the result is a [resilience.LLMFallback].
func buildLLM(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	if cfg.Providers.LLM.Name == "" {
		return nil, errors.New("providers.llm is not configured")
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	logger.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)
	if len(cfg.Providers.LLMFallbacks) == 0 {
		return primary, nil
	}

	metrics := observe.DefaultMetrics()
	fb := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{
		Logger: logger,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
		OnFailure: func(name string, _ error) {
			metrics.RecordProviderError(context.Background(), name, "llm")
		},
	})
	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		logger.Info("provider created", "kind", "llm-fallback", "name", entry.Name, "model", entry.Model)
	}
	return fb, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return strings.TrimSpace(s)
}

// optDuration parses a duration string from a provider Options map. Returns
// zero when absent or malformed.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}

// optInt reads an integer option. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), v == float64(int(v))
	default:
		return 0, false
	}
}
