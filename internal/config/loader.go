package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = "127.0.0.1:7390"
	DefaultTargetLanguage = "en"
	DefaultMaxParallel    = 4
	DefaultRequestTimeout = 30 * time.Second
	DefaultBlockDuration  = 60 * time.Second
	DefaultBlockFragments = 40
	DefaultBlockGap       = 10 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {
		"openai",
		"anyllm:openai", "anyllm:anthropic", "anyllm:gemini", "anyllm:ollama", "anyllm:deepseek",
		"anyllm:mistral", "anyllm:groq", "anyllm:llamacpp", "anyllm:llamafile",
	},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBytes is [LoadFromReader] over an in-memory document.
func LoadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// ApplyDefaults fills unset fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Translation.TargetLanguage == "" {
		cfg.Translation.TargetLanguage = DefaultTargetLanguage
	}
	if cfg.Translation.MaxParallel == 0 {
		cfg.Translation.MaxParallel = DefaultMaxParallel
	}
	if cfg.Translation.RequestTimeout == 0 {
		cfg.Translation.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Pipeline.Block == (BlockConfig{}) {
		cfg.Pipeline.Block = BlockConfig{
			MaxDuration:  DefaultBlockDuration,
			MaxFragments: DefaultBlockFragments,
			MaxGap:       DefaultBlockGap,
		}
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = DefaultPlatforms()
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.AuthSecret != "" && len(cfg.Server.AuthSecret) < 16 {
		errs = append(errs, errors.New("server.auth_secret must be at least 16 characters"))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}

	// Translation
	if tag := cfg.Translation.TargetLanguage; tag != "" {
		if _, err := language.Parse(tag); err != nil {
			errs = append(errs, fmt.Errorf("translation.target_language %q is not a BCP-47 tag: %w", tag, err))
		}
	}
	if cfg.Translation.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("translation.max_parallel %d must not be negative", cfg.Translation.MaxParallel))
	}
	errs = appendNegative(errs, "translation.request_timeout", cfg.Translation.RequestTimeout)
	if !cfg.Translation.Cache.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("translation.cache.driver %q is invalid; valid values: sqlite, postgres", cfg.Translation.Cache.Driver))
	} else if cfg.Translation.Cache.Driver != CacheNone && cfg.Translation.Cache.DSN == "" {
		errs = append(errs, fmt.Errorf("translation.cache.dsn is required for driver %q", cfg.Translation.Cache.Driver))
	}

	// Pipeline
	errs = appendNegative(errs, "pipeline.fetch_timeout", cfg.Pipeline.FetchTimeout)
	errs = appendNegative(errs, "pipeline.navigation_settle", cfg.Pipeline.NavigationSettle)
	errs = appendNegative(errs, "pipeline.segment_timeout", cfg.Pipeline.SegmentTimeout)
	errs = appendNegative(errs, "pipeline.block.max_duration", cfg.Pipeline.Block.MaxDuration)
	errs = appendNegative(errs, "pipeline.block.max_gap", cfg.Pipeline.Block.MaxGap)
	if cfg.Pipeline.Block.MaxFragments < 0 {
		errs = append(errs, fmt.Errorf("pipeline.block.max_fragments %d must not be negative", cfg.Pipeline.Block.MaxFragments))
	}
	if cfg.Pipeline.AISegmentation && cfg.Providers.LLM.Name == "" {
		slog.Warn("pipeline.ai_segmentation is enabled but no LLM provider is configured; the rule-based reflow will be used")
	}

	// Tuning
	t := cfg.Tuning
	errs = appendNegative(errs, "tuning.word_duration", t.WordDuration)
	errs = appendNegative(errs, "tuning.pause_timeout", t.PauseTimeout)
	for name, v := range map[string]int{
		"tuning.karaoke_main_track":                 t.KaraokeMainTrack,
		"tuning.max_line_length.logographic":        t.MaxLineLength.Logographic,
		"tuning.max_line_length.spaced":             t.MaxLineLength.Spaced,
		"tuning.scrolling_max.logographic_runes":    t.ScrollingMax.LogographicRunes,
		"tuning.scrolling_max.spaced_words":         t.ScrollingMax.SpacedWords,
		"tuning.quality_gate.long_line":             t.QualityGate.LongLine,
		"tuning.quality_gate.long_line_logographic": t.QualityGate.LongLineLogographic,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", name, v))
		}
	}
	if f := t.QualityGate.MaxFraction; f < 0 || f > 1 {
		errs = append(errs, fmt.Errorf("tuning.quality_gate.max_fraction %.2f is out of range [0, 1]", f))
	}

	// Platforms
	seen := make(map[string]int, len(cfg.Platforms))
	for i, p := range cfg.Platforms {
		prefix := fmt.Sprintf("platforms[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of platforms[%d]", prefix, p.Name, prev))
			}
			seen[p.Name] = i
		}
		if p.ControlsSelector == "" {
			errs = append(errs, fmt.Errorf("%s.controls_selector is required", prefix))
		}
		if p.NativeCaptionSelector == "" {
			slog.Warn("platform has no native caption selector; native captions will stay visible", "platform", p.Name)
		}
	}

	return errors.Join(errs...)
}

func appendNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s %s must not be negative", field, d))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) || slices.Contains(known, strings.ToLower(name)) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
