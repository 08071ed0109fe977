// Package config provides the configuration schema, loader, and provider
// registry for the captionflow daemon and CLI.
package config

import (
	"time"

	"github.com/MrWong99/captionflow/pkg/caption"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CacheDriver selects the translation cache backend.
type CacheDriver string

const (
	CacheNone     CacheDriver = ""
	CacheSQLite   CacheDriver = "sqlite"
	CachePostgres CacheDriver = "postgres"
)

// IsValid reports whether d is a recognised cache driver.
func (d CacheDriver) IsValid() bool {
	switch d {
	case CacheNone, CacheSQLite, CachePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Translation TranslationConfig `yaml:"translation"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Tuning      TuningConfig      `yaml:"tuning"`
	Platforms   []PlatformConfig  `yaml:"platforms"`
}

// ServerConfig holds network, security and logging settings for the daemon.
type ServerConfig struct {
	// ListenAddr is the TCP address the daemon listens on (e.g., "127.0.0.1:7390").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists the browser origins allowed to call the daemon.
	// Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AuthSecret enables HS256 bearer tokens on the session routes when set.
	AuthSecret string `yaml:"auth_secret"`

	// SessionIdleTimeout evicts sessions whose page has been silent this
	// long. Zero uses the default; negative disables eviction.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// TraceSampleRatio is the fraction of new traces recorded. Zero or one
	// records every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the LLM used for translation and segmentation,
// plus ordered fallbacks tried when it fails.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the configuration block of one provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "anyllm:anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// TranslationConfig configures the translation backend.
type TranslationConfig struct {
	// TargetLanguage is the BCP-47 tag captions are translated into.
	TargetLanguage string `yaml:"target_language"`

	// MaxParallel bounds concurrent requests for one block.
	MaxParallel int `yaml:"max_parallel"`

	// RequestTimeout bounds one completion request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Cache configures the translation cache. An empty driver disables it.
	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig selects and locates the translation cache.
type CacheConfig struct {
	Driver CacheDriver `yaml:"driver"`

	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// PipelineConfig holds the user-facing pipeline switches and timings.
type PipelineConfig struct {
	// AutoStart enables translation as soon as a page mounts.
	AutoStart bool `yaml:"auto_start"`

	// AISegmentation routes parsed captions through the LLM segmenter
	// instead of the rule-based reflow.
	AISegmentation bool `yaml:"ai_segmentation"`

	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	NavigationSettle time.Duration `yaml:"navigation_settle"`
	SegmentTimeout   time.Duration `yaml:"segment_timeout"`

	// RetryErroredBlocks lets the scheduler pick errored blocks again
	// without a manual retry.
	RetryErroredBlocks bool `yaml:"retry_errored_blocks"`

	Block BlockConfig `yaml:"block"`
}

// BlockConfig bounds translation blocks. Zero limits are ignored.
type BlockConfig struct {
	MaxDuration  time.Duration `yaml:"max_duration"`
	MaxFragments int           `yaml:"max_fragments"`
	MaxGap       time.Duration `yaml:"max_gap"`
}

// TuningConfig overrides the parser and reflow constants. Zero values keep
// the built-in defaults.
type TuningConfig struct {
	WordDuration     time.Duration     `yaml:"word_duration"`
	PauseTimeout     time.Duration     `yaml:"pause_timeout"`
	KaraokeMainTrack int               `yaml:"karaoke_main_track"`
	MaxLineLength    LineLengthConfig  `yaml:"max_line_length"`
	ScrollingMax     ScrollingConfig   `yaml:"scrolling_max"`
	QualityGate      QualityGateConfig `yaml:"quality_gate"`
}

// LineLengthConfig bounds reflowed line length in runes per language family.
type LineLengthConfig struct {
	Logographic int `yaml:"logographic"`
	Spaced      int `yaml:"spaced"`
}

// ScrollingConfig bounds the scrolling-ASR buffer.
type ScrollingConfig struct {
	LogographicRunes int `yaml:"logographic_runes"`
	SpacedWords      int `yaml:"spaced_words"`
}

// QualityGateConfig configures the reflow quality gate.
type QualityGateConfig struct {
	LongLine            int     `yaml:"long_line"`
	LongLineLogographic int     `yaml:"long_line_logographic"`
	MaxFraction         float64 `yaml:"max_fraction"`
}

// Caption converts t into parser tuning with defaults filled in.
func (t TuningConfig) Caption() caption.Tuning {
	return caption.Tuning{
		WordDuration:        t.WordDuration,
		PauseTimeout:        t.PauseTimeout,
		KaraokeMainTrack:    t.KaraokeMainTrack,
		MaxLineSpaced:       t.MaxLineLength.Spaced,
		MaxLineLogographic:  t.MaxLineLength.Logographic,
		ScrollingMaxWords:   t.ScrollingMax.SpacedWords,
		ScrollingMaxRunes:   t.ScrollingMax.LogographicRunes,
		LongLine:            t.QualityGate.LongLine,
		LongLineLogographic: t.QualityGate.LongLineLogographic,
		LongLineMaxFraction: t.QualityGate.MaxFraction,
	}.WithDefaults()
}

// PlatformConfig describes one video site to the page adapter and the
// pipeline. Selectors are CSS selectors evaluated in the page.
type PlatformConfig struct {
	Name                  string `yaml:"name"`
	VideoSelector         string `yaml:"video_selector"`
	ContainerSelector     string `yaml:"container_selector"`
	ControlsSelector      string `yaml:"controls_selector"`
	NativeCaptionSelector string `yaml:"native_caption_selector"`

	// NavigationEvent is the DOM event the site fires after same-page
	// navigation.
	NavigationEvent string `yaml:"navigation_event"`
}

// DefaultPlatforms returns the built-in platform descriptors used when the
// configuration declares none.
func DefaultPlatforms() []PlatformConfig {
	return []PlatformConfig{
		{
			Name:                  "youtube",
			VideoSelector:         "video.html5-main-video",
			ContainerSelector:     "#movie_player",
			ControlsSelector:      ".ytp-right-controls",
			NativeCaptionSelector: ".ytp-caption-window-container",
			NavigationEvent:       "yt-navigate-finish",
		},
	}
}

// Platform returns the descriptor named name.
func (c *Config) Platform(name string) (PlatformConfig, bool) {
	for _, p := range c.Platforms {
		if p.Name == name {
			return p, true
		}
	}
	return PlatformConfig{}, false
}
