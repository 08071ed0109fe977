package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SettingsChanged is true when a user preference read by running
	// sessions changed (auto start, AI segmentation or target language).
	SettingsChanged bool

	// TuningChanged is true when parser or reflow constants changed. Only
	// sessions created afterwards see the new values.
	TuningChanged bool

	// PlatformsChanged is true when any platform descriptor was added,
	// removed or edited.
	PlatformsChanged bool

	// RestartRequired lists the changed fields that only take effect after
	// the daemon restarts.
	RestartRequired []string
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SettingsChanged && !d.TuningChanged &&
		!d.PlatformsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline.AutoStart != new.Pipeline.AutoStart ||
		old.Pipeline.AISegmentation != new.Pipeline.AISegmentation ||
		old.Translation.TargetLanguage != new.Translation.TargetLanguage {
		d.SettingsChanged = true
	}

	d.TuningChanged = old.Tuning != new.Tuning
	d.PlatformsChanged = !slices.Equal(old.Platforms, new.Platforms)

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.AuthSecret != new.Server.AuthSecret {
		d.RestartRequired = append(d.RestartRequired, "server.auth_secret")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server.allowed_origins")
	}
	if old.Server.SessionIdleTimeout != new.Server.SessionIdleTimeout {
		d.RestartRequired = append(d.RestartRequired, "server.session_idle_timeout")
	}
	if old.Server.TraceSampleRatio != new.Server.TraceSampleRatio {
		d.RestartRequired = append(d.RestartRequired, "server.trace_sample_ratio")
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if !providerEqual(old.Providers.LLM, new.Providers.LLM) ||
		!slices.EqualFunc(old.Providers.LLMFallbacks, new.Providers.LLMFallbacks, providerEqual) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Translation.Cache != new.Translation.Cache {
		d.RestartRequired = append(d.RestartRequired, "translation.cache")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// providerEqual compares the scalar fields of two entries. Options maps are
// not compared.
func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
