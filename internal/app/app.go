// Package app wires all captionflow subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject test doubles via functional options (WithCache,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/captionflow/internal/config"
	"github.com/MrWong99/captionflow/internal/health"
	"github.com/MrWong99/captionflow/internal/observe"
	"github.com/MrWong99/captionflow/internal/pipeline"
	"github.com/MrWong99/captionflow/internal/schedule"
	"github.com/MrWong99/captionflow/internal/server"
	"github.com/MrWong99/captionflow/internal/session"
	"github.com/MrWong99/captionflow/internal/translate"
	"github.com/MrWong99/captionflow/internal/translate/cache"
	"github.com/MrWong99/captionflow/pkg/provider/llm"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry.
type Providers struct {
	// LLM serves translation and AI segmentation. Usually a
	// resilience.LLMFallback when fallbacks are configured.
	LLM llm.Provider
}

// readinessProbe is implemented by providers that can report whether they
// currently accept calls.
type readinessProbe interface {
	Ready(ctx context.Context) error
}

// App owns all subsystem lifetimes of the captionflow daemon.
type App struct {
	providers *Providers
	settings  *Settings
	logger    *slog.Logger
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar

	// metricsHandler replaces the server's default /metrics handler.
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	cache      cache.Cache
	translator *translate.Translator
	sessions   *session.Registry
	health     *health.Handler
	handler    http.Handler
	httpServer *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCache injects a translation cache instead of opening one from config.
// The injected cache is not closed on Shutdown.
func WithCache(c cache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetricsHandler serves /metrics from h, typically
// [observe.Telemetry.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets configuration reloads adjust the log level of the
// handler built around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: translation cache, the
// translation backend, the session registry and the HTTP handler. It does
// not start listening; call [App.Run] for that.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{
		providers: providers,
		settings:  NewSettings(cfg),
		logger:    slog.Default(),
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Translation cache ─────────────────────────────────────────────
	if err := a.initCache(ctx, cfg.Translation.Cache); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	// ── 2. Translation backend ───────────────────────────────────────────
	if err := a.initTranslator(cfg); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init translator: %w", err)
	}

	// ── 3. Sessions ──────────────────────────────────────────────────────
	a.sessions = session.NewRegistry(a.buildPipeline,
		session.WithIdleTimeout(idleTimeout(cfg.Server.SessionIdleTimeout)),
		session.WithLogger(a.logger),
		session.WithMetrics(a.metrics),
	)

	// ── 4. Health + HTTP ─────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)
	srvOpts := []server.Option{
		server.WithLogger(a.logger),
		server.WithMetrics(a.metrics),
		server.WithHealth(a.health),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		server.WithAuthSecret(cfg.Server.AuthSecret),
	}
	if a.metricsHandler != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(a.metricsHandler))
	}
	a.handler = server.New(a.sessions, srvOpts...)

	a.logger.Info("app initialised",
		"platforms", len(cfg.Platforms),
		"target_language", cfg.Translation.TargetLanguage,
		"cache", string(cfg.Translation.Cache.Driver),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCache opens the configured translation cache unless one was injected.
func (a *App) initCache(ctx context.Context, cc config.CacheConfig) error {
	if a.cache != nil || cc.Driver == config.CacheNone {
		return nil
	}
	c, err := cache.Open(ctx, string(cc.Driver), cc.DSN)
	if err != nil {
		return err
	}
	a.cache = c
	a.closers = append(a.closers, c.Close)
	return nil
}

// initTranslator builds the translation backend over the LLM provider.
func (a *App) initTranslator(cfg *config.Config) error {
	opts := []translate.Option{
		translate.WithMetrics(a.metrics),
		translate.WithLogger(a.logger),
		translate.WithTimeout(cfg.Translation.RequestTimeout),
	}
	if name := cfg.Providers.LLM.Name; name != "" {
		opts = append(opts, translate.WithProviderName(name))
	}
	if a.cache != nil {
		opts = append(opts, translate.WithCache(a.cache))
	}
	t, err := translate.New(a.providers.LLM, opts...)
	if err != nil {
		return err
	}
	a.translator = t
	return nil
}

// checkers returns the readiness checks for the configured subsystems.
func (a *App) checkers() []health.Checker {
	var cs []health.Checker
	if p, ok := a.providers.LLM.(readinessProbe); ok {
		cs = append(cs, health.Checker{Name: "llm", Check: p.Ready})
	}
	if c := a.cache; c != nil {
		cs = append(cs, health.Checker{Name: "cache", Optional: true, Check: func(ctx context.Context) error {
			_, err := c.Get(ctx, cache.Key{Source: "und", Target: "und"})
			if err == nil || errors.Is(err, cache.ErrMiss) {
				return nil
			}
			return err
		}})
	}
	return cs
}

// buildPipeline assembles the pipeline configuration for a new session on
// platform from the current configuration.
func (a *App) buildPipeline(platform string) (pipeline.Config, error) {
	cfg := a.settings.Config()
	p, ok := cfg.Platform(platform)
	if !ok {
		return pipeline.Config{}, fmt.Errorf("app: unknown platform %q", platform)
	}
	return pipeline.Config{
		Platform: pipeline.Platform{
			Name:                  p.Name,
			VideoSelector:         p.VideoSelector,
			ContainerSelector:     p.ContainerSelector,
			ControlsSelector:      p.ControlsSelector,
			NativeCaptionSelector: p.NativeCaptionSelector,
			NavigationEvent:       p.NavigationEvent,
		},
		Translator: a.translator,
		Settings:   a.settings,
		Tuning:     cfg.Tuning.Caption(),
		Partitioner: schedule.DurationPartitioner{
			MaxDuration:  cfg.Pipeline.Block.MaxDuration,
			MaxFragments: cfg.Pipeline.Block.MaxFragments,
			MaxGap:       cfg.Pipeline.Block.MaxGap,
		},
		Policy:           schedule.Policy{RetryErrored: cfg.Pipeline.RetryErroredBlocks},
		FetchTimeout:     cfg.Pipeline.FetchTimeout,
		NavigationSettle: cfg.Pipeline.NavigationSettle,
		SegmentTimeout:   cfg.Pipeline.SegmentTimeout,
		MaxParallel:      cfg.Translation.MaxParallel,
	}, nil
}

// idleTimeout maps the configured value onto the registry's convention:
// zero keeps the default and negative disables eviction.
func idleTimeout(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return session.DefaultIdleTimeout
	case d < 0:
		return 0
	}
	return d
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the daemon routes.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session registry.
func (a *App) Sessions() *session.Registry { return a.sessions }

// Translator returns the translation backend.
func (a *App) Translator() *translate.Translator { return a.translator }

// Settings returns the live settings shared with every session.
func (a *App) Settings() *Settings { return a.settings }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig makes next the active configuration. Pipeline switches and the
// target language take effect at the next decision point of every session;
// tuning and platform changes apply to sessions created afterwards. Changes
// that need a restart are logged and otherwise ignored.
func (a *App) ApplyConfig(next *config.Config) {
	d := config.Diff(a.settings.Config(), next)
	if d.Empty() {
		return
	}
	a.settings.Store(next)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
	}
	a.logger.Info("configuration applied",
		"log_level_changed", d.LogLevelChanged,
		"settings_changed", d.SettingsChanged,
		"tuning_changed", d.TuningChanged,
		"platforms_changed", d.PlatformsChanged,
	)
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("configuration changes require a restart", "fields", d.RestartRequired)
	}
}

// SlogLevel converts a configured log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	cfg := a.settings.Config()
	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. It also runs the
// session eviction loop.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	cfg := a.settings.Config()
	a.httpServer = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = a.httpServer.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})

	a.logger.Info("app running", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))

		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("http shutdown error", "err", err)
			}
		}
		a.sessions.CloseAll()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what New opened before it failed.
func (a *App) runClosers() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
