package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/captionflow/internal/app"
	"github.com/MrWong99/captionflow/internal/config"
	"github.com/MrWong99/captionflow/internal/observe"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listenAddr string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the companion daemon for the browser extension",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}
			return runServe(cmd.Context(), ctx, cfg, watch, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Override server.listen_addr")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload the configuration file when it changes")
	return cmd
}

func runServe(parent context.Context, cc *commandContext, cfg *config.Config, watch bool, summary io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := newLogger(&level)
	slog.SetDefault(logger)

	logger.Info("captionflow starting",
		"config", cc.path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(parent, observe.TelemetryConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	provider, err := cc.newLLM(cfg, logger)
	if err != nil {
		return err
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, &app.Providers{LLM: provider},
		app.WithLogger(logger),
		app.WithLevelVar(&level),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(tel.Handler()),
	)
	if err != nil {
		return err
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	if watch && cc.path != "" {
		w, err := config.NewWatcher(cc.path, func(next *config.Config, _ config.ConfigDiff) {
			application.ApplyConfig(next)
		}, config.WithWatcherLogger(logger))
		if err != nil {
			logger.Warn("config watcher disabled", "path", cc.path, "err", err)
		} else {
			go w.Run(ctx)
		}
	}

	fmt.Fprintln(summary, startupSummary(cfg))

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Info("goodbye")
	return nil
}

// startupSummary renders the effective daemon settings as a table.
func startupSummary(cfg *config.Config) string {
	llmValue := cfg.Providers.LLM.Name
	if cfg.Providers.LLM.Model != "" {
		llmValue += " / " + cfg.Providers.LLM.Model
	}
	cacheValue := "(disabled)"
	if cfg.Translation.Cache.Driver != config.CacheNone {
		cacheValue = string(cfg.Translation.Cache.Driver)
	}
	auth := "(disabled)"
	if cfg.Server.AuthSecret != "" {
		auth = "bearer token"
	}
	rows := [][]string{
		{"Listen addr", cfg.Server.ListenAddr},
		{"LLM", llmValue},
		{"LLM fallbacks", fmt.Sprint(len(cfg.Providers.LLMFallbacks))},
		{"Target language", cfg.Translation.TargetLanguage},
		{"Cache", cacheValue},
		{"Auto start", fmt.Sprint(cfg.Pipeline.AutoStart)},
		{"AI segmentation", fmt.Sprint(cfg.Pipeline.AISegmentation)},
		{"Platforms", fmt.Sprint(len(cfg.Platforms))},
		{"Auth", auth},
	}
	return renderTable([]string{"Setting", "Value"}, rows, nil)
}
