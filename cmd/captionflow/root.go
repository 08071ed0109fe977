package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/captionflow/internal/config"
	"github.com/MrWong99/captionflow/pkg/provider/llm"
)

// defaultConfigPath is read when --config is not given. A missing default
// file means built-in defaults.
const defaultConfigPath = "captionflow.yaml"

// commandContext carries state shared by all subcommands.
type commandContext struct {
	configFlag string

	cfg  *config.Config
	path string

	// newLLM builds the translation provider from the config. Tests replace
	// it with a mock.
	newLLM func(cfg *config.Config, logger *slog.Logger) (llm.Provider, error)
}

func newCommandContext() *commandContext {
	return &commandContext{newLLM: buildLLM}
}

// config loads the configuration once and caches it.
func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := c.configFlag
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		c.path = path
	case c.configFlag == "" && errors.Is(err, fs.ErrNotExist):
		cfg, err = config.LoadBytes(nil)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(newCommandContext())
}

func newRootCommandWith(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "captionflow",
		Short:         "Bilingual caption pipeline for streaming video",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "",
		fmt.Sprintf("Configuration file path (default %q when present)", defaultConfigPath))

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newParseCommand(ctx))
	rootCmd.AddCommand(newTranslateCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))
	return rootCmd
}

// newLogger builds the stderr text logger whose level follows v.
func newLogger(v *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: v}))
}
