package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/captionflow/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigProvidersCommand())
	return configCmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report every validation error",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			source := ctx.path
			if source == "" {
				source = "(built-in defaults)"
			}
			fmt.Fprintf(out, "Configuration valid: %s\n", source)
			fmt.Fprintln(out, startupSummary(cfg))
			return nil
		},
	}
}

func newConfigProvidersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the LLM provider names accepted in providers.llm",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			rows := make([][]string, 0)
			for _, name := range reg.LLMNames() {
				rows = append(rows, []string{name})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"LLM provider"}, rows, nil))
			return nil
		},
	}
}
