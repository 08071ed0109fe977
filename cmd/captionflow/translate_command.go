package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MrWong99/captionflow/internal/app"
	"github.com/MrWong99/captionflow/internal/parse"
	"github.com/MrWong99/captionflow/internal/pipeline"
	"github.com/MrWong99/captionflow/internal/reflow"
	"github.com/MrWong99/captionflow/internal/schedule"
	"github.com/MrWong99/captionflow/internal/segment"
	"github.com/MrWong99/captionflow/internal/translate"
	"github.com/MrWong99/captionflow/internal/translate/cache"
	"github.com/MrWong99/captionflow/pkg/caption"
)

func newTranslateCommand(ctx *commandContext) *cobra.Command {
	var (
		wire      string
		language  string
		target    string
		aiSegment bool
		output    string
	)

	cmd := &cobra.Command{
		Use:   "translate <file|->",
		Short: "Translate a caption payload offline and print bilingual captions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if target == "" {
				target = cfg.Translation.TargetLanguage
			}
			if cmd.Flags().Changed("ai-segment") {
				cfg.Pipeline.AISegmentation = aiSegment
			}

			var level slog.LevelVar
			level.Set(app.SlogLevel(cfg.Server.LogLevel))
			logger := newLogger(&level)

			events, err := readEvents(cmd.InOrStdin(), args[0], wire)
			if err != nil {
				return err
			}

			provider, err := ctx.newLLM(cfg, logger)
			if err != nil {
				return err
			}
			opts := []translate.Option{
				translate.WithLogger(logger),
				translate.WithTimeout(cfg.Translation.RequestTimeout),
				translate.WithProviderName(cfg.Providers.LLM.Name),
			}
			if cc := cfg.Translation.Cache; cc.Driver != "" {
				c, err := cache.Open(cmd.Context(), string(cc.Driver), cc.DSN)
				if err != nil {
					return err
				}
				defer c.Close()
				opts = append(opts, translate.WithCache(c))
			}
			tr, err := translate.New(provider, opts...)
			if err != nil {
				return err
			}

			tun := cfg.Tuning.Caption()
			res := parse.Parse(events, parse.Options{Language: language, Tuning: tun})
			frags := res.Fragments
			if cfg.Pipeline.AISegmentation {
				bridge := segment.NewBridge(tr,
					segment.WithTimeout(cfg.Pipeline.SegmentTimeout),
					segment.WithLogger(logger),
				)
				frags = bridge.Segment(cmd.Context(), frags, filepath.Base(args[0]))
			} else {
				frags = reflow.New(res.Family, reflow.WithTuning(tun), reflow.WithLogger(logger)).Optimize(frags)
			}

			blocks := schedule.Build(frags, schedule.DurationPartitioner{
				MaxDuration:  cfg.Pipeline.Block.MaxDuration,
				MaxFragments: cfg.Pipeline.Block.MaxFragments,
				MaxGap:       cfg.Pipeline.Block.MaxGap,
			})
			for i := schedule.Next(blocks, 0); i >= 0; i = schedule.Next(blocks, 0) {
				id := blocks[i].ID
				blocks = schedule.WithState(blocks, id, caption.BlockProcessing)
				out, err := pipeline.TranslateFragments(cmd.Context(), tr, blocks[i].Fragments, language, target, cfg.Translation.MaxParallel)
				if err != nil {
					return fmt.Errorf("translate block %d: %w", id, err)
				}
				blocks = schedule.WithTranslations(blocks, id, out)
				logger.Info("block translated", "block", id, "of", len(blocks), "fragments", len(out))
			}

			var translated []caption.Fragment
			for _, b := range blocks {
				translated = append(translated, b.Fragments...)
			}
			pc := parsedCaptions{Format: res.Format, Family: res.Family.String(), Fragments: translated}
			return writeFragments(cmd.OutOrStdout(), output, pc, true)
		},
	}
	cmd.Flags().StringVar(&wire, "wire", "", "Payload encoding: json3 or events (default: sniff)")
	cmd.Flags().StringVarP(&language, "lang", "l", "", "BCP-47 tag of the caption track")
	cmd.Flags().StringVarP(&target, "to", "t", "", "Target language (default translation.target_language)")
	cmd.Flags().BoolVar(&aiSegment, "ai-segment", false, "Re-segment with the LLM before translating")
	cmd.Flags().StringVarP(&output, "output", "o", outputAuto, "Output format: auto, table, json or vtt")
	return cmd
}
