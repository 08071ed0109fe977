package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/captionflow/internal/observe"
	"github.com/MrWong99/captionflow/pkg/caption"
)

// TranslateFragments translates every non-blank fragment with at most limit
// concurrent calls and returns copies with Translation set. The first
// failure cancels the remaining calls. The input is not modified.
func TranslateFragments(ctx context.Context, tr Translator, frags []caption.Fragment, source, target string, limit int) ([]caption.Fragment, error) {
	if limit <= 0 {
		limit = DefaultMaxParallel
	}
	out := caption.Clone(frags)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range out {
		if strings.TrimSpace(out[i].Text) == "" {
			continue
		}
		g.Go(func() error {
			text, err := tr.TranslateText(gctx, out[i].Text, source, target)
			if err != nil {
				return fmt.Errorf("pipeline: translate fragment at %dms: %w", out[i].StartMs, err)
			}
			out[i].Translation = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// translateBlock translates b and posts the joined result. It runs on its own
// goroutine and never touches loop state.
func (o *Orchestrator) translateBlock(gen uint64, b caption.Block, source, target string) {
	ctx, span := observe.StartSpan(o.ctx, "pipeline.translate_block",
		observe.SessionIDKey.String(o.cfg.Store.ID()),
		observe.BlockIDKey.Int(b.ID),
		attribute.Int("captionflow.block.fragments", len(b.Fragments)),
		observe.SourceLangKey.String(source),
		observe.TargetLangKey.String(target),
	)

	start := time.Now()
	out, err := TranslateFragments(ctx, o.cfg.Translator, b.Fragments, source, target, o.cfg.MaxParallel)
	observe.EndSpan(span, err)
	o.post(blockCompleted{gen: gen, id: b.ID, frags: out, err: err, elapsed: time.Since(start)})
}
