package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/spyton/buybot/core"
)

// Baseliner establishes cursors at "now" when a pair first activates or
// resumes from pause, so historical trades are never announced.
type Baseliner struct {
	cursors    core.CursorStorage
	normalizer *Normalizer
	dedup      *DedupCache
	log        core.Logger
	now        func() time.Time
}

// NewBaseliner creates a warmup controller.
func NewBaseliner(cursors core.CursorStorage, normalizer *Normalizer, dedup *DedupCache, log core.Logger) *Baseliner {
	return &Baseliner{
		cursors:    cursors,
		normalizer: normalizer,
		dedup:      dedup,
		log:        log,
		now:        time.Now,
	}
}

// Warmup sets the initial watermark for every enabled source of the pair
// and returns the ignore-before timestamp. Any upstream failure aborts the
// whole warmup so the pair is never activated with an undefined baseline;
// the orchestrator retries next cycle.
func (b *Baseliner) Warmup(ctx context.Context, pair *core.TrackedPair, sources map[string]core.Source) (time.Time, error) {
	ignoreBefore := b.now()

	for _, cfg := range pair.EnabledSources() {
		src, ok := sources[cfg.Source]
		if !ok {
			return time.Time{}, fmt.Errorf("unknown source %q for pair %s", cfg.Source, pair.ID)
		}

		switch src.Kind() {
		case core.SourceKindBlock:
			// Baseline at the exact head. Any margin below it risks
			// re-announcing pre-existing trades.
			head, err := src.Head(ctx, cfg)
			if err != nil {
				return time.Time{}, fmt.Errorf("warmup head for %s/%s: %w", pair.ID, cfg.Source, err)
			}
			if err := b.cursors.AdvanceWatermark(ctx, pair.ID, cfg.Source, cfg.Pool, head); err != nil {
				return time.Time{}, err
			}

		case core.SourceKindList:
			res, err := src.Fetch(ctx, cfg, 0)
			if err != nil {
				return time.Time{}, fmt.Errorf("warmup fetch for %s/%s: %w", pair.ID, cfg.Source, err)
			}
			if res.Cursor > 0 {
				if err := b.cursors.AdvanceWatermark(ctx, pair.ID, cfg.Source, cfg.Pool, res.Cursor); err != nil {
					return time.Time{}, err
				}
			}
			// Pre-existing trades on the current page are marked seen so an
			// overlap in the first real poll cannot resurface them even when
			// their ordering keys are ambiguous.
			for _, raw := range res.Records {
				if id := b.normalizer.Identity(raw); id != "" {
					b.dedup.MarkSeen(pair.ID, id)
				}
			}
		}

		b.log.Debugf("warmed %s/%s pool=%s", pair.ID, cfg.Source, cfg.Pool)
	}

	return ignoreBefore, nil
}
