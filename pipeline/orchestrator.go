package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/samber/lo"
	"github.com/spyton/buybot/core"
)

const (
	defaultWorkers     = 8
	defaultUnitTimeout = 25 * time.Second
)

// pairState is the orchestrator's in-memory lifecycle record for one pair:
// Uninitialized -> Warmed -> Active -> Paused -> (re-warm) -> Removed.
type pairState struct {
	mu           sync.Mutex
	inflight     bool
	warmed       bool
	warmedAt     time.Time
	ignoreBefore time.Time
}

// tryAcquire serializes cycles per pair: a cycle that finds the previous
// one still running skips the pair instead of racing its cursor advances.
func (s *pairState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *pairState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

// markPaused freezes the pair; the next activation re-warms so trades that
// happened while paused are not flooded out.
func (s *pairState) markPaused() {
	s.mu.Lock()
	s.warmed = false
	s.mu.Unlock()
}

// Orchestrator drives one poll cycle across all tracked pairs and sources,
// wiring fetch, normalization, ordering, filtering and notification
// together while isolating failures per (pair, source).
type Orchestrator struct {
	pairs      core.PairStorage
	cursors    core.CursorStorage
	sources    map[string]core.Source
	notifier   core.Notifier
	normalizer *Normalizer
	baseliner  *Baseliner
	threshold  *ThresholdFilter
	dedup      *DedupCache
	burst      *BurstLimiter
	log        core.Logger

	pool        pond.Pool
	unitTimeout time.Duration

	mu     sync.Mutex
	states map[string]*pairState
}

// OrchestratorOption configures the orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithWorkers bounds the number of pairs processed concurrently per cycle.
func WithWorkers(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pool = pond.NewPool(n)
		}
	}
}

// WithUnitTimeout bounds each (pair, source) fetch plus its notifications.
func WithUnitTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.unitTimeout = timeout
		}
	}
}

// WithDedup replaces the default dedup cache.
func WithDedup(dedup *DedupCache) OrchestratorOption {
	return func(o *Orchestrator) {
		o.dedup = dedup
	}
}

// WithBurst replaces the default burst limiter.
func WithBurst(burst *BurstLimiter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.burst = burst
	}
}

// NewOrchestrator wires the pipeline together. All caches and rate state
// are owned here and injected into the components, keeping per-pair test
// isolation possible.
func NewOrchestrator(
	storage core.Storage,
	sources []core.Source,
	notifier core.Notifier,
	oracle core.PriceOracle,
	log core.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		pairs:       storage,
		cursors:     storage,
		sources:     make(map[string]core.Source, len(sources)),
		notifier:    notifier,
		normalizer:  NewNormalizer(log),
		threshold:   NewThresholdFilter(oracle, log),
		dedup:       NewDedupCache(),
		burst:       NewBurstLimiter(),
		log:         log,
		pool:        pond.NewPool(defaultWorkers),
		unitTimeout: defaultUnitTimeout,
		states:      make(map[string]*pairState),
	}

	for _, src := range sources {
		o.sources[src.Name()] = src
	}

	for _, opt := range opts {
		opt(o)
	}

	o.baseliner = NewBaseliner(storage, o.normalizer, o.dedup, log)

	return o
}

// Cycle runs one poll across all tracked pairs. Pairs are processed
// concurrently on the bounded pool; a pair whose previous cycle is still
// in flight is skipped. Cycle returns only when every submitted pair
// finished.
func (o *Orchestrator) Cycle(ctx context.Context) error {
	pairs, err := o.pairs.Pairs(ctx)
	if err != nil {
		return err
	}

	group := o.pool.NewGroup()
	alive := make(map[string]struct{}, len(pairs))

	for _, pair := range pairs {
		alive[pair.ID] = struct{}{}
		state := o.state(pair.ID)

		if pair.Paused {
			state.markPaused()
			continue
		}

		if !state.tryAcquire() {
			o.log.Debugf("pair %s still in flight, skipping cycle", pair.ID)
			continue
		}

		pair := pair
		group.Submit(func() {
			defer state.release()
			o.runPair(ctx, pair, state)
		})
	}

	group.Wait()
	o.collectRemoved(alive)

	return nil
}

// Stop drains the worker pool. Pending cycles finish; new ones are
// rejected.
func (o *Orchestrator) Stop() {
	o.pool.StopAndWait()
}

// state returns the lifecycle record for a pair, creating it on first use.
func (o *Orchestrator) state(pairID string) *pairState {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[pairID]
	if !ok {
		st = &pairState{}
		o.states[pairID] = st
	}
	return st
}

// collectRemoved garbage-collects in-memory state for pairs that no longer
// exist in storage.
func (o *Orchestrator) collectRemoved(alive map[string]struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.states {
		if _, ok := alive[id]; !ok {
			delete(o.states, id)
			o.dedup.RemovePair(id)
			o.burst.RemovePair(id)
		}
	}
}

// runPair processes one pair for one cycle. A pair that is not warmed yet
// only warms up this cycle; processing starts on the next one.
func (o *Orchestrator) runPair(ctx context.Context, pair *core.TrackedPair, state *pairState) {
	state.mu.Lock()
	// A pair reconfigured after its warmup (re-watched asset, changed
	// sources) is re-baselined: the old cursors and ignore-before no
	// longer describe what it now tracks.
	if state.warmed && pair.UpdatedAt.After(state.warmedAt) {
		state.warmed = false
	}
	warmed := state.warmed
	ignoreBefore := state.ignoreBefore
	state.mu.Unlock()

	if !warmed {
		wctx, cancel := context.WithTimeout(ctx, o.unitTimeout)
		defer cancel()

		baseline, err := o.baseliner.Warmup(wctx, pair, o.sources)
		if err != nil {
			// Activation deferred; the pair is retried next cycle rather
			// than started with an undefined baseline.
			o.log.WithError(err).Debugf("warmup deferred for pair %s", pair.ID)
			return
		}

		state.mu.Lock()
		state.warmed = true
		state.warmedAt = baseline
		state.ignoreBefore = baseline
		state.mu.Unlock()
		return
	}

	for _, cfg := range pair.EnabledSources() {
		src, ok := o.sources[cfg.Source]
		if !ok {
			o.log.Warnf("pair %s references unknown source %q", pair.ID, cfg.Source)
			continue
		}

		if err := o.runSource(ctx, pair, cfg, src, ignoreBefore); err != nil {
			// Absorbed at the unit boundary: no progress for this
			// (pair, source) this cycle, other units continue.
			o.log.WithError(err).Debugf("cycle skipped for %s/%s", pair.ID, cfg.Source)
		}
	}
}

// orderedRecord pairs a raw record with its derived ordering key.
type orderedRecord struct {
	raw core.RawTrade
	key uint64
}

// runSource executes fetch -> normalize -> order -> filter chain -> notify
// for one (pair, source) unit and commits cursor/dedup state afterwards.
func (o *Orchestrator) runSource(
	ctx context.Context,
	pair *core.TrackedPair,
	cfg core.SourceConfig,
	src core.Source,
	ignoreBefore time.Time,
) error {
	uctx, cancel := context.WithTimeout(ctx, o.unitTimeout)
	defer cancel()

	cursor, haveCursor, err := o.cursors.Watermark(uctx, pair.ID, cfg.Source, cfg.Pool)
	if err != nil {
		return err
	}

	res, err := src.Fetch(uctx, cfg, cursor)
	if err != nil {
		return err
	}

	records := o.orderRecords(pair.ID, cfg.Source, res.Records)

	advance := cursor
	commit := func(key uint64) {
		if key > advance {
			advance = key
		}
	}

	emitFailed := false

	for _, rec := range records {
		if haveCursor && rec.key <= cursor {
			continue
		}

		// Pre-warmup trades are never announced, whatever the cursor type.
		if !rec.raw.Time.IsZero() && rec.raw.Time.Before(ignoreBefore) {
			commit(rec.key)
			continue
		}
		if !haveCursor && rec.raw.Time.IsZero() {
			// Without a watermark the baseline timestamp is the only
			// eligibility signal; a record lacking it stays unannounced.
			commit(rec.key)
			continue
		}

		event, err := o.normalizer.Normalize(rec.raw, pair)
		if err != nil {
			if !errors.Is(err, ErrNotBuy) {
				o.log.WithError(err).Debugf("record discarded for %s/%s", pair.ID, cfg.Source)
			}
			commit(rec.key)
			continue
		}
		event.Source = cfg.Source

		if !o.threshold.Passes(uctx, event, pair) {
			commit(rec.key)
			continue
		}

		if o.dedup.SeenRecently(pair.ID, event.Identity) {
			commit(rec.key)
			continue
		}

		if !o.burst.TryConsume(pair.ID, pair.AntiSpam) {
			// Deliberate drop: marked seen and advanced, never retried.
			o.dedup.MarkSeen(pair.ID, event.Identity)
			commit(rec.key)
			continue
		}

		if err := o.notifier.Emit(uctx, pair, event); err != nil {
			// The watermark stays before this event so it survives to be
			// retried next cycle. An earlier event sharing the same key may
			// already have raised advance to it; cap below the failed key.
			// The dedup cache keeps the refetch from re-announcing that one.
			o.log.WithError(err).Warnf("emit failed for %s/%s", pair.ID, cfg.Source)
			emitFailed = true
			if rec.key > 0 && advance >= rec.key {
				advance = rec.key - 1
			}
			break
		}

		o.dedup.MarkSeen(pair.ID, event.Identity)
		commit(rec.key)
	}

	if !emitFailed && res.Cursor > advance {
		// Block feeds advance to head even with zero matching records so
		// the window keeps moving; list feeds advance to the max key seen.
		advance = res.Cursor
	}

	if advance > cursor {
		return o.cursors.AdvanceWatermark(uctx, pair.ID, cfg.Source, cfg.Pool, advance)
	}

	return nil
}

// orderRecords derives per-record ordering keys and sorts ascending, so
// notifications for one pair are never emitted out of chronological order
// even when the upstream page was unordered. Unorderable records are
// dropped with a diagnostic and never block the orderable ones.
func (o *Orchestrator) orderRecords(pairID, source string, raws []core.RawTrade) []orderedRecord {
	records := lo.FilterMap(raws, func(raw core.RawTrade, _ int) (orderedRecord, bool) {
		key, ok := raw.OrderKey()
		if !ok {
			o.log.Warnf("unorderable record from %s for pair %s, skipping", source, pairID)
			return orderedRecord{}, false
		}
		return orderedRecord{raw: raw, key: key}, true
	})

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].key < records[j].key
	})

	return records
}
