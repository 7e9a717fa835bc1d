package core

import (
	"context"
	"time"
)

// Source is an upstream trade feed for one liquidity pool.
type Source interface {
	// Name identifies the source ("ston", "dedust").
	Name() string
	// Kind reports how the upstream exposes new trades.
	Kind() SourceKind
	// Head returns the current upstream resumption point: the latest block
	// for block-oriented feeds, or the maximum ordering key of the current
	// page for list-oriented feeds. Used to establish warmup baselines.
	Head(ctx context.Context, cfg SourceConfig) (uint64, error)
	// Fetch returns raw trade records newer than cursor plus a candidate
	// cursor. Implementations cap the fetched range/page; excess history is
	// deliberately not fetched.
	Fetch(ctx context.Context, cfg SourceConfig, cursor uint64) (FetchResult, error)
}

// FetchResult is one page of raw records plus the cursor candidate the
// orchestrator may advance to after processing them.
type FetchResult struct {
	Records []RawTrade
	// Cursor is the candidate watermark: the upstream head for block feeds,
	// the maximum derived ordering key for list feeds.
	Cursor uint64
}

// Notifier delivers one buy alert to the chat owning the tracked pair.
// The pipeline attempts each event at most once per cycle and relies on the
// dedup cache, not the notifier, for exactly-once semantics.
type Notifier interface {
	Emit(ctx context.Context, pair *TrackedPair, event BuyEvent) error
}

// NotifierWithStart is a notifier that also runs its own receive loop,
// such as the Telegram long poller.
type NotifierWithStart interface {
	Notifier
	Start()
}

// PriceOracle provides the native-to-fiat conversion rate. Implementations
// cache aggressively; ErrUnavailable signals a feed outage, which the
// threshold filter treats as fail-open.
type PriceOracle interface {
	NativeUSD(ctx context.Context) (float64, error)
}

// PoolResolver maps a token address to its most liquid pool per source.
// Treated as a provided lookup; a failed resolution leaves the source
// disabled until reconfigured.
type PoolResolver interface {
	ResolvePools(ctx context.Context, tokenAddress string) (map[string]string, error)
}

// PairStorage persists tracked pair configuration.
type PairStorage interface {
	SavePair(ctx context.Context, pair *TrackedPair) error
	Pair(ctx context.Context, id string) (*TrackedPair, error)
	Pairs(ctx context.Context, filters ...PairFilter) ([]*TrackedPair, error)
	RemovePair(ctx context.Context, id string) error
}

// CursorStorage persists per (pair, source, pool) watermarks. Advancing is
// the only mutation; a stored watermark never moves backward.
type CursorStorage interface {
	Watermark(ctx context.Context, pairID, source, pool string) (uint64, bool, error)
	AdvanceWatermark(ctx context.Context, pairID, source, pool string, value uint64) error
	ClearWatermarks(ctx context.Context, pairID string) error
}

// Storage bundles everything the bot persists.
type Storage interface {
	PairStorage
	CursorStorage
	Close() error
}

// PairFilter selects pairs in PairStorage queries.
type PairFilter func(pair TrackedPair) bool

// WithActive selects pairs that are not paused.
func WithActive() PairFilter {
	return func(pair TrackedPair) bool {
		return !pair.Paused
	}
}

// WithAsset selects pairs tracking the given token address.
func WithAsset(address string) PairFilter {
	return func(pair TrackedPair) bool {
		return pair.AssetAddress == address
	}
}

// WithUpdatedBefore selects pairs last updated at or before the given time.
func WithUpdatedBefore(t time.Time) PairFilter {
	return func(pair TrackedPair) bool {
		return !pair.UpdatedAt.After(t)
	}
}
