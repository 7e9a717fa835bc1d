// Package bot wires storage, sources, market lookups, the pipeline and the
// Telegram surface into a runnable service.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/spyton/buybot/core"
	"github.com/spyton/buybot/market"
	"github.com/spyton/buybot/notification"
	"github.com/spyton/buybot/pipeline"
	"github.com/spyton/buybot/source"
	"github.com/spyton/buybot/storage"
)

// Bot represents the assembled buy watcher
type Bot struct {
	settings *core.Settings
	log      core.Logger

	storage  core.Storage
	sources  []core.Source
	notifier core.Notifier
	telegram core.NotifierWithStart
	oracle   core.PriceOracle
	resolver core.PoolResolver
	gecko    *market.Gecko

	orchestrator *pipeline.Orchestrator
}

// Option is a function that configures a bot instance
type Option func(bot *Bot)

// WithStorage replaces the default file-backed storage.
func WithStorage(st core.Storage) Option {
	return func(b *Bot) {
		b.storage = st
	}
}

// WithNotifier replaces the Telegram notifier, mainly for tests and dry
// runs.
func WithNotifier(n core.Notifier) Option {
	return func(b *Bot) {
		b.notifier = n
	}
}

// WithSources replaces the default STON.fi and DeDust feeds.
func WithSources(sources ...core.Source) Option {
	return func(b *Bot) {
		b.sources = sources
	}
}

// WithPriceOracle replaces the CoinGecko TON/USD oracle.
func WithPriceOracle(oracle core.PriceOracle) Option {
	return func(b *Bot) {
		b.oracle = oracle
	}
}

// WithPoolResolver replaces the GeckoTerminal pool resolver.
func WithPoolResolver(resolver core.PoolResolver) Option {
	return func(b *Bot) {
		b.resolver = resolver
	}
}

// NewBot creates a bot instance with the provided settings and dependencies
func NewBot(settings *core.Settings, log core.Logger, options ...Option) (*Bot, error) {
	if err := validate(settings, log); err != nil {
		return nil, err
	}

	bot := &Bot{
		settings: settings,
		log:      log,
	}

	// Apply custom options
	for _, option := range options {
		option(bot)
	}

	if err := initializeStorage(bot); err != nil {
		return nil, err
	}

	initializeMarket(bot)
	initializeSources(bot)

	if err := initializeNotifications(bot); err != nil {
		return nil, err
	}

	bot.orchestrator = pipeline.NewOrchestrator(
		bot.storage,
		bot.sources,
		bot.notifier,
		bot.oracle,
		log,
		pipeline.WithWorkers(settings.Poll.Workers),
		pipeline.WithUnitTimeout(settings.Poll.Timeout),
		pipeline.WithDedup(pipeline.NewDedupCache(
			pipeline.WithDedupTTL(settings.Dedup.TTL),
			pipeline.WithDedupMaxBucket(settings.Dedup.MaxBucket),
		)),
		pipeline.WithBurst(pipeline.NewBurstLimiter(
			pipeline.WithBurstWindow(settings.Burst.Window),
		)),
	)

	return bot, nil
}

// validate checks if the provided settings and logger are valid
func validate(settings *core.Settings, log core.Logger) error {
	if settings == nil {
		return fmt.Errorf("settings cannot be nil")
	}

	if log == nil {
		return fmt.Errorf("logger cannot be nil")
	}

	if settings.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	return nil
}

// initializeStorage sets up the bot's data storage
func initializeStorage(bot *Bot) error {
	if bot.storage != nil {
		return nil
	}

	var err error
	bot.storage, err = storage.NewFromFile(bot.settings.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	return nil
}

// initializeMarket builds the GeckoTerminal and CoinGecko clients.
func initializeMarket(bot *Bot) {
	bot.gecko = market.NewGecko(
		bot.settings.Market.GeckoBaseURL,
		bot.log,
		market.WithPoolInfoTTL(bot.settings.Market.PoolInfoTTL),
	)

	if bot.resolver == nil {
		bot.resolver = bot.gecko
	}

	if bot.oracle == nil {
		bot.oracle = market.NewPriceCache(
			bot.settings.Market.CoinGeckoURL,
			bot.log,
			market.WithPriceTTL(bot.settings.Market.PriceTTL),
		)
	}
}

// initializeSources builds the default upstream feeds.
func initializeSources(bot *Bot) {
	if bot.sources != nil {
		return
	}

	bot.sources = []core.Source{
		source.NewSton(
			bot.settings.Sources.Ston.BaseURL,
			bot.log,
			source.WithStonMaxSpan(bot.settings.Sources.Ston.MaxSpan),
		),
		source.NewDeDust(
			bot.settings.Sources.DeDust.BaseURL,
			bot.log,
			source.WithDeDustPageLimit(bot.settings.Sources.DeDust.PageLimit),
		),
	}
}

// initializeNotifications builds the Telegram surface when enabled.
func initializeNotifications(bot *Bot) error {
	if bot.settings.Telegram.Enabled {
		telegram, err := notification.NewTelegram(
			bot.storage,
			bot.resolver,
			bot.settings,
			bot.log,
			notification.WithMarketData(bot.gecko),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize telegram: %w", err)
		}

		bot.telegram = telegram
		if bot.notifier == nil {
			bot.notifier = telegram
		}
	}

	if bot.notifier == nil {
		return fmt.Errorf("no notifier configured")
	}

	return nil
}

// Storage exposes the pair store, mainly for seeding and tests.
func (b *Bot) Storage() core.Storage {
	return b.storage
}

// Run starts the Telegram poller and the ingestion loop, blocking until the
// context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	if b.telegram != nil {
		b.telegram.Start()
	}

	defer b.orchestrator.Stop()
	defer b.storage.Close()

	b.log.Infof("polling every %s", b.settings.Poll.Interval)

	ticker := time.NewTicker(b.settings.Poll.Interval)
	defer ticker.Stop()

	for {
		if err := b.orchestrator.Cycle(ctx); err != nil {
			// A cycle failure is a storage listing failure; sources and
			// notifications have their own per-unit isolation.
			b.log.WithError(err).Error("poll cycle failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
