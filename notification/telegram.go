// Package notification delivers buy alerts and hosts the Telegram command
// surface that configures tracked pairs.
package notification

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spyton/buybot/core"
	"github.com/spyton/buybot/market"
	tb "gopkg.in/tucnak/telebot.v2"
)

// Constants and regex patterns
const (
	pollingTimeout = 10 * time.Second
	commandTimeout = 30 * time.Second
)

var (
	watchRegexp  = regexp.MustCompile(`/watch\s+(?P<address>\S+)(?:\s+(?P<symbol>\w+))?`)
	minbuyRegexp = regexp.MustCompile(`/minbuy\s+(?P<amount>\d+(?:\.\d+)?)(?:\s+(?P<unit>(?i:ton|usd)))?`)
	spamRegexp   = regexp.MustCompile(`/antispam\s+(?P<level>(?i:low|med|high))`)
	hexTxRegexp  = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// MarketData supplies the best-effort figures attached to buy alerts.
type MarketData interface {
	PoolInfo(ctx context.Context, pool string) market.PoolInfo
}

// Telegram implements the core.NotifierWithStart interface
type Telegram struct {
	settings *core.Settings
	storage  core.Storage
	resolver core.PoolResolver
	market   MarketData
	client   *tb.Bot
	log      core.Logger
}

// Option is a function that configures a telegram instance
type Option func(telegram *Telegram)

// WithMarketData attaches pool market lookups to outgoing alerts.
func WithMarketData(data MarketData) Option {
	return func(t *Telegram) {
		t.market = data
	}
}

// NewTelegram creates and initializes a new Telegram service
func NewTelegram(
	storage core.Storage,
	resolver core.PoolResolver,
	settings *core.Settings,
	log core.Logger,
	options ...Option,
) (*Telegram, error) {
	poller := &tb.LongPoller{Timeout: pollingTimeout}
	middleware := newAdminMiddleware(poller, settings, log)

	client, err := initializeBotClient(settings, middleware)
	if err != nil {
		return nil, err
	}

	if err := setupCommands(client); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	bot := &Telegram{
		settings: settings,
		storage:  storage,
		resolver: resolver,
		client:   client,
		log:      log,
	}

	// Apply custom options if provided
	for _, option := range options {
		option(bot)
	}

	registerHandlers(client, bot)

	return bot, nil
}

// initializeBotClient creates and configures the Telegram bot client
func initializeBotClient(settings *core.Settings, middleware *tb.MiddlewarePoller) (*tb.Bot, error) {
	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     settings.Telegram.Token,
		Poller:    middleware,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return client, nil
}

// newAdminMiddleware creates a middleware that drops configuration commands
// from senders outside the admin list. An empty list admits everyone, which
// matches the single-operator deployment this bot ships as.
func newAdminMiddleware(poller *tb.LongPoller, settings *core.Settings, log core.Logger) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			return false
		}

		if len(settings.Telegram.Admins) == 0 {
			return true
		}

		if slices.Contains(settings.Telegram.Admins, u.Message.Sender.ID) {
			return true
		}

		log.Warn("unauthorized sender ", u.Message.Sender.ID)
		return false
	})
}

// setupCommands configures available bot commands
func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/watch", Description: "Track buys of a jetton in this chat"},
		{Text: "/unwatch", Description: "Stop tracking and forget the pair"},
		{Text: "/pause", Description: "Suspend notifications"},
		{Text: "/resume", Description: "Resume notifications"},
		{Text: "/minbuy", Description: "Set the minimum buy to announce"},
		{Text: "/antispam", Description: "Set the burst limit level"},
		{Text: "/sources", Description: "Show or toggle trade sources"},
		{Text: "/status", Description: "Show the pair configuration"},
	})
}

// registerHandlers registers all command handlers
func registerHandlers(client *tb.Bot, bot *Telegram) {
	client.Handle("/help", bot.HelpHandle)
	client.Handle("/watch", bot.WatchHandle)
	client.Handle("/unwatch", bot.UnwatchHandle)
	client.Handle("/pause", bot.PauseHandle)
	client.Handle("/resume", bot.ResumeHandle)
	client.Handle("/minbuy", bot.MinBuyHandle)
	client.Handle("/antispam", bot.AntiSpamHandle)
	client.Handle("/sources", bot.SourcesHandle)
	client.Handle("/status", bot.StatusHandle)
}

// Start begins the Telegram long poller.
func (t *Telegram) Start() {
	go t.client.Start()
}

// ---------------------
// Notification
// ---------------------

// Emit implements core.Notifier: it formats and sends one buy alert to the
// chat owning the pair. A send failure is returned so the pipeline keeps the
// event for the next cycle.
func (t *Telegram) Emit(_ context.Context, pair *core.TrackedPair, event core.BuyEvent) error {
	_, err := t.client.Send(tb.ChatID(pair.ChatID), t.formatBuyMessage(pair, event), tb.NoPreview)
	if err != nil {
		return fmt.Errorf("failed to send buy alert: %w", err)
	}
	return nil
}

// formatBuyMessage renders one alert. Market figures are best-effort and
// omitted when unavailable.
func (t *Telegram) formatBuyMessage(pair *core.TrackedPair, event core.BuyEvent) string {
	symbol := pair.Symbol
	if symbol == "" {
		symbol = shortAddress(pair.AssetAddress)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🟢 *%s BUY* (%s)\n", symbol, event.Source)
	fmt.Fprintf(&sb, "💎 `%s` TON ➜ `%s` %s\n", formatAmount(event.NativeAmount), formatAmount(event.TokenAmount), symbol)

	if event.Buyer != "" {
		fmt.Fprintf(&sb, "👤 `%s`\n", shortAddress(event.Buyer))
	}

	if t.market != nil {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		info := t.market.PoolInfo(ctx, event.Pool)
		cancel()

		if info.PriceUSD > 0 {
			fmt.Fprintf(&sb, "💵 Price: `$%s`\n", formatAmount(info.PriceUSD))
		}
		if info.MarketCapUSD > 0 {
			fmt.Fprintf(&sb, "🏦 MCap: `$%s`\n", formatCompact(info.MarketCapUSD))
		}
		if info.LiquidityUSD > 0 {
			fmt.Fprintf(&sb, "💧 Liquidity: `$%s`\n", formatCompact(info.LiquidityUSD))
		}
	}

	if hexTxRegexp.MatchString(event.Identity) {
		fmt.Fprintf(&sb, "[Transaction](https://tonviewer.com/transaction/%s)", event.Identity)
	}

	return sb.String()
}

// ---------------------
// Command handlers
// ---------------------

// HelpHandle displays available commands
func (t *Telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		t.log.WithError(err).Error("failed to get commands")
		return
	}

	lines := make([]string, 0, len(commands))
	for _, command := range commands {
		lines = append(lines, fmt.Sprintf("%s - %s", command.Text, command.Description))
	}

	t.reply(m, strings.Join(lines, "\n"))
}

// WatchHandle starts tracking a jetton in the chat the command came from.
// Pools are resolved per source; a source without a pool stays disabled.
func (t *Telegram) WatchHandle(m *tb.Message) {
	match := watchRegexp.FindStringSubmatch(m.Text)
	if len(match) == 0 {
		t.reply(m, "Usage: `/watch <jetton address> [symbol]`")
		return
	}

	params := extractCommandParams(watchRegexp, match)
	address := params["address"]

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	pools, err := t.resolver.ResolvePools(ctx, address)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			t.reply(m, "No TON pools found for that token.")
			return
		}
		t.log.WithError(err).Error("pool resolution failed")
		t.reply(m, "Pool lookup failed, try again later.")
		return
	}

	pair, err := t.storage.Pair(ctx, pairID(m.Chat.ID))
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			t.log.WithError(err).Error("failed to load pair")
			return
		}
		pair = core.NewTrackedPair(m.Chat.ID, address)
	} else {
		// Re-watching replaces the tracked asset and its pools.
		pair.AssetAddress = address
		pair.Sources = nil
		pair.Paused = false
	}

	if symbol := params["symbol"]; symbol != "" {
		pair.Symbol = strings.ToUpper(symbol)
	}

	for source, pool := range pools {
		pair.SetSource(source, pool, true)
	}

	if err := t.storage.ClearWatermarks(ctx, pair.ID); err != nil {
		t.log.WithError(err).Error("failed to clear cursors")
	}

	if err := t.storage.SavePair(ctx, pair); err != nil {
		t.log.WithError(err).Error("failed to save pair")
		t.reply(m, "Could not save the configuration.")
		return
	}

	sources := make([]string, 0, len(pools))
	for source, pool := range pools {
		sources = append(sources, fmt.Sprintf("%s: `%s`", source, shortAddress(pool)))
	}
	slices.Sort(sources)

	t.reply(m, fmt.Sprintf("Watching `%s`\n%s", shortAddress(address), strings.Join(sources, "\n")))
}

// UnwatchHandle removes the pair and its cursors.
func (t *Telegram) UnwatchHandle(m *tb.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	id := pairID(m.Chat.ID)
	if err := t.storage.RemovePair(ctx, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			t.reply(m, "Nothing is being watched here.")
			return
		}
		t.log.WithError(err).Error("failed to remove pair")
		return
	}

	if err := t.storage.ClearWatermarks(ctx, id); err != nil {
		t.log.WithError(err).Error("failed to clear cursors")
	}

	t.reply(m, "Stopped watching.")
}

// PauseHandle suspends notifications without forgetting the configuration.
func (t *Telegram) PauseHandle(m *tb.Message) {
	t.updatePair(m, func(pair *core.TrackedPair) string {
		pair.Paused = true
		return "Notifications paused."
	})
}

// ResumeHandle reactivates a paused pair. Trades made while paused are not
// announced; tracking restarts from the current chain state.
func (t *Telegram) ResumeHandle(m *tb.Message) {
	t.updatePair(m, func(pair *core.TrackedPair) string {
		pair.Paused = false
		return "Notifications resumed."
	})
}

// MinBuyHandle sets the minimum announced buy size, in TON or USD.
func (t *Telegram) MinBuyHandle(m *tb.Message) {
	match := minbuyRegexp.FindStringSubmatch(m.Text)
	if len(match) == 0 {
		t.reply(m, "Usage: `/minbuy 100`\n`/minbuy 50 usd`")
		return
	}

	params := extractCommandParams(minbuyRegexp, match)
	amount, err := strconv.ParseFloat(params["amount"], 64)
	if err != nil || amount < 0 {
		t.reply(m, "Invalid amount")
		return
	}

	unit := core.UnitTON
	if strings.EqualFold(params["unit"], "usd") {
		unit = core.UnitUSD
	}

	t.updatePair(m, func(pair *core.TrackedPair) string {
		pair.MinValue = core.MinValue{Amount: amount, Unit: unit}
		return fmt.Sprintf("Minimum buy set to `%s %s`.", formatAmount(amount), unit)
	})
}

// AntiSpamHandle selects the burst limit preset.
func (t *Telegram) AntiSpamHandle(m *tb.Message) {
	match := spamRegexp.FindStringSubmatch(m.Text)
	if len(match) == 0 {
		t.reply(m, "Usage: `/antispam low|med|high`")
		return
	}

	level := core.SpamLevel(strings.ToUpper(extractCommandParams(spamRegexp, match)["level"]))

	t.updatePair(m, func(pair *core.TrackedPair) string {
		pair.AntiSpam = level
		return fmt.Sprintf("Anti-spam level set to `%s`.", level)
	})
}

// SourcesHandle shows the configured sources, or toggles one when named.
func (t *Telegram) SourcesHandle(m *tb.Message) {
	fields := strings.Fields(m.Text)

	if len(fields) > 1 {
		name := strings.ToLower(fields[1])
		t.updatePair(m, func(pair *core.TrackedPair) string {
			pair.ToggleSource(name)
			return describeSources(pair)
		})
		return
	}

	t.withPair(m, func(pair *core.TrackedPair) {
		t.reply(m, describeSources(pair))
	})
}

// StatusHandle displays the current pair configuration
func (t *Telegram) StatusHandle(m *tb.Message) {
	t.withPair(m, func(pair *core.TrackedPair) {
		state := "active"
		if pair.Paused {
			state = "paused"
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Asset: `%s`\n", shortAddress(pair.AssetAddress))
		if pair.Symbol != "" {
			fmt.Fprintf(&sb, "Symbol: `%s`\n", pair.Symbol)
		}
		fmt.Fprintf(&sb, "State: `%s`\n", state)
		fmt.Fprintf(&sb, "Min buy: `%s %s`\n", formatAmount(pair.MinValue.Amount), pair.MinValue.Unit)
		fmt.Fprintf(&sb, "Anti-spam: `%s`\n", pair.AntiSpam)
		sb.WriteString(describeSources(pair))

		t.reply(m, sb.String())
	})
}

// ---------------------
// Helpers
// ---------------------

// withPair loads the chat's pair and runs fn, replying when nothing is
// tracked yet.
func (t *Telegram) withPair(m *tb.Message, fn func(pair *core.TrackedPair)) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	pair, err := t.storage.Pair(ctx, pairID(m.Chat.ID))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			t.reply(m, "Nothing is being watched here. Use `/watch <jetton address>` first.")
			return
		}
		t.log.WithError(err).Error("failed to load pair")
		return
	}

	fn(pair)
}

// updatePair loads, mutates and saves the chat's pair, replying with the
// string fn returns.
func (t *Telegram) updatePair(m *tb.Message, fn func(pair *core.TrackedPair) string) {
	t.withPair(m, func(pair *core.TrackedPair) {
		reply := fn(pair)
		pair.UpdatedAt = time.Now()

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if err := t.storage.SavePair(ctx, pair); err != nil {
			t.log.WithError(err).Error("failed to save pair")
			t.reply(m, "Could not save the configuration.")
			return
		}

		t.reply(m, reply)
	})
}

// reply sends a message back to the chat a command came from.
func (t *Telegram) reply(m *tb.Message, text string) {
	_, err := t.client.Send(m.Chat, text)
	if err != nil {
		t.log.WithError(err).Error("failed to send message")
	}
}

func describeSources(pair *core.TrackedPair) string {
	if len(pair.Sources) == 0 {
		return "No sources configured."
	}

	lines := make([]string, 0, len(pair.Sources))
	for _, s := range pair.Sources {
		state := "off"
		if s.Enabled {
			state = "on"
		}
		lines = append(lines, fmt.Sprintf("%s (`%s`): %s", s.Source, shortAddress(s.Pool), state))
	}
	return strings.Join(lines, "\n")
}

func pairID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// shortAddress elides the middle of long addresses for display.
func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// formatAmount trims trailing zeros while keeping small values readable.
func formatAmount(v float64) string {
	switch {
	case v >= 1000:
		return strconv.FormatFloat(v, 'f', 0, 64)
	case v >= 1:
		return strconv.FormatFloat(v, 'f', 2, 64)
	default:
		return strconv.FormatFloat(v, 'f', 4, 64)
	}
}

// formatCompact renders large USD figures with a magnitude suffix.
func formatCompact(v float64) string {
	switch {
	case v >= 1e9:
		return strconv.FormatFloat(v/1e9, 'f', 2, 64) + "B"
	case v >= 1e6:
		return strconv.FormatFloat(v/1e6, 'f', 2, 64) + "M"
	case v >= 1e3:
		return strconv.FormatFloat(v/1e3, 'f', 1, 64) + "K"
	default:
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
}

// Helper function to extract named groups from regex matches
func extractCommandParams(regex *regexp.Regexp, match []string) map[string]string {
	command := make(map[string]string)
	for i, name := range regex.SubexpNames() {
		if i != 0 && name != "" {
			command[name] = match[i]
		}
	}
	return command
}
