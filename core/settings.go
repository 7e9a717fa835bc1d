package core

import "time"

// Settings represents the main configuration for the application
type Settings struct {
	Telegram TelegramSettings
	Poll     PollSettings
	Dedup    DedupSettings
	Burst    BurstSettings
	Sources  SourceSettings
	Market   MarketSettings
	Storage  StorageSettings
}

// TelegramSettings holds configuration for Telegram integration
type TelegramSettings struct {
	Enabled bool    // Whether Telegram notifications are enabled
	Token   string  // Telegram bot token
	Admins  []int64 // Users allowed to configure pairs from private chats
}

// PollSettings control the recurring ingestion cycle.
type PollSettings struct {
	Interval time.Duration // delay between cycles
	Workers  int           // bounded worker pool size for concurrent pairs
	Timeout  time.Duration // per (pair, source) fetch/notify deadline
}

// DedupSettings bound the re-delivery defense cache.
type DedupSettings struct {
	TTL       time.Duration // how long an event identity stays "seen"
	MaxBucket int           // per-pair entries before an expiry sweep runs
}

// BurstSettings configure the per-pair notification cap window.
type BurstSettings struct {
	Window time.Duration
}

// SourceSettings configure the upstream feed clients.
type SourceSettings struct {
	Ston   StonSettings
	DeDust DeDustSettings
}

// StonSettings configure the STON.fi export feed client.
type StonSettings struct {
	BaseURL string
	MaxSpan uint64 // maximum block range fetched per cycle
}

// DeDustSettings configure the DeDust trade list client.
type DeDustSettings struct {
	BaseURL   string
	PageLimit int // maximum trades fetched per cycle
}

// MarketSettings configure the GeckoTerminal/CoinGecko lookups.
type MarketSettings struct {
	GeckoBaseURL string
	CoinGeckoURL string
	PriceTTL     time.Duration // TON/USD rate cache lifetime
	PoolInfoTTL  time.Duration // pool market data cache lifetime
}

// StorageSettings select where pair and cursor state lives.
type StorageSettings struct {
	Path string // buntdb file, ":memory:" for tests
}

// DefaultSettings mirror the constants the original bot shipped with.
func DefaultSettings() Settings {
	return Settings{
		Poll: PollSettings{
			Interval: 5 * time.Second,
			Workers:  8,
			Timeout:  25 * time.Second,
		},
		Dedup: DedupSettings{
			TTL:       10 * time.Minute,
			MaxBucket: 4000,
		},
		Burst: BurstSettings{
			Window: time.Minute,
		},
		Sources: SourceSettings{
			Ston:   StonSettings{BaseURL: "https://api.ston.fi", MaxSpan: 60},
			DeDust: DeDustSettings{BaseURL: "https://api.dedust.io", PageLimit: 25},
		},
		Market: MarketSettings{
			GeckoBaseURL: "https://api.geckoterminal.com/api/v2",
			CoinGeckoURL: "https://api.coingecko.com/api/v3",
			PriceTTL:     time.Minute,
			PoolInfoTTL:  time.Minute,
		},
		Storage: StorageSettings{Path: "buybot.db"},
	}
}
