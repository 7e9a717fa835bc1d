package core

import (
	"fmt"
	"time"
)

// ValueUnit is the unit a minimum buy threshold is expressed in.
type ValueUnit string

const (
	UnitTON ValueUnit = "TON"
	UnitUSD ValueUnit = "USD"
)

// SpamLevel selects a burst limiter preset.
type SpamLevel string

const (
	SpamLow    SpamLevel = "LOW"  // effectively uncapped
	SpamMedium SpamLevel = "MED"
	SpamHigh   SpamLevel = "HIGH"
)

// MinValue is the configured notification threshold for a pair.
type MinValue struct {
	Amount float64   `json:"amount"`
	Unit   ValueUnit `json:"unit"`
}

// SourceConfig enables one upstream feed for a tracked pair.
type SourceConfig struct {
	Source  string `json:"source"` // source name ("ston", "dedust")
	Pool    string `json:"pool"`   // pool address on that source
	Enabled bool   `json:"enabled"`
}

// TrackedPair is one chat's subscription to buy alerts for one asset.
type TrackedPair struct {
	ID           string         `json:"id"`      // chat identifier
	ChatID       int64          `json:"chat_id"` // Telegram chat to notify
	AssetAddress string         `json:"asset_address"`
	Symbol       string         `json:"symbol"`
	Name         string         `json:"name"`
	Decimals     int            `json:"decimals"` // minimal-unit scale hint
	Sources      []SourceConfig `json:"sources"`
	MinValue     MinValue       `json:"min_value"`
	AntiSpam     SpamLevel      `json:"anti_spam"`
	Paused       bool           `json:"paused"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewTrackedPair creates a pair with the defaults the original operator
// flow applies on /watch.
func NewTrackedPair(chatID int64, assetAddress string) *TrackedPair {
	now := time.Now()
	return &TrackedPair{
		ID:           fmt.Sprintf("%d", chatID),
		ChatID:       chatID,
		AssetAddress: assetAddress,
		Decimals:     9,
		MinValue:     MinValue{Amount: 0, Unit: UnitTON},
		AntiSpam:     SpamMedium,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// EnabledSources returns the sources that currently participate in polling.
func (p *TrackedPair) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(p.Sources))
	for _, s := range p.Sources {
		if s.Enabled && s.Pool != "" {
			out = append(out, s)
		}
	}
	return out
}

// SetSource enables or replaces the pool for one source.
func (p *TrackedPair) SetSource(source, pool string, enabled bool) {
	for i := range p.Sources {
		if p.Sources[i].Source == source {
			p.Sources[i].Pool = pool
			p.Sources[i].Enabled = enabled
			p.UpdatedAt = time.Now()
			return
		}
	}
	p.Sources = append(p.Sources, SourceConfig{Source: source, Pool: pool, Enabled: enabled})
	p.UpdatedAt = time.Now()
}

// ToggleSource flips an existing source on or off. Unknown sources are
// ignored.
func (p *TrackedPair) ToggleSource(source string) {
	for i := range p.Sources {
		if p.Sources[i].Source == source {
			p.Sources[i].Enabled = !p.Sources[i].Enabled
			p.UpdatedAt = time.Now()
			return
		}
	}
}

// Validate checks the pair is usable for polling.
func (p *TrackedPair) Validate() error {
	if p.ID == "" {
		return ErrPairIDEmpty
	}
	if p.AssetAddress == "" {
		return ErrAssetEmpty
	}
	if p.MinValue.Amount < 0 {
		return ErrNegativeValue
	}
	return nil
}
