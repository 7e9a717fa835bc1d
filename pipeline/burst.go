package pipeline

import (
	"sync"
	"time"

	"github.com/spyton/buybot/core"
)

const defaultBurstWindow = time.Minute

// Anti-spam presets: maximum notifications per window. The low preset
// effectively disables the cap.
const (
	burstMaxLow    = 9999
	burstMaxMedium = 8
	burstMaxHigh   = 4
)

// rateWindow is one pair's sliding notification window.
type rateWindow struct {
	windowStart time.Time
	count       int
}

// BurstLimiter bounds notifications per tracked pair within a rolling time
// window. An event dropped by the limiter is a deliberate drop, not a retry
// candidate: the caller still marks it seen and advances cursors.
type BurstLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	window  time.Duration
	now     func() time.Time
}

// BurstOption configures the limiter.
type BurstOption func(*BurstLimiter)

// WithBurstWindow sets the rolling window length.
func WithBurstWindow(window time.Duration) BurstOption {
	return func(b *BurstLimiter) {
		if window > 0 {
			b.window = window
		}
	}
}

// WithBurstClock injects a clock, for tests.
func WithBurstClock(now func() time.Time) BurstOption {
	return func(b *BurstLimiter) {
		b.now = now
	}
}

// NewBurstLimiter creates a limiter with no windows open.
func NewBurstLimiter(opts ...BurstOption) *BurstLimiter {
	b := &BurstLimiter{
		windows: make(map[string]*rateWindow),
		window:  defaultBurstWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TryConsume reserves one notification slot for the pair. It returns false
// when the preset's cap for the current window is exhausted.
func (b *BurstLimiter) TryConsume(pairID string, level core.SpamLevel) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[pairID]
	if !ok {
		w = &rateWindow{windowStart: b.now()}
		b.windows[pairID] = w
	}

	now := b.now()
	if now.Sub(w.windowStart) > b.window {
		w.windowStart = now
		w.count = 0
	}

	if w.count >= maxPerWindow(level) {
		return false
	}

	w.count++
	return true
}

// RemovePair drops the rate state for a removed pair.
func (b *BurstLimiter) RemovePair(pairID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.windows, pairID)
}

// maxPerWindow maps an anti-spam preset to its notification cap.
func maxPerWindow(level core.SpamLevel) int {
	switch level {
	case core.SpamLow:
		return burstMaxLow
	case core.SpamHigh:
		return burstMaxHigh
	default:
		return burstMaxMedium
	}
}
