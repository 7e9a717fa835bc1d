package pipeline

import (
	"testing"
	"time"

	"github.com/spyton/buybot/core"
	"github.com/stretchr/testify/require"
)

func TestBurst_MediumPreset(t *testing.T) {
	limiter := NewBurstLimiter()

	for i := 0; i < burstMaxMedium; i++ {
		require.True(t, limiter.TryConsume("pair", core.SpamMedium), "slot %d", i)
	}
	require.False(t, limiter.TryConsume("pair", core.SpamMedium))
}

func TestBurst_HighPreset(t *testing.T) {
	limiter := NewBurstLimiter()

	for i := 0; i < burstMaxHigh; i++ {
		require.True(t, limiter.TryConsume("pair", core.SpamHigh), "slot %d", i)
	}
	require.False(t, limiter.TryConsume("pair", core.SpamHigh))
}

func TestBurst_LowPresetIsEffectivelyUncapped(t *testing.T) {
	limiter := NewBurstLimiter()

	for i := 0; i < 500; i++ {
		require.True(t, limiter.TryConsume("pair", core.SpamLow), "slot %d", i)
	}
}

func TestBurst_WindowReset(t *testing.T) {
	now := time.Now()
	limiter := NewBurstLimiter(
		WithBurstWindow(time.Minute),
		WithBurstClock(func() time.Time { return now }),
	)

	for i := 0; i < burstMaxHigh; i++ {
		require.True(t, limiter.TryConsume("pair", core.SpamHigh))
	}
	require.False(t, limiter.TryConsume("pair", core.SpamHigh))

	// A new window opens once the old one ages out.
	now = now.Add(61 * time.Second)
	require.True(t, limiter.TryConsume("pair", core.SpamHigh))
}

func TestBurst_PairsAreIndependent(t *testing.T) {
	limiter := NewBurstLimiter()

	for i := 0; i < burstMaxHigh; i++ {
		require.True(t, limiter.TryConsume("a", core.SpamHigh))
	}
	require.False(t, limiter.TryConsume("a", core.SpamHigh))
	require.True(t, limiter.TryConsume("b", core.SpamHigh))
}
