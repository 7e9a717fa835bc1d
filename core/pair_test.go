package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackedPair_Defaults(t *testing.T) {
	pair := NewTrackedPair(42, "EQToken")
	require.Equal(t, "42", pair.ID)
	require.Equal(t, int64(42), pair.ChatID)
	require.Equal(t, 9, pair.Decimals)
	require.Equal(t, SpamMedium, pair.AntiSpam)
	require.Equal(t, UnitTON, pair.MinValue.Unit)
	require.NoError(t, pair.Validate())
}

func TestTrackedPair_Validate(t *testing.T) {
	require.ErrorIs(t, (&TrackedPair{}).Validate(), ErrPairIDEmpty)
	require.ErrorIs(t, (&TrackedPair{ID: "1"}).Validate(), ErrAssetEmpty)

	pair := NewTrackedPair(1, "EQToken")
	pair.MinValue.Amount = -1
	require.ErrorIs(t, pair.Validate(), ErrNegativeValue)
}

func TestTrackedPair_SetSource(t *testing.T) {
	pair := NewTrackedPair(1, "EQToken")

	pair.SetSource("ston", "EQPoolA", true)
	require.Len(t, pair.Sources, 1)

	// Setting the same source again replaces the pool in place.
	pair.SetSource("ston", "EQPoolB", true)
	require.Len(t, pair.Sources, 1)
	require.Equal(t, "EQPoolB", pair.Sources[0].Pool)
}

func TestTrackedPair_EnabledSources(t *testing.T) {
	pair := NewTrackedPair(1, "EQToken")
	pair.SetSource("ston", "EQPoolA", true)
	pair.SetSource("dedust", "EQPoolB", false)
	pair.SetSource("broken", "", true) // no pool, never polled

	enabled := pair.EnabledSources()
	require.Len(t, enabled, 1)
	require.Equal(t, "ston", enabled[0].Source)
}

func TestTrackedPair_ToggleSource(t *testing.T) {
	pair := NewTrackedPair(1, "EQToken")
	pair.SetSource("ston", "EQPoolA", true)

	pair.ToggleSource("ston")
	require.False(t, pair.Sources[0].Enabled)

	pair.ToggleSource("ston")
	require.True(t, pair.Sources[0].Enabled)

	// Unknown sources are a no-op.
	pair.ToggleSource("mystery")
	require.Len(t, pair.Sources, 1)
}

func TestRawTrade_OrderKey(t *testing.T) {
	withSeq := RawTrade{Seq: 77, Time: time.Now()}
	key, ok := withSeq.OrderKey()
	require.True(t, ok)
	require.Equal(t, uint64(77), key)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	withTime := RawTrade{Time: ts}
	key, ok = withTime.OrderKey()
	require.True(t, ok)
	require.Equal(t, uint64(ts.Unix()), key)

	_, ok = RawTrade{}.OrderKey()
	require.False(t, ok)
}
