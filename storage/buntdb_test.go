package storage

import (
	"context"
	"testing"
	"time"

	"github.com/spyton/buybot/core"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) core.Storage {
	t.Helper()
	st, err := NewFromMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBunt_SaveAndLoadPair(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	pair := core.NewTrackedPair(42, "EQToken")
	pair.Symbol = "TOK"
	pair.SetSource("ston", "EQPool", true)
	require.NoError(t, st.SavePair(ctx, pair))

	got, err := st.Pair(ctx, pair.ID)
	require.NoError(t, err)
	require.Equal(t, pair.ID, got.ID)
	require.Equal(t, "TOK", got.Symbol)
	require.Len(t, got.Sources, 1)
	require.Equal(t, "EQPool", got.Sources[0].Pool)
}

func TestBunt_SaveRejectsInvalidPair(t *testing.T) {
	st := newTestStorage(t)

	err := st.SavePair(context.Background(), &core.TrackedPair{ID: "1"})
	require.ErrorIs(t, err, core.ErrAssetEmpty)
}

func TestBunt_PairNotFound(t *testing.T) {
	st := newTestStorage(t)

	_, err := st.Pair(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestBunt_PairsWithFilters(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	active := core.NewTrackedPair(1, "EQTokenA")
	paused := core.NewTrackedPair(2, "EQTokenB")
	paused.Paused = true
	require.NoError(t, st.SavePair(ctx, active))
	require.NoError(t, st.SavePair(ctx, paused))

	all, err := st.Pairs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	running, err := st.Pairs(ctx, core.WithActive())
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, active.ID, running[0].ID)

	byAsset, err := st.Pairs(ctx, core.WithAsset("EQTokenB"))
	require.NoError(t, err)
	require.Len(t, byAsset, 1)
	require.Equal(t, paused.ID, byAsset[0].ID)
}

func TestBunt_RemovePair(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	pair := core.NewTrackedPair(42, "EQToken")
	require.NoError(t, st.SavePair(ctx, pair))
	require.NoError(t, st.RemovePair(ctx, pair.ID))

	_, err := st.Pair(ctx, pair.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
	require.ErrorIs(t, st.RemovePair(ctx, pair.ID), core.ErrNotFound)
}

func TestBunt_WatermarkLifecycle(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	_, exists, err := st.Watermark(ctx, "42", "ston", "EQPool")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, st.AdvanceWatermark(ctx, "42", "ston", "EQPool", 100))

	value, exists, err := st.Watermark(ctx, "42", "ston", "EQPool")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, uint64(100), value)
}

func TestBunt_WatermarkNeverMovesBackward(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.AdvanceWatermark(ctx, "42", "ston", "EQPool", 100))
	require.NoError(t, st.AdvanceWatermark(ctx, "42", "ston", "EQPool", 50))

	value, _, err := st.Watermark(ctx, "42", "ston", "EQPool")
	require.NoError(t, err)
	require.Equal(t, uint64(100), value)
}

func TestBunt_ClearWatermarksScopedToPair(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.AdvanceWatermark(ctx, "42", "ston", "EQPoolA", 100))
	require.NoError(t, st.AdvanceWatermark(ctx, "42", "dedust", "EQPoolB", 200))
	require.NoError(t, st.AdvanceWatermark(ctx, "43", "ston", "EQPoolC", 300))

	require.NoError(t, st.ClearWatermarks(ctx, "42"))

	_, exists, err := st.Watermark(ctx, "42", "ston", "EQPoolA")
	require.NoError(t, err)
	require.False(t, exists)

	_, exists, err = st.Watermark(ctx, "42", "dedust", "EQPoolB")
	require.NoError(t, err)
	require.False(t, exists)

	value, exists, err := st.Watermark(ctx, "43", "ston", "EQPoolC")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, uint64(300), value)
}

func TestBunt_PairsOrderedByUpdate(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	first := core.NewTrackedPair(1, "EQTokenA")
	first.UpdatedAt = time.Now().Add(-time.Hour)
	second := core.NewTrackedPair(2, "EQTokenB")

	require.NoError(t, st.SavePair(ctx, second))
	require.NoError(t, st.SavePair(ctx, first))

	pairs, err := st.Pairs(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	require.Equal(t, first.ID, pairs[0].ID)
	require.Equal(t, second.ID, pairs[1].ID)
}
