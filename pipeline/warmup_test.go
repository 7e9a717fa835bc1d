package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/spyton/buybot/core"
	"github.com/stretchr/testify/require"
)

func newTestBaseliner(store *memStorage) (*Baseliner, *DedupCache) {
	dedup := NewDedupCache()
	log := core.NewNopLogger()
	return NewBaseliner(store, NewNormalizer(log), dedup, log), dedup
}

func TestBaseliner_BlockSourceBaselinesAtHead(t *testing.T) {
	store := newMemStorage()
	baseliner, _ := newTestBaseliner(store)

	src := &fakeSource{name: "ston", kind: core.SourceKindBlock, head: 1234}
	pair := core.NewTrackedPair(42, testAsset)
	pair.SetSource("ston", "EQPool", true)

	before, err := baseliner.Warmup(context.Background(), pair, map[string]core.Source{"ston": src})
	require.NoError(t, err)
	require.False(t, before.IsZero())
	require.Equal(t, uint64(1234), store.cursor(t, pair.ID, "ston", "EQPool"))
}

func TestBaseliner_ListSourceBaselinesAtPageMax(t *testing.T) {
	store := newMemStorage()
	baseliner, dedup := newTestBaseliner(store)

	page := []core.RawTrade{blockTrade(10), blockTrade(12), blockTrade(11)}
	src := &fakeSource{name: "dedust", kind: core.SourceKindList}
	src.setFetch(func(uint64) (core.FetchResult, error) {
		return core.FetchResult{Records: page, Cursor: 12}, nil
	})

	pair := core.NewTrackedPair(42, testAsset)
	pair.SetSource("dedust", "EQPool", true)

	_, err := baseliner.Warmup(context.Background(), pair, map[string]core.Source{"dedust": src})
	require.NoError(t, err)
	require.Equal(t, uint64(12), store.cursor(t, pair.ID, "dedust", "EQPool"))

	// The page's trades are pre-existing and must never be announced.
	for _, raw := range page {
		require.True(t, dedup.SeenRecently(pair.ID, raw.TxHash))
	}
}

func TestBaseliner_FailureAbortsWholeWarmup(t *testing.T) {
	store := newMemStorage()
	baseliner, _ := newTestBaseliner(store)

	good := &fakeSource{name: "ston", kind: core.SourceKindBlock, head: 100}
	bad := &fakeSource{name: "dedust", kind: core.SourceKindList}
	bad.setFetch(func(uint64) (core.FetchResult, error) {
		return core.FetchResult{}, errors.New("api down")
	})

	pair := core.NewTrackedPair(42, testAsset)
	pair.SetSource("dedust", "EQPool", true)
	pair.SetSource("ston", "EQPool", true)

	_, err := baseliner.Warmup(context.Background(), pair, map[string]core.Source{
		"ston":   good,
		"dedust": bad,
	})
	require.Error(t, err)
}

func TestBaseliner_UnknownSourceFails(t *testing.T) {
	store := newMemStorage()
	baseliner, _ := newTestBaseliner(store)

	pair := core.NewTrackedPair(42, testAsset)
	pair.SetSource("mystery", "EQPool", true)

	_, err := baseliner.Warmup(context.Background(), pair, map[string]core.Source{})
	require.Error(t, err)
}
