package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spyton/buybot/core"
	"github.com/stretchr/testify/require"
)

func newPriceServer(t *testing.T, rate *atomic.Value, calls *atomic.Int64) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/simple/price", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]map[string]float64{
			"the-open-network": {"usd": rate.Load().(float64)},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPriceCache_FetchAndCache(t *testing.T) {
	var rate atomic.Value
	rate.Store(2.5)
	var calls atomic.Int64
	server := newPriceServer(t, &rate, &calls)

	now := time.Now()
	cache := NewPriceCache(server.URL, core.NewNopLogger(),
		WithPriceTTL(time.Minute),
		WithPriceClock(func() time.Time { return now }),
	)

	got, err := cache.NativeUSD(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2.5, got)

	// Within the TTL the cached rate is served, even if upstream changed.
	rate.Store(9.9)
	got, err = cache.NativeUSD(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2.5, got)
	require.Equal(t, int64(1), calls.Load())

	// Past the TTL a refresh happens.
	now = now.Add(2 * time.Minute)
	got, err = cache.NativeUSD(context.Background())
	require.NoError(t, err)
	require.Equal(t, 9.9, got)
	require.Equal(t, int64(2), calls.Load())
}

func TestPriceCache_OutageSignalsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	cache := NewPriceCache(server.URL, core.NewNopLogger())

	_, err := cache.NativeUSD(context.Background())
	require.ErrorIs(t, err, core.ErrUnavailable)
}

func TestPriceCache_ZeroRateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]map[string]float64{
			"the-open-network": {"usd": 0},
		})
	}))
	t.Cleanup(server.Close)

	cache := NewPriceCache(server.URL, core.NewNopLogger())

	_, err := cache.NativeUSD(context.Background())
	require.ErrorIs(t, err, core.ErrUnavailable)
}
