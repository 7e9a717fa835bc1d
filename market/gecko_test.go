package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spyton/buybot/core"
	"github.com/stretchr/testify/require"
)

func geckoPool(id, dex, reserve string) map[string]any {
	return map[string]any{
		"id": id,
		"attributes": map[string]any{
			"reserve_in_usd": reserve,
			"name":           "TOK / TON",
		},
		"relationships": map[string]any{
			"dex": map[string]any{
				"data": map[string]any{"id": dex},
			},
		},
	}
}

func TestGecko_ResolvePoolsPicksMostLiquidPerDex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/networks/ton/tokens/EQToken/pools", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []any{
				geckoPool("ton_EQStonSmall", "ston", "1000"),
				geckoPool("ton_EQStonBig", "ston", "90000"),
				geckoPool("ton_EQDedustPool", "dedust", "5000"),
				geckoPool("ton_EQSomewhere", "megaton", "99999"), // unsupported dex
			},
		})
	}))
	t.Cleanup(server.Close)

	gecko := NewGecko(server.URL, core.NewNopLogger())

	pools, err := gecko.ResolvePools(context.Background(), "EQToken")
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"ston":   "EQStonBig",
		"dedust": "EQDedustPool",
	}, pools)
}

func TestGecko_ResolvePoolsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	t.Cleanup(server.Close)

	gecko := NewGecko(server.URL, core.NewNopLogger())

	_, err := gecko.ResolvePools(context.Background(), "EQToken")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestGecko_PoolInfoParsesAndCaches(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/networks/ton/pools/EQPool", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"attributes": map[string]any{
					"base_token_price_usd": "0.0345",
					"reserve_in_usd":       "150000.5",
					"market_cap_usd":       "2500000",
				},
			},
		})
	}))
	t.Cleanup(server.Close)

	gecko := NewGecko(server.URL, core.NewNopLogger())

	info := gecko.PoolInfo(context.Background(), "EQPool")
	require.Equal(t, 0.0345, info.PriceUSD)
	require.Equal(t, 150000.5, info.LiquidityUSD)
	require.Equal(t, 2500000.0, info.MarketCapUSD)

	gecko.PoolInfo(context.Background(), "EQPool")
	require.Equal(t, 1, calls)
}

func TestGecko_PoolInfoFailureReturnsZeroValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	gecko := NewGecko(server.URL, core.NewNopLogger())

	info := gecko.PoolInfo(context.Background(), "EQPool")
	require.Zero(t, info)
}
