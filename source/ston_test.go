package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spyton/buybot/core"
	"github.com/stretchr/testify/require"
)

const (
	stonPool  = "EQStonPool"
	stonToken = "EQJetton"
)

// newStonServer serves the three export endpoints the adapter hits. The
// events handler receives the requested block range.
func newStonServer(t *testing.T, head uint64, events func(from, to uint64) []map[string]any) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/export/latest-block", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"block": head})
	})
	mux.HandleFunc("/export/events", func(w http.ResponseWriter, r *http.Request) {
		var from, to uint64
		fmt.Sscan(r.URL.Query().Get("fromBlock"), &from)
		fmt.Sscan(r.URL.Query().Get("toBlock"), &to)
		json.NewEncoder(w).Encode(map[string]any{"events": events(from, to)})
	})
	mux.HandleFunc("/v1/pools/"+stonPool, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"pool": map[string]any{
				"address": stonPool,
				"assets":  []string{"native", "jetton:" + stonToken},
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func stonSwap(block uint64, pair string) map[string]any {
	return map[string]any{
		"eventType":   "swap",
		"pairId":      pair,
		"txnId":       fmt.Sprintf("%064d", block),
		"maker":       "EQMaker",
		"amount0In":   "5000000000",
		"amount0Out":  "0",
		"amount1In":   "0",
		"amount1Out":  "120000",
		"blockNumber": block,
		"timestamp":   1700000000 + int64(block),
	}
}

func TestSton_Head(t *testing.T) {
	server := newStonServer(t, 555, func(uint64, uint64) []map[string]any { return nil })
	ston := NewSton(server.URL, core.NewNopLogger())

	head, err := ston.Head(context.Background(), core.SourceConfig{Pool: stonPool})
	require.NoError(t, err)
	require.Equal(t, uint64(555), head)
}

func TestSton_FetchMapsBuys(t *testing.T) {
	var gotFrom, gotTo uint64
	server := newStonServer(t, 102, func(from, to uint64) []map[string]any {
		gotFrom, gotTo = from, to
		return []map[string]any{
			stonSwap(101, stonPool),
			stonSwap(102, "EQOtherPool"), // filtered out
			{"eventType": "mint", "pairId": stonPool, "blockNumber": 102},
		}
	})
	ston := NewSton(server.URL, core.NewNopLogger())

	res, err := ston.Fetch(context.Background(), core.SourceConfig{Pool: stonPool}, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(101), gotFrom)
	require.Equal(t, uint64(102), gotTo)
	require.Equal(t, uint64(102), res.Cursor)
	require.Len(t, res.Records, 1)

	record := res.Records[0]
	require.Equal(t, "TON", record.InSymbol)
	require.Equal(t, "", record.InAddr)
	require.Equal(t, stonToken, record.OutAddr)
	require.Equal(t, 5e9, record.AmountIn)
	require.Equal(t, 120000.0, record.AmountOut)
	require.Equal(t, uint64(101), record.Seq)
	require.False(t, record.Time.IsZero())
}

func TestSton_FetchNoNewBlocks(t *testing.T) {
	server := newStonServer(t, 100, func(uint64, uint64) []map[string]any {
		t.Error("no events request expected")
		return nil
	})
	ston := NewSton(server.URL, core.NewNopLogger())

	res, err := ston.Fetch(context.Background(), core.SourceConfig{Pool: stonPool}, 100)
	require.NoError(t, err)
	require.Empty(t, res.Records)
	require.Equal(t, uint64(100), res.Cursor)
}

func TestSton_FetchCapsSpan(t *testing.T) {
	var gotFrom uint64
	server := newStonServer(t, 1000, func(from, to uint64) []map[string]any {
		gotFrom = from
		return nil
	})
	ston := NewSton(server.URL, core.NewNopLogger(), WithStonMaxSpan(60))

	// 900 blocks behind: only the trailing window is requested.
	res, err := ston.Fetch(context.Background(), core.SourceConfig{Pool: stonPool}, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(940), gotFrom)
	require.Equal(t, uint64(1000), res.Cursor)
}

func TestSton_SellMappedAsNonBuy(t *testing.T) {
	server := newStonServer(t, 101, func(uint64, uint64) []map[string]any {
		return []map[string]any{{
			"eventType":   "swap",
			"pairId":      stonPool,
			"txnId":       fmt.Sprintf("%064d", 101),
			"maker":       "EQMaker",
			"amount0In":   "0",
			"amount0Out":  "3000000000",
			"amount1In":   "99000",
			"amount1Out":  "0",
			"blockNumber": uint64(101),
			"timestamp":   int64(1700000101),
		}}
	})
	ston := NewSton(server.URL, core.NewNopLogger())

	res, err := ston.Fetch(context.Background(), core.SourceConfig{Pool: stonPool}, 100)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	// Token in, TON out: the jetton address lands on the in side so the
	// normalizer rejects the record by direction.
	record := res.Records[0]
	require.Equal(t, stonToken, record.InAddr)
	require.Empty(t, record.InSymbol)
}

func TestSton_UpstreamErrorTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	ston := NewSton(server.URL, core.NewNopLogger())

	_, err := ston.Head(context.Background(), core.SourceConfig{Pool: stonPool})
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, FailStatus, fetchErr.Kind)
	require.Equal(t, StonName, fetchErr.Source)
}
