// Package market provides the best-effort GeckoTerminal and CoinGecko
// lookups surrounding the pipeline: pool resolution, pool market data and
// the TON/USD rate. Everything here may fail or go stale without affecting
// ingestion correctness.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/spyton/buybot/core"
)

const (
	defaultTimeout  = 20 * time.Second
	defaultAttempts = 3

	tonNetwork = "ton"
)

// Gecko is a GeckoTerminal API client.
type Gecko struct {
	baseURL string
	http    *http.Client
	log     core.Logger

	infoTTL time.Duration
	mu      sync.RWMutex
	pools   map[string]cachedPoolInfo
}

type cachedPoolInfo struct {
	info PoolInfo
	at   time.Time
}

// PoolInfo is the market data attached to buy alerts, best-effort.
type PoolInfo struct {
	PriceUSD     float64
	MarketCapUSD float64
	LiquidityUSD float64
}

// GeckoOption configures the client.
type GeckoOption func(*Gecko)

// WithGeckoTimeout bounds each API call.
func WithGeckoTimeout(timeout time.Duration) GeckoOption {
	return func(g *Gecko) {
		g.http = &http.Client{Timeout: timeout}
	}
}

// WithPoolInfoTTL sets how long pool market data is served from cache.
func WithPoolInfoTTL(ttl time.Duration) GeckoOption {
	return func(g *Gecko) {
		if ttl > 0 {
			g.infoTTL = ttl
		}
	}
}

// NewGecko creates a GeckoTerminal client.
func NewGecko(baseURL string, log core.Logger, opts ...GeckoOption) *Gecko {
	g := &Gecko{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     log,
		infoTTL: time.Minute,
		pools:   make(map[string]cachedPoolInfo),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ---------------------
// Wire types
// ---------------------

type geckoPoolsResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			ReserveInUSD string `json:"reserve_in_usd"`
			MarketCapUSD string `json:"market_cap_usd"`
			Name         string `json:"name"`
		} `json:"attributes"`
		Relationships struct {
			Dex struct {
				Data struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"dex"`
		} `json:"relationships"`
	} `json:"data"`
}

type geckoPoolResponse struct {
	Data struct {
		Attributes struct {
			BaseTokenPriceUSD string `json:"base_token_price_usd"`
			ReserveInUSD      string `json:"reserve_in_usd"`
			MarketCapUSD      string `json:"market_cap_usd"`
		} `json:"attributes"`
	} `json:"data"`
}

// ---------------------
// Lookups
// ---------------------

// ResolvePools implements core.PoolResolver: it returns the most liquid
// TON pool of the token per DEX, keyed by source name. Pool ids come back
// prefixed with the network ("ton_..."); the prefix is stripped.
func (g *Gecko) ResolvePools(ctx context.Context, tokenAddress string) (map[string]string, error) {
	endpoint := fmt.Sprintf("%s/networks/%s/tokens/%s/pools",
		g.baseURL, tonNetwork, url.PathEscape(tokenAddress))

	var res geckoPoolsResponse
	if err := g.getJSON(ctx, endpoint, nil, &res); err != nil {
		return nil, fmt.Errorf("failed to list pools for %s: %w", tokenAddress, err)
	}

	type candidate struct {
		source    string
		pool      string
		liquidity float64
	}

	candidates := make([]candidate, 0, len(res.Data))
	for _, p := range res.Data {
		dexID := strings.ToLower(p.Relationships.Dex.Data.ID)
		var source string
		switch {
		case strings.Contains(dexID, "ston"):
			source = "ston"
		case strings.Contains(dexID, "dedust"):
			source = "dedust"
		default:
			continue
		}

		liq, _ := strconv.ParseFloat(p.Attributes.ReserveInUSD, 64)
		candidates = append(candidates, candidate{
			source:    source,
			pool:      strings.TrimPrefix(p.ID, tonNetwork+"_"),
			liquidity: liq,
		})
	}

	// Highest liquidity first, so the first hit per source wins.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].liquidity > candidates[j].liquidity
	})

	pools := make(map[string]string)
	for _, c := range candidates {
		if _, ok := pools[c.source]; !ok {
			pools[c.source] = c.pool
		}
	}

	if len(pools) == 0 {
		return nil, core.ErrNotFound
	}

	return pools, nil
}

// PoolInfo returns cached market data for a pool, refreshing after the TTL.
// Staleness within the TTL is acceptable; failures return the zero value.
func (g *Gecko) PoolInfo(ctx context.Context, pool string) PoolInfo {
	g.mu.RLock()
	cached, ok := g.pools[pool]
	g.mu.RUnlock()
	if ok && time.Since(cached.at) < g.infoTTL {
		return cached.info
	}

	endpoint := fmt.Sprintf("%s/networks/%s/pools/%s", g.baseURL, tonNetwork, url.PathEscape(pool))

	var res geckoPoolResponse
	if err := g.getJSON(ctx, endpoint, nil, &res); err != nil {
		g.log.WithError(err).Debugf("pool info lookup failed for %s", pool)
		if ok {
			return cached.info
		}
		return PoolInfo{}
	}

	info := PoolInfo{}
	info.PriceUSD, _ = strconv.ParseFloat(res.Data.Attributes.BaseTokenPriceUSD, 64)
	info.LiquidityUSD, _ = strconv.ParseFloat(res.Data.Attributes.ReserveInUSD, 64)
	info.MarketCapUSD, _ = strconv.ParseFloat(res.Data.Attributes.MarketCapUSD, 64)

	// Last-writer-wins refresh; concurrent readers tolerate either value.
	g.mu.Lock()
	g.pools[pool] = cachedPoolInfo{info: info, at: time.Now()}
	g.mu.Unlock()

	return info
}

// getJSON performs a GET with bounded backoff retries on transient errors.
func (g *Gecko) getJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	return getJSON(ctx, g.http, rawURL, params, out)
}

// setupBackoffRetry creates a backoff with sensible defaults
func setupBackoffRetry() *backoff.Backoff {
	return &backoff.Backoff{
		Min: 100 * time.Millisecond,
		Max: 1 * time.Second,
	}
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, params url.Values, out any) error {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}

	retry := setupBackoffRetry()
	var lastErr error

	for attempt := 0; attempt < defaultAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retry.Duration()):
			}
		}

		retriable, err := getJSONOnce(ctx, client, rawURL, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable {
			break
		}
	}

	return lastErr
}

func getJSONOnce(ctx context.Context, client *http.Client, rawURL string, out any) (retriable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return true, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		io.Copy(io.Discard, res.Body)
		return res.StatusCode >= http.StatusInternalServerError,
			fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	return false, nil
}
