package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/spyton/buybot/core"
)

const coinGeckoTonID = "the-open-network"

// PriceCache implements core.PriceOracle against the CoinGecko simple
// price endpoint. The rate is cached to stay under rate limits; an outage
// returns core.ErrUnavailable and the threshold filter fails open.
type PriceCache struct {
	baseURL string
	http    *http.Client
	log     core.Logger
	ttl     time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	rate      float64
	fetchedAt time.Time
}

// PriceOption configures the cache.
type PriceOption func(*PriceCache)

// WithPriceTTL sets the cache lifetime of the rate.
func WithPriceTTL(ttl time.Duration) PriceOption {
	return func(p *PriceCache) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithPriceClock injects a clock, for tests.
func WithPriceClock(now func() time.Time) PriceOption {
	return func(p *PriceCache) {
		p.now = now
	}
}

// WithPriceTimeout bounds each API call.
func WithPriceTimeout(timeout time.Duration) PriceOption {
	return func(p *PriceCache) {
		p.http = &http.Client{Timeout: timeout}
	}
}

// NewPriceCache creates a price oracle with an empty cache.
func NewPriceCache(baseURL string, log core.Logger, opts ...PriceOption) *PriceCache {
	p := &PriceCache{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
		ttl:     time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NativeUSD returns the TON price in USD, served from cache within the
// TTL. Refreshes are last-writer-wins; staleness inside the TTL is
// acceptable by design of the threshold filter.
func (p *PriceCache) NativeUSD(ctx context.Context) (float64, error) {
	p.mu.RLock()
	rate, at := p.rate, p.fetchedAt
	p.mu.RUnlock()

	if rate > 0 && p.now().Sub(at) < p.ttl {
		return rate, nil
	}

	fresh, err := p.fetch(ctx)
	if err != nil {
		p.log.WithError(err).Debug("TON price lookup failed")
		return 0, core.ErrUnavailable
	}

	p.mu.Lock()
	p.rate, p.fetchedAt = fresh, p.now()
	p.mu.Unlock()

	return fresh, nil
}

func (p *PriceCache) fetch(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("ids", coinGeckoTonID)
	params.Set("vs_currencies", "usd")

	var res map[string]map[string]float64
	if err := getJSON(ctx, p.http, p.baseURL+"/simple/price", params, &res); err != nil {
		return 0, err
	}

	rate := res[coinGeckoTonID]["usd"]
	if rate <= 0 {
		return 0, fmt.Errorf("no usd rate in response")
	}

	return rate, nil
}
