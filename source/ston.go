package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/spyton/buybot/core"
)

const (
	// StonName identifies the STON.fi export feed.
	StonName = "ston"

	defaultMaxSpan = 60
	tonSymbol      = "TON"
)

// Ston polls the STON.fi export feed, a block-oriented source: the upstream
// exposes a monotonically increasing latest block and swap events per block
// range.
type Ston struct {
	baseURL string
	maxSpan uint64
	client  *client
	log     core.Logger

	mu       sync.RWMutex
	poolLegs map[string]int      // pool address -> index of the TON leg (0 or 1)
	assets   map[string][]string // pool address -> leg asset addresses
}

// StonOption configures the adapter.
type StonOption func(*Ston)

// WithStonMaxSpan caps the block range fetched per cycle.
func WithStonMaxSpan(span uint64) StonOption {
	return func(s *Ston) {
		if span > 0 {
			s.maxSpan = span
		}
	}
}

// WithStonTimeout bounds each upstream call.
func WithStonTimeout(timeout time.Duration) StonOption {
	return func(s *Ston) {
		s.client = newClient(timeout)
	}
}

// NewSton creates a STON.fi export feed adapter.
func NewSton(baseURL string, log core.Logger, opts ...StonOption) *Ston {
	s := &Ston{
		baseURL:  baseURL,
		maxSpan:  defaultMaxSpan,
		client:   newClient(0),
		log:      log,
		poolLegs: make(map[string]int),
		assets:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements core.Source.
func (s *Ston) Name() string { return StonName }

// Kind implements core.Source.
func (s *Ston) Kind() core.SourceKind { return core.SourceKindBlock }

// ---------------------
// Wire types
// ---------------------

type stonLatestBlockResponse struct {
	Block uint64 `json:"block"`
}

type stonEventsResponse struct {
	Events []stonEvent `json:"events"`
}

type stonEvent struct {
	EventType   string      `json:"eventType"`
	PairID      string      `json:"pairId"`
	TxnID       string      `json:"txnId"`
	Maker       string      `json:"maker"`
	Amount0In   json.Number `json:"amount0In"`
	Amount0Out  json.Number `json:"amount0Out"`
	Amount1In   json.Number `json:"amount1In"`
	Amount1Out  json.Number `json:"amount1Out"`
	BlockNumber uint64      `json:"blockNumber"`
	Timestamp   int64       `json:"timestamp"`
}

type stonPoolResponse struct {
	Pool struct {
		Address string   `json:"address"`
		Assets  []string `json:"assets"`
	} `json:"pool"`
}

// ---------------------
// core.Source implementation
// ---------------------

// Head returns the current latest block of the export feed.
func (s *Ston) Head(ctx context.Context, cfg core.SourceConfig) (uint64, error) {
	var res stonLatestBlockResponse
	kind, err := s.client.getJSON(ctx, s.baseURL+"/export/latest-block", nil, &res)
	if err != nil {
		return 0, &FetchError{Source: StonName, Pool: cfg.Pool, Kind: kind, Err: err}
	}
	return res.Block, nil
}

// Fetch requests swap events in (cursor, head], capped to the configured
// span. The candidate cursor is the head, so the window keeps moving even
// when no record matches the pool.
func (s *Ston) Fetch(ctx context.Context, cfg core.SourceConfig, cursor uint64) (core.FetchResult, error) {
	head, err := s.Head(ctx, cfg)
	if err != nil {
		return core.FetchResult{}, err
	}

	if head <= cursor {
		return core.FetchResult{Cursor: cursor}, nil
	}

	from := cursor + 1
	if head-from > s.maxSpan {
		// Deliberate trade-off: excess history behind the cap is dropped
		// rather than replayed in full after an outage.
		from = head - s.maxSpan
	}

	params := url.Values{}
	params.Set("fromBlock", strconv.FormatUint(from, 10))
	params.Set("toBlock", strconv.FormatUint(head, 10))

	var res stonEventsResponse
	kind, err := s.client.getJSON(ctx, s.baseURL+"/export/events", params, &res)
	if err != nil {
		return core.FetchResult{}, &FetchError{Source: StonName, Pool: cfg.Pool, Kind: kind, Err: err}
	}

	tonLeg, err := s.tonLeg(ctx, cfg.Pool)
	if err != nil {
		return core.FetchResult{}, err
	}

	records := make([]core.RawTrade, 0, len(res.Events))
	for _, ev := range res.Events {
		if ev.EventType != "swap" || ev.PairID != cfg.Pool {
			continue
		}
		records = append(records, s.toRawTrade(ev, tonLeg))
	}

	return core.FetchResult{Records: records, Cursor: head}, nil
}

// toRawTrade maps a leg-indexed swap event onto the in/out shape the
// normalizer understands.
func (s *Ston) toRawTrade(ev stonEvent, tonLeg int) core.RawTrade {
	r := core.RawTrade{
		TxHash: ev.TxnID,
		Buyer:  ev.Maker,
		Pool:   ev.PairID,
		Seq:    ev.BlockNumber,
	}
	if ev.Timestamp > 0 {
		r.Time = time.Unix(ev.Timestamp, 0).UTC()
	}

	a0In := numberToFloat(ev.Amount0In)
	a0Out := numberToFloat(ev.Amount0Out)
	a1In := numberToFloat(ev.Amount1In)
	a1Out := numberToFloat(ev.Amount1Out)

	switch {
	case tonLeg == 0 && a0In > 0 && a1Out > 0:
		r.InSymbol = tonSymbol
		r.OutAddr = s.legAsset(ev.PairID, 1)
		r.AmountIn = a0In
		r.AmountOut = a1Out
	case tonLeg == 1 && a1In > 0 && a0Out > 0:
		r.InSymbol = tonSymbol
		r.OutAddr = s.legAsset(ev.PairID, 0)
		r.AmountIn = a1In
		r.AmountOut = a0Out
	case tonLeg == 0:
		// Token in, TON out: a sell. The normalizer rejects it by direction.
		r.InAddr = s.legAsset(ev.PairID, 1)
		r.AmountIn = a1In
		r.AmountOut = a0Out
	default:
		r.InAddr = s.legAsset(ev.PairID, 0)
		r.AmountIn = a0In
		r.AmountOut = a1Out
	}

	return r
}

// tonLeg resolves which side of the pool is native TON. The answer never
// changes for a pool, so it is cached for the process lifetime.
func (s *Ston) tonLeg(ctx context.Context, pool string) (int, error) {
	s.mu.RLock()
	leg, ok := s.poolLegs[pool]
	s.mu.RUnlock()
	if ok {
		return leg, nil
	}

	var res stonPoolResponse
	kind, err := s.client.getJSON(ctx, s.baseURL+"/v1/pools/"+url.PathEscape(pool), nil, &res)
	if err != nil {
		return 0, &FetchError{Source: StonName, Pool: pool, Kind: kind, Err: err}
	}

	leg = -1
	for i, asset := range res.Pool.Assets {
		if isNativeAsset(asset) {
			leg = i
			break
		}
	}
	if leg < 0 || leg > 1 {
		return 0, &FetchError{
			Source: StonName,
			Pool:   pool,
			Kind:   FailDecode,
			Err:    fmt.Errorf("pool has no TON leg"),
		}
	}

	s.mu.Lock()
	s.poolLegs[pool] = leg
	s.assets[pool] = res.Pool.Assets
	s.mu.Unlock()

	return leg, nil
}

// legAsset returns the cached asset address of one pool leg.
func (s *Ston) legAsset(pool string, leg int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assets, ok := s.assets[pool]
	if !ok || leg >= len(assets) {
		return ""
	}
	return normalizeAssetAddr(assets[leg])
}
