package source

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/spyton/buybot/core"
)

const (
	// DeDustName identifies the DeDust trade list feed.
	DeDustName = "dedust"

	defaultPageLimit = 25
)

// DeDust polls the DeDust pool trade list, a list-oriented source: the
// upstream returns the most recent N trades with no guaranteed order, so
// resumption relies on per-record ordering keys rather than a block range.
type DeDust struct {
	baseURL   string
	pageLimit int
	client    *client
	log       core.Logger
}

// DeDustOption configures the adapter.
type DeDustOption func(*DeDust)

// WithDeDustPageLimit caps the trades fetched per cycle.
func WithDeDustPageLimit(limit int) DeDustOption {
	return func(d *DeDust) {
		if limit > 0 {
			d.pageLimit = limit
		}
	}
}

// WithDeDustTimeout bounds each upstream call.
func WithDeDustTimeout(timeout time.Duration) DeDustOption {
	return func(d *DeDust) {
		d.client = newClient(timeout)
	}
}

// NewDeDust creates a DeDust trade list adapter.
func NewDeDust(baseURL string, log core.Logger, opts ...DeDustOption) *DeDust {
	d := &DeDust{
		baseURL:   baseURL,
		pageLimit: defaultPageLimit,
		client:    newClient(0),
		log:       log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements core.Source.
func (d *DeDust) Name() string { return DeDustName }

// Kind implements core.Source.
func (d *DeDust) Kind() core.SourceKind { return core.SourceKindList }

// ---------------------
// Wire types
// ---------------------

type dedustTrade struct {
	Lt        string      `json:"lt"`
	TxHash    string      `json:"txHash"`
	Sender    string      `json:"sender"`
	AssetIn   string      `json:"assetIn"`
	AssetOut  string      `json:"assetOut"`
	AmountIn  json.Number `json:"amountIn"`
	AmountOut json.Number `json:"amountOut"`
	CreatedAt time.Time   `json:"createdAt"`
}

// dedustTradesResponse accepts both the wrapped and the bare-array shape
// the API has been observed returning.
type dedustTradesResponse struct {
	Trades []dedustTrade
}

func (r *dedustTradesResponse) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Trades []dedustTrade `json:"trades"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Trades != nil {
		r.Trades = wrapped.Trades
		return nil
	}

	var bare []dedustTrade
	if err := json.Unmarshal(data, &bare); err != nil {
		return err
	}
	r.Trades = bare
	return nil
}

// ---------------------
// core.Source implementation
// ---------------------

// Head fetches the current page and returns the maximum derived ordering
// key across it, the warmup baseline for a list feed. An empty page yields
// zero; the warmup ignore-before timestamp guards that case.
func (d *DeDust) Head(ctx context.Context, cfg core.SourceConfig) (uint64, error) {
	res, err := d.Fetch(ctx, cfg, 0)
	if err != nil {
		return 0, err
	}
	return res.Cursor, nil
}

// Fetch returns the most recent trades for the pool. The page is returned
// unfiltered and unordered; the orchestrator sorts by ordering key and
// compares against the stored watermark. The candidate cursor is the
// maximum ordering key observed.
func (d *DeDust) Fetch(ctx context.Context, cfg core.SourceConfig, cursor uint64) (core.FetchResult, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(d.pageLimit))

	var res dedustTradesResponse
	endpoint := d.baseURL + "/v2/pools/" + url.PathEscape(cfg.Pool) + "/trades"
	kind, err := d.client.getJSON(ctx, endpoint, params, &res)
	if err != nil {
		return core.FetchResult{}, &FetchError{Source: DeDustName, Pool: cfg.Pool, Kind: kind, Err: err}
	}

	records := make([]core.RawTrade, 0, len(res.Trades))
	maxKey := cursor
	for _, tr := range res.Trades {
		record := d.toRawTrade(tr, cfg.Pool)
		records = append(records, record)

		if key, ok := record.OrderKey(); ok && key > maxKey {
			maxKey = key
		}
	}

	return core.FetchResult{Records: records, Cursor: maxKey}, nil
}

func (d *DeDust) toRawTrade(tr dedustTrade, pool string) core.RawTrade {
	r := core.RawTrade{
		TxHash:    tr.TxHash,
		TradeID:   tr.Lt,
		Buyer:     tr.Sender,
		Pool:      pool,
		InAddr:    normalizeAssetAddr(tr.AssetIn),
		OutAddr:   normalizeAssetAddr(tr.AssetOut),
		AmountIn:  numberToFloat(tr.AmountIn),
		AmountOut: numberToFloat(tr.AmountOut),
		Time:      tr.CreatedAt,
	}
	if isNativeAsset(tr.AssetIn) {
		r.InSymbol = tonSymbol
	}
	if lt, err := strconv.ParseUint(tr.Lt, 10, 64); err == nil {
		r.Seq = lt
	}
	return r
}

// numberToFloat tolerates both quoted and bare numeric amounts.
func numberToFloat(n json.Number) float64 {
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return f
}
