package core

import "time"

// SourceKind describes how an upstream feed exposes new trades.
type SourceKind string

const (
	// SourceKindBlock is a feed with a monotonically increasing head block;
	// records are fetched by block range and the block number is the cursor.
	SourceKindBlock SourceKind = "block"
	// SourceKindList is a feed returning the most recent N trades with no
	// guaranteed order; the cursor is a derived per-record ordering key.
	SourceKindList SourceKind = "list"
)

// RawTrade is one upstream trade record lifted out of source-specific JSON
// but not yet classified. The normalizer decides whether it is a buy of the
// tracked asset.
type RawTrade struct {
	TxHash    string    // transaction hash as reported upstream, any encoding
	TradeID   string    // source-native trade id, may be empty
	Buyer     string    // initiating wallet address
	Pool      string    // pool the record came from
	InAddr    string    // address of the asset paid in ("" for native TON)
	InSymbol  string    // symbol of the asset paid in
	OutAddr   string    // address of the asset received
	AmountIn  float64   // amount paid in, possibly in minimal units
	AmountOut float64   // amount received, possibly in minimal units
	Seq       uint64    // logical time (lt) or block number, 0 if absent
	Time      time.Time // upstream timestamp, zero if absent
}

// OrderKey derives the per-record ordering key: the source sequence value
// (logical time or block number) when present, else the unix timestamp.
// ok is false when the record carries neither and cannot be ordered.
func (r RawTrade) OrderKey() (key uint64, ok bool) {
	if r.Seq > 0 {
		return r.Seq, true
	}
	if !r.Time.IsZero() {
		return uint64(r.Time.Unix()), true
	}
	return 0, false
}

// BuyEvent is the canonical representation of one qualifying trade.
// Two events with the same Identity for the same pair must never both
// produce a notification.
type BuyEvent struct {
	Identity     string  // stable across repeated fetches of the same trade
	Source       string  // source name that observed the trade
	Pool         string
	NativeAmount float64 // TON spent by the buyer
	TokenAmount  float64 // tracked asset received
	Buyer        string
	Time         time.Time
	OrderKey     uint64 // derived ordering key, ascending within a pair
}
