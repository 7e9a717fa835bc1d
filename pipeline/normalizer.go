// Package pipeline implements the trade ingestion and notification
// pipeline: normalization, filtering, deduplication, rate limiting and the
// per-pair polling orchestration.
package pipeline

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/spyton/buybot/core"
)

// Normalization errors. ErrNotBuy is a silent reject; the others are worth
// a diagnostic because they mean the upstream payload degraded.
var (
	ErrNotBuy     = errors.New("not a buy of the tracked asset")
	ErrBadAmount  = errors.New("unparseable trade amount")
	ErrNoIdentity = errors.New("record has no hash or trade id")
)

// rescaleThreshold is the magnitude above which an upstream amount is
// assumed to be in minimal indivisible units. No realistic single trade
// reaches 1e8 in human units; tune against sample data before changing.
const rescaleThreshold = 1e8

// tonDecimals is the native coin's minimal-unit scale (nanoTON).
const tonDecimals = 9

var hexHashRegexp = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// Normalizer maps raw source records into canonical buy events.
type Normalizer struct {
	log core.Logger
}

// NewNormalizer creates a normalizer.
func NewNormalizer(log core.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// Normalize converts a raw record into a BuyEvent for the tracked pair.
// Sells and unrelated swaps return ErrNotBuy; degenerate records return a
// descriptive error. The caller decides how to log either.
func (n *Normalizer) Normalize(raw core.RawTrade, pair *core.TrackedPair) (core.BuyEvent, error) {
	// BUY = native TON in, tracked asset out.
	if raw.InAddr != "" || raw.OutAddr != pair.AssetAddress {
		return core.BuyEvent{}, ErrNotBuy
	}

	if raw.AmountIn <= 0 || math.IsNaN(raw.AmountIn) || math.IsInf(raw.AmountIn, 0) {
		return core.BuyEvent{}, fmt.Errorf("%w: native amount %v", ErrBadAmount, raw.AmountIn)
	}

	key, ok := raw.OrderKey()
	if !ok {
		return core.BuyEvent{}, core.ErrUnorderable
	}

	identity := n.Identity(raw)
	if identity == "" {
		return core.BuyEvent{}, ErrNoIdentity
	}

	return core.BuyEvent{
		Identity:     identity,
		Pool:         raw.Pool,
		NativeAmount: rescale(raw.AmountIn, tonDecimals),
		TokenAmount:  rescale(raw.AmountOut, pair.Decimals),
		Buyer:        raw.Buyer,
		Time:         raw.Time,
		OrderKey:     key,
	}, nil
}

// Identity derives the stable event identity: a canonical 64-hex tx hash
// when one is available, else a composite of pool and source-native trade
// id. Empty when neither exists.
func (n *Normalizer) Identity(raw core.RawTrade) string {
	if h := normalizeTxHash(raw.TxHash); h != "" {
		return h
	}

	id := raw.TradeID
	if id == "" && raw.Seq > 0 {
		id = strconv.FormatUint(raw.Seq, 10)
	}
	if id == "" {
		return ""
	}

	return raw.Pool + ":" + id
}

// rescale applies the minimal-unit heuristic: a magnitude implausibly
// larger than any realistic trade is assumed to be in minimal units and
// divided by the asset's decimal scale.
func rescale(amount float64, decimals int) float64 {
	if amount <= rescaleThreshold {
		return amount
	}
	if decimals <= 0 {
		decimals = tonDecimals
	}
	return amount / math.Pow10(decimals)
}

// normalizeTxHash folds the hash encodings upstream sources use into one
// canonical lowercase 64-char hex form. TON APIs return either hex
// (sometimes 0x-prefixed) or a base64/base64url cell hash.
func normalizeTxHash(hash string) string {
	h := strings.TrimSpace(hash)
	if h == "" {
		return ""
	}

	if hexHashRegexp.MatchString(h) {
		return strings.ToLower(strings.TrimPrefix(h, "0x"))
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		raw, err := enc.DecodeString(h)
		if err == nil && len(raw) == 32 {
			return hex.EncodeToString(raw)
		}
	}

	return ""
}
