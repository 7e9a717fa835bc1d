package pipeline

import (
	"context"

	"github.com/spyton/buybot/core"
)

// ThresholdFilter compares events against a pair's configured minimum buy
// value. Fiat thresholds are converted through the price oracle; a price
// feed outage fails open so legitimate buy alerts are never lost to a
// threshold that cannot be evaluated.
type ThresholdFilter struct {
	oracle core.PriceOracle
	log    core.Logger
}

// NewThresholdFilter creates a filter backed by the given oracle.
func NewThresholdFilter(oracle core.PriceOracle, log core.Logger) *ThresholdFilter {
	return &ThresholdFilter{oracle: oracle, log: log}
}

// Passes reports whether the event meets the pair's minimum value. The
// comparison boundary is inclusive.
func (t *ThresholdFilter) Passes(ctx context.Context, event core.BuyEvent, pair *core.TrackedPair) bool {
	min := pair.MinValue
	if min.Amount <= 0 {
		return true
	}

	switch min.Unit {
	case core.UnitUSD:
		rate, err := t.oracle.NativeUSD(ctx)
		if err != nil || rate <= 0 {
			t.log.WithError(err).Warnf("price lookup unavailable, passing event for pair %s", pair.ID)
			return true
		}
		return event.NativeAmount >= min.Amount/rate
	default:
		return event.NativeAmount >= min.Amount
	}
}
