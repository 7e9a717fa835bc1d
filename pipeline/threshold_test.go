package pipeline

import (
	"context"
	"testing"

	"github.com/spyton/buybot/core"
	"github.com/stretchr/testify/require"
)

type fakeOracle struct {
	rate float64
	err  error
}

func (f fakeOracle) NativeUSD(context.Context) (float64, error) {
	return f.rate, f.err
}

func TestThreshold_ZeroPassesEverything(t *testing.T) {
	filter := NewThresholdFilter(fakeOracle{}, core.NewNopLogger())

	pair := testPair()
	require.True(t, filter.Passes(context.Background(), core.BuyEvent{NativeAmount: 0.0001}, pair))
}

func TestThreshold_NativeBoundaryIsInclusive(t *testing.T) {
	filter := NewThresholdFilter(fakeOracle{}, core.NewNopLogger())

	pair := testPair()
	pair.MinValue = core.MinValue{Amount: 100, Unit: core.UnitTON}

	require.False(t, filter.Passes(context.Background(), core.BuyEvent{NativeAmount: 99.999}, pair))
	require.True(t, filter.Passes(context.Background(), core.BuyEvent{NativeAmount: 100}, pair))
	require.True(t, filter.Passes(context.Background(), core.BuyEvent{NativeAmount: 100.001}, pair))
}

func TestThreshold_FiatConversion(t *testing.T) {
	// $2 per TON: a $500 threshold means 250 TON.
	filter := NewThresholdFilter(fakeOracle{rate: 2}, core.NewNopLogger())

	pair := testPair()
	pair.MinValue = core.MinValue{Amount: 500, Unit: core.UnitUSD}

	require.False(t, filter.Passes(context.Background(), core.BuyEvent{NativeAmount: 249}, pair))
	require.True(t, filter.Passes(context.Background(), core.BuyEvent{NativeAmount: 250}, pair))
}

func TestThreshold_FailsOpenOnOutage(t *testing.T) {
	filter := NewThresholdFilter(fakeOracle{err: core.ErrUnavailable}, core.NewNopLogger())

	pair := testPair()
	pair.MinValue = core.MinValue{Amount: 1000000, Unit: core.UnitUSD}

	require.True(t, filter.Passes(context.Background(), core.BuyEvent{NativeAmount: 0.1}, pair))
}
