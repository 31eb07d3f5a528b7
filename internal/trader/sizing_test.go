package trader

import (
	"testing"

	"scalper/internal/gateway/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func balanceOf(available float64) exchange.Balance {
	return exchange.Balance{Asset: "USDT", Total: available, Available: available}
}

func TestPercentSizer(t *testing.T) {
	sizer := PercentSizer{Percent: 10, FloorUSD: 5.5}

	margin, err := sizer.MarginFor(balanceOf(100))
	require.NoError(t, err)
	assert.InDelta(t, 10, margin, 1e-9)

	// A small balance still commits the floor, not the raw percentage.
	margin, err = sizer.MarginFor(balanceOf(20))
	require.NoError(t, err)
	assert.InDelta(t, 5.5, margin, 1e-9)
}

func TestPercentSizerFloorsTinyBalance(t *testing.T) {
	// Even a balance below the floor sizes at the floor; if the account
	// cannot actually fund it, the exchange reject drives the retry path.
	sizer := PercentSizer{Percent: 50, FloorUSD: 5.5}
	margin, err := sizer.MarginFor(balanceOf(2))
	require.NoError(t, err)
	assert.InDelta(t, 5.5, margin, 1e-9)
}

func TestFixedSizer(t *testing.T) {
	sizer := FixedSizer{MarginUSD: 10, FloorUSD: 5.5}

	margin, err := sizer.MarginFor(balanceOf(100))
	require.NoError(t, err)
	assert.InDelta(t, 10, margin, 1e-9)

	// The floor lifts an undersized fixed margin.
	lifted := FixedSizer{MarginUSD: 3, FloorUSD: 5.5}
	margin, err = lifted.MarginFor(balanceOf(100))
	require.NoError(t, err)
	assert.InDelta(t, 5.5, margin, 1e-9)
}

func TestQuantityForRoundsUpToStep(t *testing.T) {
	rules := exchange.SymbolRules{QtyStep: 1, MinQty: 1, MinNotional: 5}

	// 10 USDT at 10x on 0.0813 is 1230.01..., which must round UP.
	qty, err := QuantityFor(10, 0.0813, 10, rules)
	require.NoError(t, err)
	assert.InDelta(t, 1231, qty, 1e-9)
	assert.GreaterOrEqual(t, qty*0.0813, 100.0)
}

func TestQuantityForFractionalStep(t *testing.T) {
	rules := exchange.SymbolRules{QtyStep: 0.001, MinQty: 0.001, MinNotional: 100}
	qty, err := QuantityFor(50, 64123.5, 10, rules)
	require.NoError(t, err)
	// 500/64123.5 = 0.007797..., ceil to 0.008.
	assert.InDelta(t, 0.008, qty, 1e-9)
}

func TestQuantityForBumpsBelowMinNotional(t *testing.T) {
	rules := exchange.SymbolRules{QtyStep: 1, MinNotional: 5}

	// 0.3 margin at 10x is a 3 USDT notional, under the 5 USDT minimum.
	qty, err := QuantityFor(0.3, 0.08, 10, rules)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, qty*0.08, 5*notionalHeadroom-1e-9)
}

func TestQuantityForRejectsBadPrice(t *testing.T) {
	_, err := QuantityFor(10, 0, 10, exchange.SymbolRules{})
	assert.Error(t, err)
}

func TestCeilToStep(t *testing.T) {
	assert.InDelta(t, 1231, ceilToStep(1230.01, 1), 1e-9)
	assert.InDelta(t, 1230, ceilToStep(1230, 1), 1e-9)
	assert.InDelta(t, 0.008, ceilToStep(0.0078, 0.001), 1e-9)
	assert.InDelta(t, 0.0078, ceilToStep(0.0078, 0), 1e-9)
}
