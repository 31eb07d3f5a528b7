package trader

import (
	"testing"

	"scalper/internal/gateway/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedUSDTargetLong(t *testing.T) {
	// 10 USDT margin at 10x on a 0.08 entry holds 1250 contracts; a 2 USDT
	// target needs a 0.0016 move.
	pricer := FixedUSDTarget{TargetUSD: 2.0}
	price, err := pricer.ExitPrice(exchange.SideLong, 0.08, 1250)
	require.NoError(t, err)
	assert.InDelta(t, 0.0816, price, 1e-9)
}

func TestFixedUSDTargetShort(t *testing.T) {
	pricer := FixedUSDTarget{TargetUSD: 2.0}
	price, err := pricer.ExitPrice(exchange.SideShort, 0.08, 1250)
	require.NoError(t, err)
	assert.InDelta(t, 0.0784, price, 1e-9)
}

func TestFixedUSDTargetRoundTrip(t *testing.T) {
	// Filling at the exit price must realize the configured profit.
	cases := []struct {
		side   exchange.Side
		entry  float64
		qty    float64
		target float64
	}{
		{exchange.SideLong, 0.08, 1250, 2.0},
		{exchange.SideShort, 0.08, 1250, 2.0},
		{exchange.SideLong, 64123.5, 0.004, 1.25},
		{exchange.SideShort, 1.0825, 92.4, 0.8},
	}
	for _, tc := range cases {
		exit, err := FixedUSDTarget{TargetUSD: tc.target}.ExitPrice(tc.side, tc.entry, tc.qty)
		require.NoError(t, err)
		pnl := (exit - tc.entry) * tc.qty
		if tc.side == exchange.SideShort {
			pnl = -pnl
		}
		assert.InDelta(t, tc.target, pnl, 1e-6, "side=%s entry=%v", tc.side, tc.entry)
	}
}

func TestFixedUSDTargetRejectsBadInput(t *testing.T) {
	_, err := FixedUSDTarget{TargetUSD: 2}.ExitPrice(exchange.SideLong, 0, 10)
	assert.Error(t, err)
	_, err = FixedUSDTarget{TargetUSD: 2}.ExitPrice(exchange.SideLong, 0.08, 0)
	assert.Error(t, err)
	_, err = FixedUSDTarget{TargetUSD: 0}.ExitPrice(exchange.SideLong, 0.08, 10)
	assert.Error(t, err)
	_, err = FixedUSDTarget{TargetUSD: 2}.ExitPrice(exchange.SideNone, 0.08, 10)
	assert.Error(t, err)
	// A short exit may never cross zero.
	_, err = FixedUSDTarget{TargetUSD: 500}.ExitPrice(exchange.SideShort, 0.08, 10)
	assert.Error(t, err)
}

func TestPercentTarget(t *testing.T) {
	long, err := PercentTarget{Percent: 0.6}.ExitPrice(exchange.SideLong, 100, 1)
	require.NoError(t, err)
	assert.InDelta(t, 100.6, long, 1e-9)

	short, err := PercentTarget{Percent: 0.6}.ExitPrice(exchange.SideShort, 100, 1)
	require.NoError(t, err)
	assert.InDelta(t, 99.4, short, 1e-9)
}

func TestRiskTargetPricerPrefersUSDTarget(t *testing.T) {
	risk := RiskParams{TargetProfitUSD: 2.0, TakeProfitPercent: 0.6}
	pricer := RiskTargetPricer{Risk: func() RiskParams { return risk }}
	price, err := pricer.ExitPrice(exchange.SideLong, 0.08, 1250)
	require.NoError(t, err)
	assert.InDelta(t, 0.0816, price, 1e-9)

	// Clearing the USD target falls through to the percentage target, and
	// the change applies without rebuilding the pricer.
	risk.TargetProfitUSD = 0
	price, err = pricer.ExitPrice(exchange.SideLong, 100, 1250)
	require.NoError(t, err)
	assert.InDelta(t, 100.6, price, 1e-9)
}

func TestStopPrice(t *testing.T) {
	assert.InDelta(t, 99.6, StopPrice(exchange.SideLong, 100, 0.4), 1e-9)
	assert.InDelta(t, 100.4, StopPrice(exchange.SideShort, 100, 0.4), 1e-9)
}

func TestStopLimitPrice(t *testing.T) {
	// The limit sits past the trigger on the losing side so a gap through
	// the trigger still fills.
	assert.InDelta(t, 99.5004, StopLimitPrice(exchange.SideLong, 99.6, 0.1), 1e-9)
	assert.InDelta(t, 100.5004, StopLimitPrice(exchange.SideShort, 100.4, 0.1), 1e-9)
}

func TestOffsetClosePrice(t *testing.T) {
	// A long closes by selling just over the market, a short by buying
	// just under it.
	sell := offsetClosePrice(exchange.OrderSideSell, 100, 0.002)
	buy := offsetClosePrice(exchange.OrderSideBuy, 100, 0.002)
	assert.Greater(t, sell, 100.0)
	assert.Less(t, buy, 100.0)
	assert.InDelta(t, 100.002, sell, 1e-9)
	assert.InDelta(t, 99.998, buy, 1e-9)
}

func TestProfitPercent(t *testing.T) {
	assert.InDelta(t, 2.0, profitPercent(exchange.SideLong, 0.08, 0.0816), 1e-9)
	assert.InDelta(t, -0.5, profitPercent(exchange.SideLong, 0.08, 0.0796), 1e-9)
	assert.InDelta(t, 2.0, profitPercent(exchange.SideShort, 0.08, 0.0784), 1e-9)
	assert.InDelta(t, -1.25, profitPercent(exchange.SideShort, 0.08, 0.081), 1e-9)
	assert.Zero(t, profitPercent(exchange.SideLong, 0, 100))
}
