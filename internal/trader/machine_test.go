package trader

import (
	"context"
	"fmt"
	"testing"
	"time"

	"scalper/internal/gateway/exchange"
	"scalper/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	price    float64
	priceErr error
	balance  exchange.Balance
	position *exchange.Position
	rules    exchange.SymbolRules

	placeErrs    []error // consumed one per PlaceOrder call
	placed       []exchange.OrderRequest
	balanceCalls int
	stopCancels  int
	cancelled    []string
	nextOrderID  int
}

func (f *fakeGateway) Name() string { return "fake" }

func (f *fakeGateway) GetPrice(context.Context, string) (float64, error) {
	return f.price, f.priceErr
}

func (f *fakeGateway) GetBalance(context.Context, string) (exchange.Balance, error) {
	f.balanceCalls++
	return f.balance, nil
}

func (f *fakeGateway) GetOpenPosition(context.Context, string) (*exchange.Position, error) {
	if f.position == nil {
		return nil, nil
	}
	pos := *f.position
	return &pos, nil
}

func (f *fakeGateway) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	f.placed = append(f.placed, req)
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.nextOrderID++
	price := req.Price
	if req.Type == exchange.OrderTypeMarket {
		price = f.price
	}
	return &exchange.OrderAck{
		OrderID:  fmt.Sprintf("%d", f.nextOrderID),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Price:    price,
		Quantity: req.Quantity,
		PlacedAt: time.Now(),
	}, nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, _, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeGateway) CancelStopOrders(context.Context, string) error {
	f.stopCancels++
	return nil
}

func (f *fakeGateway) SetLeverage(context.Context, string, int) error      { return nil }
func (f *fakeGateway) SetMarginMode(context.Context, string, string) error { return nil }

func (f *fakeGateway) Rules(context.Context, string) (exchange.SymbolRules, error) {
	return f.rules, nil
}

type fakeSignal struct {
	advice strategy.Advice
	err    error
}

func (s fakeSignal) Name() string { return "fake" }
func (s fakeSignal) Advise(context.Context, string) (strategy.Advice, error) {
	return s.advice, s.err
}

func testRisk() RiskParams {
	return RiskParams{
		TargetProfitUSD:        2.0,
		TakeProfitPercent:      0.6,
		StopLossPercent:        0.4,
		CatastrophicStopUSD:    -3.0,
		ExitOffsetPercent:      0.002,
		StopLimitOffsetPercent: 0.1,
	}
}

func newTestMachine(t *testing.T, gw *fakeGateway, advice strategy.Advice) *Machine {
	t.Helper()
	m, err := NewMachine(MachineConfig{
		Symbol:    "DOGEUSDT",
		Asset:     "USDT",
		Leverage:  10,
		Cooldown:  60 * time.Second,
		Risk:      testRisk,
		AutoEntry: true,
	}, gw, fakeSignal{advice: advice}, PercentSizer{Percent: 10, FloorUSD: 5.5}, RiskTargetPricer{Risk: testRisk})
	require.NoError(t, err)
	return m
}

func newEntryGateway() *fakeGateway {
	return &fakeGateway{
		price:   0.08,
		balance: exchange.Balance{Asset: "USDT", Total: 100, Available: 100},
		rules:   exchange.SymbolRules{QtyStep: 1, MinQty: 1, MinNotional: 5},
	}
}

func TestEntryPlacesLimitOrder(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceLong)

	require.NoError(t, m.Step(context.Background()))

	require.Len(t, gw.placed, 1)
	order := gw.placed[0]
	assert.Equal(t, exchange.OrderSideBuy, order.Side)
	assert.Equal(t, exchange.OrderTypeLimit, order.Type)
	assert.False(t, order.ReduceOnly)
	assert.InDelta(t, 0.08, order.Price, 1e-9)
	// 10% of 100 USDT at 10x on 0.08 is 1250 contracts.
	assert.InDelta(t, 1250, order.Quantity, 1e-9)
	assert.Equal(t, PhaseEntryPending, m.phase)
}

func TestEntryRetriesOnceOnInsufficientMargin(t *testing.T) {
	gw := newEntryGateway()
	gw.placeErrs = []error{
		&exchange.ExchangeError{Op: "order placement", Code: exchange.CodeInsufficientMargin, Message: "Margin is insufficient."},
		nil,
	}
	m := newTestMachine(t, gw, strategy.AdviceLong)

	require.NoError(t, m.Step(context.Background()))

	// One reject, one re-sized retry, and the balance was queried again in
	// between.
	require.Len(t, gw.placed, 2)
	assert.Equal(t, 2, gw.balanceCalls)
	// Retry commits 95% of the fresh available balance: 95 USDT at 10x on
	// 0.08 is 11875 contracts.
	assert.InDelta(t, 11875, gw.placed[1].Quantity, 1e-9)
	assert.Equal(t, PhaseEntryPending, m.phase)
}

func TestEntryGivesUpWhenRetryFailsToo(t *testing.T) {
	gw := newEntryGateway()
	gw.placeErrs = []error{
		&exchange.ExchangeError{Code: exchange.CodeInsufficientMargin},
		&exchange.ExchangeError{Code: exchange.CodeInsufficientMargin},
	}
	m := newTestMachine(t, gw, strategy.AdviceLong)

	require.NoError(t, m.Step(context.Background()))

	assert.Len(t, gw.placed, 2)
	assert.Equal(t, PhaseFlat, m.phase)
}

func TestEntryDoesNotRetryOtherRejects(t *testing.T) {
	gw := newEntryGateway()
	gw.placeErrs = []error{
		&exchange.ExchangeError{Code: exchange.CodePricePrecision, Message: "Precision is over the maximum"},
	}
	m := newTestMachine(t, gw, strategy.AdviceLong)

	require.NoError(t, m.Step(context.Background()))

	assert.Len(t, gw.placed, 1)
	assert.Equal(t, 1, gw.balanceCalls)
	assert.Equal(t, PhaseFlat, m.phase)
}

func TestEntryUsesFloorWhenBalanceTiny(t *testing.T) {
	gw := newEntryGateway()
	gw.balance = exchange.Balance{Asset: "USDT", Total: 2, Available: 2}
	m := newTestMachine(t, gw, strategy.AdviceLong)

	require.NoError(t, m.Step(context.Background()))

	// 10% of 2 USDT is under the 5.5 floor, so the floor is committed and
	// the exchange gets to accept or reject it.
	require.Len(t, gw.placed, 1)
	assert.InDelta(t, 688, gw.placed[0].Quantity, 1e-9)
	assert.Equal(t, PhaseEntryPending, m.phase)
}

func TestEntryFillArmsProtectiveStop(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceLong)
	require.NoError(t, m.Step(context.Background()))
	require.Equal(t, PhaseEntryPending, m.phase)

	// The exchange now reports the filled position.
	gw.position = &exchange.Position{
		Symbol: "DOGEUSDT", Side: exchange.SideLong, Quantity: 1250,
		EntryPrice: 0.08, MarkPrice: 0.08, Leverage: 10,
	}
	require.NoError(t, m.Step(context.Background()))

	require.Len(t, gw.placed, 2) // entry, protective stop
	stop := gw.placed[1]
	assert.Equal(t, exchange.OrderTypeStop, stop.Type)
	assert.True(t, stop.ReduceOnly)
	assert.InDelta(t, 0.07968, stop.TriggerPrice, 1e-9)
	// The limit leg sits past the trigger so a gap through it still fills.
	assert.InDelta(t, 0.07968*(1-0.1/100), stop.Price, 1e-9)
	assert.Less(t, stop.Price, stop.TriggerPrice)
	assert.Equal(t, PhaseInPosition, m.phase)
}

func TestNoExitWhileTargetUnreached(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceLong)
	require.NoError(t, m.Step(context.Background()))
	gw.position = &exchange.Position{
		Symbol: "DOGEUSDT", Side: exchange.SideLong, Quantity: 1250,
		EntryPrice: 0.08, MarkPrice: 0.08,
	}
	require.NoError(t, m.Step(context.Background()))

	// The market never moves, so nothing may close.
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Step(context.Background()))
	}

	assert.Equal(t, PhaseInPosition, m.phase)
	assert.Empty(t, m.trades)
	assert.Len(t, gw.placed, 2) // entry and protective stop only
}

func TestTakeProfitClosesWithOffsetLimit(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceLong)
	require.NoError(t, m.Step(context.Background()))
	gw.position = &exchange.Position{
		Symbol: "DOGEUSDT", Side: exchange.SideLong, Quantity: 1250,
		EntryPrice: 0.08, MarkPrice: 0.08,
	}
	require.NoError(t, m.Step(context.Background()))
	require.Equal(t, PhaseInPosition, m.phase)

	// Price reaches the 2 USDT target.
	gw.price = 0.08161
	require.NoError(t, m.Step(context.Background()))

	require.Equal(t, PhaseExitPending, m.phase)
	exit := gw.placed[len(gw.placed)-1]
	assert.Equal(t, exchange.OrderTypeLimit, exit.Type)
	assert.Equal(t, exchange.OrderSideSell, exit.Side)
	assert.True(t, exit.ReduceOnly)
	assert.InDelta(t, offsetClosePrice(exchange.OrderSideSell, 0.08161, 0.002), exit.Price, 1e-12)

	// The close limit filled; the position is gone.
	gw.position = nil
	require.NoError(t, m.Step(context.Background()))

	require.Len(t, m.trades, 1)
	trade := m.trades[0]
	assert.Equal(t, CloseReasonTarget, trade.Reason)
	assert.InDelta(t, 2.0, trade.PnL, 0.05)
	assert.Equal(t, PhaseCooldown, m.phase)
	assert.Equal(t, 1, m.stats.Wins)
	assert.GreaterOrEqual(t, gw.stopCancels, 1)
}

func TestStopLossClosesWithOffsetLimit(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceLong)
	require.NoError(t, m.Step(context.Background()))
	gw.position = &exchange.Position{
		Symbol: "DOGEUSDT", Side: exchange.SideLong, Quantity: 1250,
		EntryPrice: 0.08, MarkPrice: 0.08,
	}
	require.NoError(t, m.Step(context.Background()))

	// Down 0.5%, through the 0.4% stop.
	gw.price = 0.0796
	require.NoError(t, m.Step(context.Background()))

	require.Equal(t, PhaseExitPending, m.phase)
	exit := gw.placed[len(gw.placed)-1]
	assert.Equal(t, exchange.OrderSideSell, exit.Side)
	assert.True(t, exit.ReduceOnly)
	assert.InDelta(t, offsetClosePrice(exchange.OrderSideSell, 0.0796, 0.002), exit.Price, 1e-12)

	gw.position = nil
	require.NoError(t, m.Step(context.Background()))

	require.Len(t, m.trades, 1)
	assert.Equal(t, CloseReasonStopLoss, m.trades[0].Reason)
	assert.Less(t, m.trades[0].PnL, 0.0)
	assert.Equal(t, 1, m.stats.Losses)
	assert.Equal(t, 0, m.stats.Wins)
}

func TestStopFillRecordedAsLoss(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceLong)
	require.NoError(t, m.Step(context.Background()))
	gw.position = &exchange.Position{
		Symbol: "DOGEUSDT", Side: exchange.SideLong, Quantity: 1250,
		EntryPrice: 0.08, MarkPrice: 0.08,
	}
	require.NoError(t, m.Step(context.Background()))
	require.Equal(t, PhaseInPosition, m.phase)

	// The resting stop fired on the exchange between polls: the position is
	// gone and the mark sits below the trigger.
	gw.position = nil
	gw.price = 0.0796
	require.NoError(t, m.Step(context.Background()))

	require.Len(t, m.trades, 1)
	trade := m.trades[0]
	assert.Equal(t, CloseReasonStopLoss, trade.Reason)
	assert.Less(t, trade.PnL, 0.0)
	assert.Equal(t, 0, m.stats.Wins)
	assert.Equal(t, 1, m.stats.Losses)
	assert.Equal(t, PhaseCooldown, m.phase)
}

func TestCatastrophicStopFlattensAtMarket(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceLong)

	// Adopt an already-open position, then let it bleed past the hard stop.
	gw.position = &exchange.Position{
		Symbol: "DOGEUSDT", Side: exchange.SideLong, Quantity: 1250,
		EntryPrice: 0.08, MarkPrice: 0.078, UnrealizedPnL: -2.5,
	}
	require.NoError(t, m.Step(context.Background()))
	require.Equal(t, PhaseInPosition, m.phase)

	gw.position.UnrealizedPnL = -3.5
	placedBefore := len(gw.placed)
	require.NoError(t, m.Step(context.Background()))

	require.Len(t, gw.placed, placedBefore+1)
	last := gw.placed[len(gw.placed)-1]
	assert.Equal(t, exchange.OrderTypeMarket, last.Type)
	assert.True(t, last.ReduceOnly)
	assert.Equal(t, exchange.OrderSideSell, last.Side)

	require.Len(t, m.trades, 1)
	assert.Equal(t, CloseReasonCatastrophic, m.trades[0].Reason)
	assert.InDelta(t, -3.5, m.trades[0].PnL, 1e-9)
	assert.Equal(t, PhaseCooldown, m.phase)
}

func TestCooldownBlocksEntries(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceLong)
	m.phase = PhaseCooldown
	m.cooldownUntil = time.Now().Add(30 * time.Second)

	require.NoError(t, m.Step(context.Background()))
	assert.Empty(t, gw.placed)
	assert.Equal(t, PhaseCooldown, m.phase)

	// Once the window has passed the same tick may enter again.
	m.cooldownUntil = time.Now().Add(-time.Second)
	require.NoError(t, m.Step(context.Background()))
	assert.Len(t, gw.placed, 1)
	assert.Equal(t, PhaseEntryPending, m.phase)
}

func TestExternalCloseDetected(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceHold)
	gw.position = &exchange.Position{
		Symbol: "DOGEUSDT", Side: exchange.SideShort, Quantity: 500,
		EntryPrice: 0.08, MarkPrice: 0.08,
	}
	require.NoError(t, m.Step(context.Background()))
	require.Equal(t, PhaseInPosition, m.phase)

	// The position vanished while the mark sits inside the stop band, so
	// the close was neither ours nor the protective stop.
	gw.position = nil
	gw.price = 0.0801
	require.NoError(t, m.Step(context.Background()))

	require.Len(t, m.trades, 1)
	trade := m.trades[0]
	assert.Equal(t, CloseReasonExternal, trade.Reason)
	// Short closed at a higher price lost money.
	assert.Less(t, trade.PnL, 0.0)
	assert.Equal(t, PhaseCooldown, m.phase)
}

func TestManualCommands(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceHold)

	require.NoError(t, m.Apply(context.Background(), Command{Kind: CommandOpenShort}))
	require.Len(t, gw.placed, 1)
	assert.Equal(t, exchange.OrderSideSell, gw.placed[0].Side)
	assert.Equal(t, PhaseEntryPending, m.phase)

	// Open while pending is rejected.
	err := m.Apply(context.Background(), Command{Kind: CommandOpenLong})
	assert.Error(t, err)

	// Close with no position is rejected.
	m2 := newTestMachine(t, newEntryGateway(), strategy.AdviceHold)
	err = m2.Apply(context.Background(), Command{Kind: CommandClose})
	assert.Error(t, err)
}

func TestManualCloseUsesOffsetLimit(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceHold)
	gw.position = &exchange.Position{
		Symbol: "DOGEUSDT", Side: exchange.SideLong, Quantity: 1250,
		EntryPrice: 0.08, MarkPrice: 0.08,
	}
	require.NoError(t, m.Step(context.Background()))

	placedBefore := len(gw.placed)
	require.NoError(t, m.Apply(context.Background(), Command{Kind: CommandClose}))

	require.Greater(t, len(gw.placed), placedBefore)
	last := gw.placed[len(gw.placed)-1]
	assert.Equal(t, exchange.OrderTypeLimit, last.Type)
	assert.True(t, last.ReduceOnly)
	// Sell close lands just over the market, keeping the maker nudge.
	assert.Greater(t, last.Price, 0.08)
	assert.InDelta(t, offsetClosePrice(exchange.OrderSideSell, 0.08, 0.002), last.Price, 1e-12)
	assert.Equal(t, PhaseExitPending, m.phase)
}

func TestStaleEntryCancelledAfterWaitWindow(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceLong)
	require.NoError(t, m.Step(context.Background()))
	require.Equal(t, PhaseEntryPending, m.phase)
	entryID := m.entryAck.OrderID

	// The limit never fills. Once the wait window lapses the order is
	// cancelled and the machine goes back to flat.
	m.signal = fakeSignal{advice: strategy.AdviceHold}
	m.entryPlacedAt = time.Now().Add(-2 * time.Minute)
	require.NoError(t, m.Step(context.Background()))

	assert.Equal(t, PhaseFlat, m.phase)
	assert.Nil(t, m.entryAck)
	assert.Contains(t, gw.cancelled, entryID)
}

func TestStaleExitRepricedAtMarket(t *testing.T) {
	gw := newEntryGateway()
	m := newTestMachine(t, gw, strategy.AdviceLong)
	require.NoError(t, m.Step(context.Background()))
	gw.position = &exchange.Position{
		Symbol: "DOGEUSDT", Side: exchange.SideLong, Quantity: 1250,
		EntryPrice: 0.08, MarkPrice: 0.08,
	}
	require.NoError(t, m.Step(context.Background()))
	gw.price = 0.0817
	require.NoError(t, m.Step(context.Background()))
	require.Equal(t, PhaseExitPending, m.phase)
	staleID := m.exitAck.OrderID

	// The close sat unfilled past the wait window; it is cancelled and a
	// fresh one goes out at the current market.
	gw.price = 0.0818
	m.exitPlacedAt = time.Now().Add(-2 * time.Minute)
	require.NoError(t, m.Step(context.Background()))

	assert.Contains(t, gw.cancelled, staleID)
	require.Equal(t, PhaseExitPending, m.phase)
	require.NotNil(t, m.exitAck)
	assert.NotEqual(t, staleID, m.exitAck.OrderID)
	assert.InDelta(t, offsetClosePrice(exchange.OrderSideSell, 0.0818, 0.002), m.exitAck.Price, 1e-12)
}

func TestReconcileAdoptsLeftoverPosition(t *testing.T) {
	gw := newEntryGateway()
	gw.position = &exchange.Position{
		Symbol: "DOGEUSDT", Side: exchange.SideLong, Quantity: 42,
		EntryPrice: 0.079,
	}
	m := newTestMachine(t, gw, strategy.AdviceHold)

	require.NoError(t, m.Reconcile(context.Background()))
	assert.Equal(t, PhaseInPosition, m.phase)
	require.NotNil(t, m.position)
	assert.InDelta(t, 42, m.position.Quantity, 1e-9)
}
