package trader

import (
	"context"
	"fmt"
	"time"

	"scalper/internal/gateway/exchange"
	"scalper/internal/logger"
	"scalper/internal/strategy"
)

// marginRetryHaircut shrinks the re-sized margin after an insufficient
// margin reject, leaving room for fees and price drift.
const marginRetryHaircut = 0.95

// Pending orders that sit unfilled this long get cancelled: a stale entry
// returns the machine to flat, a stale close is re-priced at the current
// market.
const (
	entryWaitTimeout = 60 * time.Second
	exitWaitTimeout  = 60 * time.Second
)

// RiskParams are the safety knobs the machine consults every tick. They
// come through a provider so a hot-reloaded risk profile takes effect
// without a restart.
type RiskParams struct {
	TargetProfitUSD        float64
	TakeProfitPercent      float64
	StopLossPercent        float64
	CatastrophicStopUSD    float64 // negative; unrealized PnL at or below it flattens immediately
	ExitOffsetPercent      float64
	StopLimitOffsetPercent float64
}

// MachineConfig wires the fixed parameters of the lifecycle.
type MachineConfig struct {
	Symbol    string
	Asset     string // stake currency, e.g. USDT
	Leverage  int
	Cooldown  time.Duration
	Risk      func() RiskParams
	AutoEntry bool // false parks the machine in manual-only mode
}

// Machine owns the single-symbol position lifecycle. It is not safe for
// concurrent use; the loop serializes ticks and commands onto it.
type Machine struct {
	cfg     MachineConfig
	gateway exchange.Gateway
	signal  strategy.Signal
	sizer   Sizer
	pricer  ExitPricer

	phase         Phase
	position      *exchange.Position
	entryAck      *exchange.OrderAck
	exitAck       *exchange.OrderAck
	stopAck       *exchange.OrderAck
	pendingReason CloseReason
	entryPlacedAt time.Time
	exitPlacedAt  time.Time
	cooldownUntil time.Time
	lastPrice     float64
	stats         Stats
	trades        []TradeOutcome
	updatedAt     time.Time
}

func NewMachine(cfg MachineConfig, gw exchange.Gateway, sig strategy.Signal, sizer Sizer, pricer ExitPricer) (*Machine, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("machine needs a symbol")
	}
	if cfg.Asset == "" {
		cfg.Asset = "USDT"
	}
	if cfg.Risk == nil {
		return nil, fmt.Errorf("machine needs a risk provider")
	}
	if gw == nil || sizer == nil || pricer == nil {
		return nil, fmt.Errorf("machine needs a gateway, sizer and pricer")
	}
	return &Machine{
		cfg:     cfg,
		gateway: gw,
		signal:  sig,
		sizer:   sizer,
		pricer:  pricer,
		phase:   PhaseFlat,
	}, nil
}

// Reconcile aligns the machine with the exchange at startup. A position
// left over from a previous run is adopted rather than abandoned.
func (m *Machine) Reconcile(ctx context.Context) error {
	pos, err := m.gateway.GetOpenPosition(ctx, m.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("startup position check: %w", err)
	}
	if pos.IsOpen() {
		logger.Warnf("[machine] adopting existing %s position: qty=%v entry=%v upnl=%.4f",
			pos.Side, pos.Quantity, pos.EntryPrice, pos.UnrealizedPnL)
		m.position = pos
		m.phase = PhaseInPosition
	}
	return nil
}

// Step runs one lifecycle tick. Network errors bubble up so the loop can
// count them toward its halt threshold; trading rejections are handled in
// place and do not fail the tick.
func (m *Machine) Step(ctx context.Context) error {
	price, err := m.gateway.GetPrice(ctx, m.cfg.Symbol)
	if err != nil {
		return err
	}
	m.lastPrice = price
	m.updatedAt = time.Now()

	pos, err := m.gateway.GetOpenPosition(ctx, m.cfg.Symbol)
	if err != nil {
		return err
	}

	if err := m.reconcileTick(ctx, pos, price); err != nil {
		return err
	}

	switch m.phase {
	case PhaseCooldown:
		if time.Now().Before(m.cooldownUntil) {
			return nil
		}
		m.phase = PhaseFlat
		logger.Infof("[machine] cooldown over, resuming")
		fallthrough
	case PhaseFlat:
		if !m.cfg.AutoEntry || m.signal == nil {
			return nil
		}
		advice, err := m.signal.Advise(ctx, m.cfg.Symbol)
		if err != nil {
			logger.Warnf("[machine] signal error: %v", err)
			return nil
		}
		switch advice {
		case strategy.AdviceLong:
			m.openPosition(ctx, exchange.SideLong, price)
		case strategy.AdviceShort:
			m.openPosition(ctx, exchange.SideShort, price)
		}
	case PhaseInPosition:
		if pos.IsOpen() {
			m.armStop(ctx, pos)
			return m.checkExit(ctx, pos, price)
		}
	}
	return nil
}

// checkExit evaluates the position against the take-profit target and the
// stop-loss percentage and, when either is hit, places the offset close
// limit with the reason recorded.
func (m *Machine) checkExit(ctx context.Context, pos *exchange.Position, price float64) error {
	risk := m.cfg.Risk()
	target, err := m.pricer.ExitPrice(pos.Side, pos.EntryPrice, pos.Quantity)
	if err != nil {
		logger.Errorf("[machine] exit pricing failed: %v", err)
		return nil
	}
	pct := profitPercent(pos.Side, pos.EntryPrice, price)

	targetHit := (pos.Side == exchange.SideLong && price >= target) ||
		(pos.Side == exchange.SideShort && price <= target)
	switch {
	case targetHit:
		logger.Infof("[machine] take profit reached: %+.2f%% at %v (target %v)", pct, price, target)
		return m.closeWithLimit(ctx, pos, price, CloseReasonTarget)
	case risk.StopLossPercent > 0 && pct <= -risk.StopLossPercent:
		logger.Warnf("[machine] stop loss reached: %+.2f%% at %v", pct, price)
		return m.closeWithLimit(ctx, pos, price, CloseReasonStopLoss)
	}
	return nil
}

// reconcileTick folds the exchange-reported position into the lifecycle
// before any new action is taken.
func (m *Machine) reconcileTick(ctx context.Context, pos *exchange.Position, price float64) error {
	open := pos.IsOpen()

	switch m.phase {
	case PhaseEntryPending:
		if !open {
			if m.entryAck != nil && time.Since(m.entryPlacedAt) > entryWaitTimeout {
				logger.Warnf("[machine] entry order unfilled after %s, cancelling", entryWaitTimeout)
				m.cancelEntryOrder(ctx)
				m.phase = PhaseFlat
			}
			return nil // entry limit not filled yet
		}
		m.position = pos
		m.entryAck = nil
		m.phase = PhaseInPosition
		logger.Infof("[machine] entry filled: %s qty=%v @ %v", pos.Side, pos.Quantity, pos.EntryPrice)
		m.armStop(ctx, pos)
	case PhaseInPosition, PhaseExitPending:
		if !open {
			m.finishTrade(ctx, price)
			return nil
		}
		m.position = pos
		if m.catastrophic(pos) {
			logger.Errorf("[machine] catastrophic stop: unrealized %.4f <= %.4f, flattening at market",
				pos.UnrealizedPnL, m.cfg.Risk().CatastrophicStopUSD)
			return m.flatten(ctx, pos, CloseReasonCatastrophic, price)
		}
		if m.phase == PhaseExitPending && time.Since(m.exitPlacedAt) > exitWaitTimeout {
			logger.Warnf("[machine] close order unfilled after %s, re-pricing at the market", exitWaitTimeout)
			m.cancelExitOrder(ctx)
			m.pendingReason = ""
			m.phase = PhaseInPosition
		}
	case PhaseFlat, PhaseCooldown:
		if open {
			// Opened outside the agent, or left over after a restart.
			logger.Warnf("[machine] found unexpected %s position, adopting", pos.Side)
			m.position = pos
			m.phase = PhaseInPosition
		}
	}
	return nil
}

func (m *Machine) catastrophic(pos *exchange.Position) bool {
	limit := m.cfg.Risk().CatastrophicStopUSD
	return limit < 0 && pos.UnrealizedPnL <= limit
}

// openPosition sizes and submits an entry limit order. An insufficient
// margin reject triggers exactly one re-sized retry against a fresh
// balance; any other failure gives up until the next signal.
func (m *Machine) openPosition(ctx context.Context, side exchange.Side, price float64) {
	balance, err := m.gateway.GetBalance(ctx, m.cfg.Asset)
	if err != nil {
		logger.Warnf("[machine] balance fetch failed, skipping entry: %v", err)
		return
	}
	margin, err := m.sizer.MarginFor(balance)
	if err != nil {
		logger.Warnf("[machine] not entering: %v", err)
		return
	}
	rules, err := m.gateway.Rules(ctx, m.cfg.Symbol)
	if err != nil {
		logger.Warnf("[machine] rules fetch failed, skipping entry: %v", err)
		return
	}

	ack, err := m.submitEntry(ctx, side, margin, price, rules)
	if err != nil && exchange.IsInsufficientMargin(err) {
		fresh, berr := m.gateway.GetBalance(ctx, m.cfg.Asset)
		if berr != nil {
			logger.Warnf("[machine] balance re-query after margin reject failed: %v", berr)
			return
		}
		retryMargin := fresh.Available * marginRetryHaircut
		logger.Warnf("[machine] insufficient margin for %.4f, retrying once with %.4f", margin, retryMargin)
		ack, err = m.submitEntry(ctx, side, retryMargin, price, rules)
	}
	if err != nil {
		logger.Warnf("[machine] entry failed: %v", err)
		return
	}
	m.entryAck = ack
	m.entryPlacedAt = time.Now()
	m.phase = PhaseEntryPending
	logger.Infof("[machine] entry order placed: %s %s qty=%v @ %v id=%s",
		side, m.cfg.Symbol, ack.Quantity, ack.Price, ack.OrderID)
}

func (m *Machine) submitEntry(ctx context.Context, side exchange.Side, margin, price float64, rules exchange.SymbolRules) (*exchange.OrderAck, error) {
	qty, err := QuantityFor(margin, price, m.cfg.Leverage, rules)
	if err != nil {
		return nil, err
	}
	return m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   m.cfg.Symbol,
		Side:     exchange.EntryOrderSide(side),
		Type:     exchange.OrderTypeLimit,
		Quantity: qty,
		Price:    price,
	})
}

// armStop places the protective stop-limit for a filled position: a reduce
// only stop triggered at the stop-loss price with its limit nudged past the
// trigger, so a gap through the trigger still fills. A failed placement is
// retried on the next tick.
func (m *Machine) armStop(ctx context.Context, pos *exchange.Position) {
	risk := m.cfg.Risk()
	if m.stopAck != nil || risk.StopLossPercent <= 0 {
		return
	}
	trigger := StopPrice(pos.Side, pos.EntryPrice, risk.StopLossPercent)
	limit := StopLimitPrice(pos.Side, trigger, risk.StopLimitOffsetPercent)
	ack, err := m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:       m.cfg.Symbol,
		Side:         exchange.ExitOrderSide(pos.Side),
		Type:         exchange.OrderTypeStop,
		Quantity:     pos.Quantity,
		Price:        limit,
		TriggerPrice: trigger,
		ReduceOnly:   true,
	})
	if err != nil {
		logger.Warnf("[machine] stop-loss placement failed: %v", err)
		return
	}
	m.stopAck = ack
	logger.Infof("[machine] stop-loss armed: trigger %v limit %v", trigger, limit)
}

// flatten closes the position at market and starts cooldown without waiting
// for the next tick to observe the fill.
func (m *Machine) flatten(ctx context.Context, pos *exchange.Position, reason CloseReason, price float64) error {
	m.cancelWorkingOrders(ctx)
	_, err := m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     m.cfg.Symbol,
		Side:       exchange.ExitOrderSide(pos.Side),
		Type:       exchange.OrderTypeMarket,
		Quantity:   pos.Quantity,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("market flatten: %w", err)
	}
	m.recordOutcome(pos, price, pos.UnrealizedPnL, reason)
	m.enterCooldown()
	return nil
}

// closeWithLimit places a reduce-only limit just past the market on the
// profitable side, keeping limit-order fee treatment while filling as the
// price touches it.
func (m *Machine) closeWithLimit(ctx context.Context, pos *exchange.Position, price float64, reason CloseReason) error {
	m.cancelWorkingOrders(ctx)
	side := exchange.ExitOrderSide(pos.Side)
	limit := offsetClosePrice(side, price, m.cfg.Risk().ExitOffsetPercent)
	ack, err := m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     m.cfg.Symbol,
		Side:       side,
		Type:       exchange.OrderTypeLimit,
		Quantity:   pos.Quantity,
		Price:      limit,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("limit close: %w", err)
	}
	m.exitAck = ack
	m.pendingReason = reason
	m.exitPlacedAt = time.Now()
	m.phase = PhaseExitPending
	logger.Infof("[machine] close order placed @ %v (%s)", ack.Price, reason)
	return nil
}

// finishTrade handles the tick where the exchange no longer reports a
// position. A pending close order means our exit filled at its limit; a
// flat account with the price through the stop trigger means the protective
// stop fired; anything else was closed externally (liquidation, manual
// action on the exchange).
func (m *Machine) finishTrade(ctx context.Context, price float64) {
	pos := m.position
	if pos == nil {
		m.phase = PhaseFlat
		return
	}
	reason := m.pendingReason
	exitPrice := price
	stopLoss := m.cfg.Risk().StopLossPercent
	switch {
	case m.exitAck != nil && reason != "":
		exitPrice = m.exitAck.Price
	case m.stopAck != nil && stopLoss > 0 && profitPercent(pos.Side, pos.EntryPrice, price) <= -stopLoss:
		reason = CloseReasonStopLoss
		logger.Warnf("[machine] protective stop filled near %v", price)
	default:
		reason = CloseReasonExternal
		logger.Warnf("[machine] %s position closed externally near %v", pos.Side, price)
	}
	pnl := (exitPrice - pos.EntryPrice) * pos.Quantity
	if pos.Side == exchange.SideShort {
		pnl = -pnl
	}
	m.cancelWorkingOrders(ctx)
	m.recordOutcome(pos, exitPrice, pnl, reason)
	m.enterCooldown()
}

func (m *Machine) recordOutcome(pos *exchange.Position, exitPrice, pnl float64, reason CloseReason) {
	outcome := TradeOutcome{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		Reason:     reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   time.Now(),
	}
	m.stats.record(outcome)
	m.trades = append(m.trades, outcome)
	logger.Infof("[machine] trade closed: %s %s entry=%v exit=%v pnl=%.4f reason=%s (session: %d trades, %.4f %s)",
		outcome.Side, outcome.Symbol, outcome.EntryPrice, outcome.ExitPrice, outcome.PnL, outcome.Reason,
		m.stats.Trades, m.stats.TotalPnL, m.cfg.Asset)
}

func (m *Machine) enterCooldown() {
	m.position = nil
	m.entryAck = nil
	m.exitAck = nil
	m.stopAck = nil
	m.pendingReason = ""
	m.cooldownUntil = time.Now().Add(m.cfg.Cooldown)
	m.phase = PhaseCooldown
	logger.Infof("[machine] cooling down until %s", m.cooldownUntil.Format(time.TimeOnly))
}

func (m *Machine) cancelEntryOrder(ctx context.Context) {
	if m.entryAck != nil && !m.entryAck.Simulated {
		if err := m.gateway.CancelOrder(ctx, m.cfg.Symbol, m.entryAck.OrderID); err != nil {
			logger.Warnf("[machine] entry order cancel: %v", err)
		}
	}
	m.entryAck = nil
}

func (m *Machine) cancelExitOrder(ctx context.Context) {
	if m.exitAck != nil && !m.exitAck.Simulated {
		if err := m.gateway.CancelOrder(ctx, m.cfg.Symbol, m.exitAck.OrderID); err != nil {
			logger.Debugf("[machine] exit order cancel: %v", err)
		}
	}
	m.exitAck = nil
}

func (m *Machine) cancelWorkingOrders(ctx context.Context) {
	m.cancelExitOrder(ctx)
	if err := m.gateway.CancelStopOrders(ctx, m.cfg.Symbol); err != nil {
		logger.Warnf("[machine] stop order cleanup: %v", err)
	}
	m.stopAck = nil
}

// Apply executes a manual command on the current tick boundary.
func (m *Machine) Apply(ctx context.Context, cmd Command) error {
	if err := validateCommand(cmd.Kind); err != nil {
		return err
	}
	switch cmd.Kind {
	case CommandOpenLong, CommandOpenShort:
		if m.phase != PhaseFlat && m.phase != PhaseCooldown {
			return fmt.Errorf("cannot open: lifecycle is %s", m.phase)
		}
		price, err := m.gateway.GetPrice(ctx, m.cfg.Symbol)
		if err != nil {
			return err
		}
		side := exchange.SideLong
		if cmd.Kind == CommandOpenShort {
			side = exchange.SideShort
		}
		m.phase = PhaseFlat // manual entry overrides a running cooldown
		m.openPosition(ctx, side, price)
		if m.phase != PhaseEntryPending {
			return fmt.Errorf("manual %s entry was not accepted", side)
		}
		return nil
	case CommandClose:
		pos, err := m.gateway.GetOpenPosition(ctx, m.cfg.Symbol)
		if err != nil {
			return err
		}
		if !pos.IsOpen() {
			return fmt.Errorf("no open position to close")
		}
		price, err := m.gateway.GetPrice(ctx, m.cfg.Symbol)
		if err != nil {
			return err
		}
		m.position = pos
		return m.closeWithLimit(ctx, pos, price, CloseReasonManual)
	}
	return nil
}

// Snapshot returns a copy of the observable state.
func (m *Machine) Snapshot() Snapshot {
	snap := Snapshot{
		Symbol:        m.cfg.Symbol,
		Phase:         m.phase,
		LastPrice:     m.lastPrice,
		CooldownUntil: m.cooldownUntil,
		Stats:         m.stats,
		UpdatedAt:     m.updatedAt,
	}
	if m.position != nil {
		pos := *m.position
		snap.Position = &pos
	}
	return snap
}

// Trades returns the completed round trips of this session, oldest first.
func (m *Machine) Trades() []TradeOutcome {
	out := make([]TradeOutcome, len(m.trades))
	copy(out, m.trades)
	return out
}

// OpenExposure describes the current position for shutdown warnings.
func (m *Machine) OpenExposure() (*exchange.Position, bool) {
	if m.position.IsOpen() {
		pos := *m.position
		return &pos, true
	}
	return nil, false
}
