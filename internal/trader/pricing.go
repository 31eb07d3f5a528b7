package trader

import (
	"fmt"

	"scalper/internal/gateway/exchange"
)

// ExitPricer computes the take-profit price for an open position.
type ExitPricer interface {
	ExitPrice(side exchange.Side, entryPrice, quantity float64) (float64, error)
}

// FixedUSDTarget prices the exit so the position earns TargetUSD when the
// limit fills: exit = entry ± target/quantity. Long targets sit above the
// entry, short targets below.
type FixedUSDTarget struct {
	TargetUSD float64
}

func (p FixedUSDTarget) ExitPrice(side exchange.Side, entryPrice, quantity float64) (float64, error) {
	if entryPrice <= 0 {
		return 0, fmt.Errorf("entry price must be > 0, got %v", entryPrice)
	}
	if quantity <= 0 {
		return 0, fmt.Errorf("quantity must be > 0, got %v", quantity)
	}
	if p.TargetUSD <= 0 {
		return 0, fmt.Errorf("target profit must be > 0, got %v", p.TargetUSD)
	}
	delta := p.TargetUSD / quantity
	switch side {
	case exchange.SideLong:
		return entryPrice + delta, nil
	case exchange.SideShort:
		price := entryPrice - delta
		if price <= 0 {
			return 0, fmt.Errorf("short exit price %.8f not positive (entry %v, delta %v)", price, entryPrice, delta)
		}
		return price, nil
	default:
		return 0, fmt.Errorf("cannot price exit for side %q", side)
	}
}

// PercentTarget prices the exit a fixed percentage away from the entry.
type PercentTarget struct {
	Percent float64 // e.g. 0.6 for 0.6%
}

func (p PercentTarget) ExitPrice(side exchange.Side, entryPrice, _ float64) (float64, error) {
	if entryPrice <= 0 {
		return 0, fmt.Errorf("entry price must be > 0, got %v", entryPrice)
	}
	if p.Percent <= 0 {
		return 0, fmt.Errorf("target percent must be > 0, got %v", p.Percent)
	}
	switch side {
	case exchange.SideLong:
		return entryPrice * (1 + p.Percent/100), nil
	case exchange.SideShort:
		return entryPrice * (1 - p.Percent/100), nil
	default:
		return 0, fmt.Errorf("cannot price exit for side %q", side)
	}
}

// RiskTargetPricer reads the live risk parameters on every call, so a
// hot-reloaded target applies to the next exit without a rebuild. A fixed
// USD target wins over the percentage target when both are set.
type RiskTargetPricer struct {
	Risk func() RiskParams
}

func (p RiskTargetPricer) ExitPrice(side exchange.Side, entryPrice, quantity float64) (float64, error) {
	risk := p.Risk()
	if risk.TargetProfitUSD > 0 {
		return FixedUSDTarget{TargetUSD: risk.TargetProfitUSD}.ExitPrice(side, entryPrice, quantity)
	}
	return PercentTarget{Percent: risk.TakeProfitPercent}.ExitPrice(side, entryPrice, quantity)
}

// StopPrice mirrors the exit pricing on the losing side: a long stops below
// the entry, a short above it.
func StopPrice(side exchange.Side, entryPrice, stopLossPercent float64) float64 {
	if side == exchange.SideShort {
		return entryPrice * (1 + stopLossPercent/100)
	}
	return entryPrice * (1 - stopLossPercent/100)
}

// StopLimitPrice places the stop's limit past the trigger on the losing
// side, so the order still fills when price gaps through the trigger.
func StopLimitPrice(side exchange.Side, triggerPrice, offsetPercent float64) float64 {
	if side == exchange.SideShort {
		return triggerPrice * (1 + offsetPercent/100)
	}
	return triggerPrice * (1 - offsetPercent/100)
}

// offsetClosePrice nudges a close limit slightly past the market on the
// profitable side: a long closes by selling just above the mark, a short by
// buying just below it.
func offsetClosePrice(orderSide exchange.OrderSide, price, offsetPercent float64) float64 {
	if orderSide == exchange.OrderSideSell {
		return price * (1 + offsetPercent/100)
	}
	return price * (1 - offsetPercent/100)
}

// profitPercent is the sign-adjusted price move of a position in percent: a
// long gains when price rises, a short when it falls.
func profitPercent(side exchange.Side, entryPrice, currentPrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	pct := (currentPrice - entryPrice) / entryPrice * 100
	if side == exchange.SideShort {
		return -pct
	}
	return pct
}
