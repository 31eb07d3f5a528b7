// Package exchange defines a common abstraction for the futures exchange
// the agent trades on. The live implementation wraps Binance; the paper
// implementation fakes fills so the same lifecycle runs without real orders.
package exchange

import (
	"math"
	"strings"
	"time"
)

// Side is the direction of an open position.
type Side string

const (
	SideNone  Side = ""
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OrderSide is the direction of an individual order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
	OrderTypeStop   OrderType = "stop"
)

// EntryOrderSide maps a position side to the order side that opens it.
func EntryOrderSide(side Side) OrderSide {
	if side == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitOrderSide maps a position side to the order side that flattens it.
func ExitOrderSide(side Side) OrderSide {
	if side == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Position is the exchange-reported open exposure for one symbol.
// Quantity is always an unsigned magnitude; direction lives in Side.
type Position struct {
	Symbol        string
	Side          Side
	Quantity      float64 // base-asset units, > 0 iff Side != SideNone
	EntryPrice    float64
	MarkPrice     float64
	Leverage      int
	UnrealizedPnL float64 // quote currency
	OpenedAt      time.Time
}

func (p *Position) IsOpen() bool {
	return p != nil && p.Side != SideNone && p.Quantity > 0
}

// PositionFromContracts normalizes a signed contract amount as reported by
// the exchange (negative = short) into Side + unsigned Quantity. A zero
// amount yields a flat position.
func PositionFromContracts(symbol string, contracts, entryPrice, markPrice, unrealized float64, leverage int) Position {
	pos := Position{
		Symbol:        strings.ToUpper(strings.TrimSpace(symbol)),
		EntryPrice:    entryPrice,
		MarkPrice:     markPrice,
		Leverage:      leverage,
		UnrealizedPnL: unrealized,
	}
	switch {
	case contracts > 0:
		pos.Side = SideLong
		pos.Quantity = contracts
	case contracts < 0:
		pos.Side = SideShort
		pos.Quantity = math.Abs(contracts)
	}
	return pos
}

// Balance is the futures wallet state for the stake currency.
type Balance struct {
	Asset     string
	Total     float64
	Available float64
	UpdatedAt time.Time
}

// OrderRequest is the intent to trade handed to a gateway.
type OrderRequest struct {
	Symbol       string
	Side         OrderSide
	Type         OrderType
	Quantity     float64 // base-asset units, must respect the step size
	Price        float64 // limit price, required for limit/stop orders
	TriggerPrice float64 // stop trigger, required for stop orders
	ReduceOnly   bool    // set on every exit order
	ClientID     string
	TimeInForce  string // defaults to GTC for limit orders
}

// Notional is the quote-currency size of the order at its limit price.
func (r OrderRequest) Notional() float64 {
	return r.Quantity * r.Price
}

// OrderAck confirms the exchange accepted an order.
type OrderAck struct {
	OrderID   string
	ClientID  string
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Price     float64
	Quantity  float64
	Simulated bool
	PlacedAt  time.Time
}

// SymbolRules carries the exchange constraints an order must satisfy.
type SymbolRules struct {
	Symbol      string
	QtyStep     float64 // minimum quantity increment
	MinQty      float64
	PriceTick   float64
	MinNotional float64 // minimum price*quantity in quote currency
}
