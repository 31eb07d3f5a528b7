// Package paper provides a simulated gateway that fills every order
// instantly at its limit price. It lets the full position lifecycle run
// against live market prices without touching a real account.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalper/internal/gateway/exchange"
	"scalper/internal/logger"
	"scalper/internal/market"

	"github.com/google/uuid"
)

type Gateway struct {
	source market.Source
	rules  exchange.SymbolRules

	mu       sync.Mutex
	balance  exchange.Balance
	position *exchange.Position
	stopIDs  []string
	leverage int
}

// New builds a paper gateway backed by a real price source and a synthetic
// wallet holding startBalance of asset.
func New(source market.Source, asset string, startBalance float64, rules exchange.SymbolRules) *Gateway {
	return &Gateway{
		source: source,
		rules:  rules,
		balance: exchange.Balance{
			Asset:     asset,
			Total:     startBalance,
			Available: startBalance,
			UpdatedAt: time.Now(),
		},
		leverage: 1,
	}
}

func (g *Gateway) Name() string { return "paper" }

func (g *Gateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return g.source.LastPrice(ctx, symbol)
}

func (g *Gateway) GetBalance(_ context.Context, _ string) (exchange.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.balance
	b.UpdatedAt = time.Now()
	return b, nil
}

func (g *Gateway) GetOpenPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.position == nil {
		return nil, nil
	}
	pos := *g.position
	if mark, err := g.source.LastPrice(ctx, symbol); err == nil && mark > 0 {
		pos.MarkPrice = mark
		pnl := (mark - pos.EntryPrice) * pos.Quantity
		if pos.Side == exchange.SideShort {
			pnl = -pnl
		}
		pos.UnrealizedPnL = pnl
		g.position.MarkPrice = mark
		g.position.UnrealizedPnL = pnl
	}
	return &pos, nil
}

// PlaceOrder fills entries and exits immediately at the requested price.
// Stop orders are acknowledged and tracked but never trigger; the lifecycle
// exits through its limit path long before a simulated stop would matter.
func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be > 0, got %v", req.Quantity)
	}
	price := req.Price
	if req.Type == exchange.OrderTypeMarket || price <= 0 {
		live, err := g.source.LastPrice(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		price = live
	}

	ack := &exchange.OrderAck{
		OrderID:   "sim-" + uuid.NewString(),
		ClientID:  req.ClientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     price,
		Quantity:  req.Quantity,
		Simulated: true,
		PlacedAt:  time.Now(),
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if req.Type == exchange.OrderTypeStop {
		g.stopIDs = append(g.stopIDs, ack.OrderID)
		return ack, nil
	}
	if req.ReduceOnly {
		g.closeLocked(req, price)
		return ack, nil
	}
	g.openLocked(req, price)
	return ack, nil
}

func (g *Gateway) openLocked(req exchange.OrderRequest, price float64) {
	side := exchange.SideLong
	if req.Side == exchange.OrderSideSell {
		side = exchange.SideShort
	}
	g.position = &exchange.Position{
		Symbol:     req.Symbol,
		Side:       side,
		Quantity:   req.Quantity,
		EntryPrice: price,
		MarkPrice:  price,
		Leverage:   g.leverage,
		OpenedAt:   time.Now(),
	}
	logger.Infof("[paper] filled %s %s qty=%v @ %v", req.Side, req.Symbol, req.Quantity, price)
}

func (g *Gateway) closeLocked(req exchange.OrderRequest, price float64) {
	if g.position == nil {
		return
	}
	pnl := (price - g.position.EntryPrice) * g.position.Quantity
	if g.position.Side == exchange.SideShort {
		pnl = -pnl
	}
	g.balance.Total += pnl
	g.balance.Available += pnl
	g.balance.UpdatedAt = time.Now()
	logger.Infof("[paper] closed %s %s qty=%v @ %v pnl=%.4f",
		g.position.Side, req.Symbol, g.position.Quantity, price, pnl)
	g.position = nil
}

func (g *Gateway) CancelOrder(_ context.Context, _, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, id := range g.stopIDs {
		if id == orderID {
			g.stopIDs = append(g.stopIDs[:i], g.stopIDs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (g *Gateway) CancelStopOrders(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopIDs = nil
	return nil
}

func (g *Gateway) SetLeverage(_ context.Context, _ string, leverage int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leverage = leverage
	return nil
}

func (g *Gateway) SetMarginMode(_ context.Context, _, _ string) error { return nil }

func (g *Gateway) Rules(_ context.Context, _ string) (exchange.SymbolRules, error) {
	return g.rules, nil
}
