package exchange

import "context"

// Gateway is the stateless request/response adapter to the exchange. The
// exchange itself is the source of truth for positions; the gateway never
// caches them.
type Gateway interface {
	Name() string

	GetPrice(ctx context.Context, symbol string) (float64, error)

	GetBalance(ctx context.Context, asset string) (Balance, error)

	// GetOpenPosition returns nil when there is no open exposure.
	GetOpenPosition(ctx context.Context, symbol string) (*Position, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	CancelOrder(ctx context.Context, symbol, orderID string) error

	// CancelStopOrders cancels any pending stop orders left behind by a
	// protective bracket, so a fresh cycle starts clean.
	CancelStopOrders(ctx context.Context, symbol string) error

	SetLeverage(ctx context.Context, symbol string, leverage int) error

	SetMarginMode(ctx context.Context, symbol, mode string) error

	// Rules returns the trading constraints for the symbol.
	Rules(ctx context.Context, symbol string) (SymbolRules, error)
}

// TimeSyncer is implemented by gateways that need their local clock aligned
// with the exchange before the first signed call.
type TimeSyncer interface {
	SyncTime(ctx context.Context) error
}
