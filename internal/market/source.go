package market

import "context"

// Source supplies the market data the signal source consumes. A failed or
// empty fetch means the caller skips the cycle; it is never fatal.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	LastPrice(ctx context.Context, symbol string) (float64, error)
}
