package binance

import (
	"context"
	"fmt"

	"scalper/internal/market"
)

// FetchHistory returns the most recent closed-and-forming klines for the
// symbol, oldest first. The last element is the still-forming candle.
func (g *Gateway) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("kline limit must be > 0, got %d", limit)
	}
	klines, err := g.client.NewKlinesService().
		Symbol(cleanSymbol(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classifyError("kline fetch", err)
	}
	candles := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		candles = append(candles, market.Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			Trades:    k.TradeNum,
		})
	}
	return candles, nil
}

// LastPrice satisfies market.Source with the same ticker endpoint the
// trading loop uses.
func (g *Gateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return g.GetPrice(ctx, symbol)
}
