package trader

import (
	"fmt"

	"scalper/internal/gateway/exchange"

	"github.com/shopspring/decimal"
)

// notionalHeadroom pads the minimum-notional bump so price movement between
// sizing and submission does not drop the order back under the filter.
const notionalHeadroom = 1.04

// Sizer decides how much margin (quote currency) to commit to an entry.
type Sizer interface {
	MarginFor(balance exchange.Balance) (float64, error)
}

// PercentSizer commits a fixed percentage of the available balance, never
// less than FloorUSD. A balance below the floor still sizes at the floor;
// if the account truly cannot cover it the exchange rejects the order and
// the margin-retry path takes over.
type PercentSizer struct {
	Percent  float64 // e.g. 10 for 10%
	FloorUSD float64
}

func (s PercentSizer) MarginFor(balance exchange.Balance) (float64, error) {
	margin := balance.Available * s.Percent / 100
	if margin < s.FloorUSD {
		margin = s.FloorUSD
	}
	return margin, nil
}

// FixedSizer commits the same margin on every entry, floored the same way.
type FixedSizer struct {
	MarginUSD float64
	FloorUSD  float64
}

func (s FixedSizer) MarginFor(exchange.Balance) (float64, error) {
	margin := s.MarginUSD
	if margin < s.FloorUSD {
		margin = s.FloorUSD
	}
	return margin, nil
}

// QuantityFor turns committed margin into an order quantity at the given
// price and leverage, rounded UP to the quantity step so the resulting
// margin use never falls below what was sized. The result is re-bumped if
// the notional still sits under the exchange minimum.
func QuantityFor(marginUSD, price float64, leverage int, rules exchange.SymbolRules) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("price must be > 0, got %v", price)
	}
	if leverage <= 0 {
		leverage = 1
	}
	notional := marginUSD * float64(leverage)
	qty := ceilToStep(notional/price, rules.QtyStep)
	if rules.MinQty > 0 && qty < rules.MinQty {
		qty = rules.MinQty
	}
	if rules.MinNotional > 0 && qty*price < rules.MinNotional {
		qty = ceilToStep(rules.MinNotional*notionalHeadroom/price, rules.QtyStep)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("sized quantity is zero for margin %.4f at price %v", marginUSD, price)
	}
	return qty, nil
}

// ceilToStep rounds up to the next multiple of step. Rounding down would
// shrink the order below the sized margin, so up is the only safe direction.
func ceilToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	units := v.Div(s).Ceil()
	f, _ := units.Mul(s).Float64()
	return f
}
