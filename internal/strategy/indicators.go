package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// EMA computes an exponential moving average over the close series.
// The leading period-1 slots are not meaningful and are left as produced.
func EMA(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	return talib.Ema(closes, period)
}

// latestValid walks a series backwards to the most recent finite value.
func latestValid(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, true
		}
	}
	return 0, false
}
