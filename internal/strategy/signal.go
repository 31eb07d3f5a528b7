// Package strategy decides whether the agent should open a position and in
// which direction. Signals consume candle history and never talk to the
// exchange directly.
package strategy

import (
	"context"
	"fmt"
	"sync"

	"scalper/internal/market"
)

// Advice is a signal's verdict for the current tick.
type Advice string

const (
	AdviceHold  Advice = "hold"
	AdviceLong  Advice = "long"
	AdviceShort Advice = "short"
)

// Signal produces entry advice from market data. Implementations must be
// safe for repeated calls on the polling interval.
type Signal interface {
	Name() string
	Advise(ctx context.Context, symbol string) (Advice, error)
}

// EMASignalConfig controls the EMA trend-following signal.
type EMASignalConfig struct {
	Interval    string // kline interval, e.g. "1m"
	Period      int    // EMA lookback
	CandleLimit int    // candles fetched per evaluation, must exceed Period
	AllowShorts bool
}

// EMASignal goes long when the last price trades above its EMA and short
// (when permitted) below it. Price exactly on the average is a hold.
type EMASignal struct {
	cfg    EMASignalConfig
	source market.Source

	mu      sync.Mutex
	lastEMA float64
	hasEMA  bool
}

func NewEMASignal(cfg EMASignalConfig, source market.Source) (*EMASignal, error) {
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("ema period must be > 0, got %d", cfg.Period)
	}
	if cfg.CandleLimit <= cfg.Period {
		cfg.CandleLimit = cfg.Period + 10
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	return &EMASignal{cfg: cfg, source: source}, nil
}

func (s *EMASignal) Name() string {
	return fmt.Sprintf("ema%d@%s", s.cfg.Period, s.cfg.Interval)
}

// LastEMA returns the most recent EMA value, if one has been computed.
func (s *EMASignal) LastEMA() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEMA, s.hasEMA
}

func (s *EMASignal) Advise(ctx context.Context, symbol string) (Advice, error) {
	candles, err := s.source.FetchHistory(ctx, symbol, s.cfg.Interval, s.cfg.CandleLimit)
	if err != nil {
		return AdviceHold, fmt.Errorf("fetch history: %w", err)
	}
	if len(candles) < s.cfg.Period {
		return AdviceHold, fmt.Errorf("need %d candles for ema, got %d", s.cfg.Period, len(candles))
	}
	closes := market.Closes(candles)
	ema, ok := latestValid(EMA(closes, s.cfg.Period))
	if !ok {
		return AdviceHold, fmt.Errorf("ema%d produced no finite value", s.cfg.Period)
	}
	s.mu.Lock()
	s.lastEMA = ema
	s.hasEMA = true
	s.mu.Unlock()
	price := closes[len(closes)-1]
	switch {
	case price > ema:
		return AdviceLong, nil
	case price < ema && s.cfg.AllowShorts:
		return AdviceShort, nil
	default:
		return AdviceHold, nil
	}
}
