package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Exchange.validate(&c.Trading); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Signal.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	return nil
}

func (e *ExchangeConfig) validate(t *TradingConfig) error {
	if e.TimeoutSeconds <= 0 {
		return fmt.Errorf("exchange.timeout_seconds must be > 0")
	}
	if t != nil && t.EnableRealTrading {
		if strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "" {
			return fmt.Errorf("exchange.api_key and exchange.api_secret are required when trading.enable_real_trading is true")
		}
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("trading.symbol cannot be empty")
	}
	if t.Leverage < 1 || t.Leverage > 125 {
		return fmt.Errorf("trading.leverage must be within [1,125], got %d", t.Leverage)
	}
	switch strings.ToLower(strings.TrimSpace(t.MarginMode)) {
	case "isolated", "cross":
	default:
		return fmt.Errorf("trading.margin_mode must be isolated or cross, got %q", t.MarginMode)
	}
	switch strings.ToLower(strings.TrimSpace(t.SizingMode)) {
	case "percent":
		if t.SizePercent <= 0 || t.SizePercent > 100 {
			return fmt.Errorf("trading.size_percent must be within (0,100], got %v", t.SizePercent)
		}
	case "fixed":
		if t.FixedMarginUSD <= 0 {
			return fmt.Errorf("trading.fixed_margin_usd must be > 0, got %v", t.FixedMarginUSD)
		}
	default:
		return fmt.Errorf("trading.sizing_mode must be percent or fixed, got %q", t.SizingMode)
	}
	if t.LoopSeconds <= 0 {
		return fmt.Errorf("trading.loop_seconds must be > 0")
	}
	if t.CooldownSeconds < 0 {
		return fmt.Errorf("trading.cooldown_seconds must be >= 0")
	}
	if t.MinMarginUSD <= 0 {
		return fmt.Errorf("trading.min_margin_usd must be > 0")
	}
	return nil
}

func (s *SignalConfig) validate() error {
	if strings.TrimSpace(s.Interval) == "" {
		return fmt.Errorf("signal.interval cannot be empty")
	}
	if s.EMAPeriod < 2 {
		return fmt.Errorf("signal.ema_period must be >= 2, got %d", s.EMAPeriod)
	}
	if s.CandleLimit < s.EMAPeriod {
		return fmt.Errorf("signal.candle_limit must be >= signal.ema_period")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.TakeProfitPercent <= 0 {
		return fmt.Errorf("risk.take_profit_percent must be > 0")
	}
	if r.StopLossPercent <= 0 {
		return fmt.Errorf("risk.stop_loss_percent must be > 0")
	}
	if r.TargetProfitUSD <= 0 {
		return fmt.Errorf("risk.target_profit_usd must be > 0")
	}
	if r.CatastrophicStopUSD >= 0 {
		return fmt.Errorf("risk.catastrophic_stop_usd must be negative (it is a loss threshold)")
	}
	if r.ExitOffsetPercent <= 0 {
		return fmt.Errorf("risk.exit_offset_percent must be > 0")
	}
	if r.StopLimitOffsetPercent <= 0 {
		return fmt.Errorf("risk.stop_limit_offset_percent must be > 0")
	}
	return nil
}
