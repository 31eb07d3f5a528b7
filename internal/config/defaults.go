package config

import "strings"

// Defaults mirror the values the strategy was tuned with.
const (
	defaultAppEnv       = "dev"
	defaultAppLogLevel  = "info"
	defaultAppHTTPAddr  = ":9980"
	defaultRESTBaseURL  = "https://fapi.binance.com"
	defaultTestnetURL   = "https://testnet.binancefuture.com"
	defaultHTTPTimeout  = 15
	defaultSymbol       = "DOGEUSDT"
	defaultLeverage     = 10
	defaultMarginMode   = "isolated"
	defaultLoopSeconds  = 3
	defaultCooldownSec  = 60
	defaultSizingMode   = "percent"
	defaultSizePercent  = 10
	defaultFixedMargin  = 5
	defaultMinMarginUSD = 5.5
	defaultInterval     = "1m"
	defaultEMAPeriod    = 12
	defaultCandleLimit  = 0 // resolved from ema_period when unset

	defaultTakeProfitPct  = 0.6
	defaultStopLossPct    = 0.4
	defaultTargetUSD      = 2.0
	defaultCatastrophicSL = -3.0
	defaultExitOffsetPct  = 0.002
	defaultStopLimitOff   = 0.1
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Signal.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	base := defaultRESTBaseURL
	if e.Testnet {
		base = defaultTestnetURL
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.rest_base_url", &e.RESTBaseURL, base),
		fieldDefault{
			key:   "exchange.timeout_seconds",
			need:  func() bool { return e.TimeoutSeconds <= 0 },
			apply: func() { e.TimeoutSeconds = defaultHTTPTimeout },
		},
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.symbol", &t.Symbol, defaultSymbol),
		stringFieldDefault("trading.margin_mode", &t.MarginMode, defaultMarginMode),
		stringFieldDefault("trading.sizing_mode", &t.SizingMode, defaultSizingMode),
		fieldDefault{
			key:   "trading.leverage",
			need:  func() bool { return t.Leverage <= 0 },
			apply: func() { t.Leverage = defaultLeverage },
		},
		fieldDefault{
			key:   "trading.loop_seconds",
			need:  func() bool { return t.LoopSeconds <= 0 },
			apply: func() { t.LoopSeconds = defaultLoopSeconds },
		},
		fieldDefault{
			key:   "trading.cooldown_seconds",
			need:  func() bool { return t.CooldownSeconds <= 0 },
			apply: func() { t.CooldownSeconds = defaultCooldownSec },
		},
		fieldDefault{
			key:   "trading.size_percent",
			need:  func() bool { return t.SizePercent <= 0 },
			apply: func() { t.SizePercent = defaultSizePercent },
		},
		fieldDefault{
			key:   "trading.fixed_margin_usd",
			need:  func() bool { return t.FixedMarginUSD <= 0 },
			apply: func() { t.FixedMarginUSD = defaultFixedMargin },
		},
		fieldDefault{
			key:   "trading.min_margin_usd",
			need:  func() bool { return t.MinMarginUSD <= 0 },
			apply: func() { t.MinMarginUSD = defaultMinMarginUSD },
		},
	)
}

func (s *SignalConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("signal.interval", &s.Interval, defaultInterval),
		fieldDefault{
			key:   "signal.ema_period",
			need:  func() bool { return s.EMAPeriod <= 0 },
			apply: func() { s.EMAPeriod = defaultEMAPeriod },
		},
	)
	if s.CandleLimit <= 0 {
		// A few spare candles beyond the EMA window keep the average stable.
		s.CandleLimit = s.EMAPeriod + 10
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.take_profit_percent",
			need:  func() bool { return r.TakeProfitPercent <= 0 },
			apply: func() { r.TakeProfitPercent = defaultTakeProfitPct },
		},
		fieldDefault{
			key:   "risk.stop_loss_percent",
			need:  func() bool { return r.StopLossPercent <= 0 },
			apply: func() { r.StopLossPercent = defaultStopLossPct },
		},
		fieldDefault{
			key:   "risk.target_profit_usd",
			need:  func() bool { return r.TargetProfitUSD <= 0 },
			apply: func() { r.TargetProfitUSD = defaultTargetUSD },
		},
		fieldDefault{
			key:   "risk.catastrophic_stop_usd",
			need:  func() bool { return r.CatastrophicStopUSD >= 0 },
			apply: func() { r.CatastrophicStopUSD = defaultCatastrophicSL },
		},
		fieldDefault{
			key:   "risk.exit_offset_percent",
			need:  func() bool { return r.ExitOffsetPercent <= 0 },
			apply: func() { r.ExitOffsetPercent = defaultExitOffsetPct },
		},
		fieldDefault{
			key:   "risk.stop_limit_offset_percent",
			need:  func() bool { return r.StopLimitOffsetPercent <= 0 },
			apply: func() { r.StopLimitOffsetPercent = defaultStopLimitOff },
		},
	)
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
