package config

import "strings"

// Config is the top-level configuration for the scalping agent.
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Trading  TradingConfig  `toml:"trading"`
	Signal   SignalConfig   `toml:"signal"`
	Risk     RiskConfig     `toml:"risk"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// ExchangeConfig describes how to reach Binance USDⓈ-M futures.
type ExchangeConfig struct {
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	RESTBaseURL    string `toml:"rest_base_url"`
	Testnet        bool   `toml:"testnet"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TradingConfig controls the symbol, leverage and the execution mode.
type TradingConfig struct {
	Symbol            string  `toml:"symbol"`
	Leverage          int     `toml:"leverage"`
	MarginMode        string  `toml:"margin_mode"` // "isolated" | "cross"
	EnableRealTrading bool    `toml:"enable_real_trading"`
	EnableShorts      bool    `toml:"enable_shorts"`
	LoopSeconds       int     `toml:"loop_seconds"`
	CooldownSeconds   int     `toml:"cooldown_seconds"`
	SizingMode        string  `toml:"sizing_mode"` // "percent" | "fixed"
	SizePercent       float64 `toml:"size_percent"`
	FixedMarginUSD    float64 `toml:"fixed_margin_usd"`
	MinMarginUSD      float64 `toml:"min_margin_usd"`
}

// SignalConfig parameterizes the EMA signal source.
type SignalConfig struct {
	Interval    string `toml:"interval"`
	EMAPeriod   int    `toml:"ema_period"`
	CandleLimit int    `toml:"candle_limit"`
}

// RiskConfig holds the exit thresholds. The same parameters can also be
// supplied through a hot-reloadable profile file (profile_path), in which
// case the profile wins over the static values here.
type RiskConfig struct {
	TakeProfitPercent      float64 `toml:"take_profit_percent"`
	StopLossPercent        float64 `toml:"stop_loss_percent"`
	TargetProfitUSD        float64 `toml:"target_profit_usd"`
	CatastrophicStopUSD    float64 `toml:"catastrophic_stop_usd"`
	ExitOffsetPercent      float64 `toml:"exit_offset_percent"`
	StopLimitOffsetPercent float64 `toml:"stop_limit_offset_percent"`
	ProfilePath            string  `toml:"profile_path"`
}

func (t TradingConfig) MarginModeNormalized() string {
	if strings.EqualFold(strings.TrimSpace(t.MarginMode), "cross") {
		return "cross"
	}
	return "isolated"
}

// keySet tracks which config paths were explicitly set in the file, so
// defaults never clobber an explicit zero.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}
