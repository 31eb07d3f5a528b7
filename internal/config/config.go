package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML config file at path, fills in defaults for everything
// the file leaves unset and validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	flattenConfigKeys("", v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
		for _, item := range val {
			flattenConfigKeys(prefix, item, dest)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}

// Summary renders the startup banner describing the effective configuration.
func (c *Config) Summary() string {
	mode := "SIMULATION (paper trading)"
	if c.Trading.EnableRealTrading {
		mode = "REAL TRADING"
	}
	sizing := fmt.Sprintf("%.1f%% of available balance", c.Trading.SizePercent)
	if strings.EqualFold(c.Trading.SizingMode, "fixed") {
		sizing = fmt.Sprintf("%.2f USDT fixed margin", c.Trading.FixedMarginUSD)
	}
	lines := []string{
		"==== scalper configuration ====",
		fmt.Sprintf("symbol: %s  leverage: %dx  margin: %s", c.Trading.Symbol, c.Trading.Leverage, c.Trading.MarginModeNormalized()),
		fmt.Sprintf("mode: %s  shorts: %v", mode, c.Trading.EnableShorts),
		fmt.Sprintf("signal: EMA(%d) on %s candles", c.Signal.EMAPeriod, c.Signal.Interval),
		fmt.Sprintf("sizing: %s (floor %.2f USDT)", sizing, c.Trading.MinMarginUSD),
		fmt.Sprintf("risk: TP +%.2f%%  SL -%.2f%%  target %.2f USDT  hard stop %.2f USD",
			c.Risk.TakeProfitPercent, c.Risk.StopLossPercent, c.Risk.TargetProfitUSD, c.Risk.CatastrophicStopUSD),
		fmt.Sprintf("loop: %ds  cooldown: %ds", c.Trading.LoopSeconds, c.Trading.CooldownSeconds),
		"===============================",
	}
	return strings.Join(lines, "\n")
}
