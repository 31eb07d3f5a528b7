package app

import (
	"context"
	"fmt"
	"time"

	"scalper/internal/config"
	"scalper/internal/gateway/binance"
	"scalper/internal/gateway/exchange"
	"scalper/internal/gateway/paper"
	"scalper/internal/logger"
	"scalper/internal/market"
	"scalper/internal/riskprofile"
	"scalper/internal/strategy"
	"scalper/internal/trader"
	status "scalper/internal/transport/http/status"
)

// paperStartBalance seeds the simulated wallet.
const paperStartBalance = 1000

// build assembles the dependency graph by hand: config in, running pieces
// out. Construction never talks to the network; Prepare does that.
func build(cfg *config.Config) (*App, error) {
	live, err := binance.New(binance.Config{
		APIKey:      cfg.Exchange.APIKey,
		APISecret:   cfg.Exchange.APISecret,
		RESTBaseURL: cfg.Exchange.RESTBaseURL,
		HTTPTimeout: time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("build binance gateway: %w", err)
	}

	// Market data always comes from the real exchange; klines and tickers
	// are unsigned endpoints, so paper mode trades against live prices.
	var source market.Source = live
	var gw exchange.Gateway = live
	if !cfg.Trading.EnableRealTrading {
		gw = paper.New(source, "USDT", paperStartBalance, exchange.SymbolRules{Symbol: cfg.Trading.Symbol})
		logger.Warnf("real trading disabled, orders are simulated")
	}

	riskFn, registry, err := buildRisk(cfg.Risk)
	if err != nil {
		return nil, err
	}

	signal, err := strategy.NewEMASignal(strategy.EMASignalConfig{
		Interval:    cfg.Signal.Interval,
		Period:      cfg.Signal.EMAPeriod,
		CandleLimit: cfg.Signal.CandleLimit,
		AllowShorts: cfg.Trading.EnableShorts,
	}, source)
	if err != nil {
		return nil, fmt.Errorf("build signal: %w", err)
	}

	machine, err := trader.NewMachine(trader.MachineConfig{
		Symbol:    cfg.Trading.Symbol,
		Asset:     "USDT",
		Leverage:  cfg.Trading.Leverage,
		Cooldown:  time.Duration(cfg.Trading.CooldownSeconds) * time.Second,
		Risk:      riskFn,
		AutoEntry: true,
	}, gw, signal, buildSizer(cfg.Trading), trader.RiskTargetPricer{Risk: riskFn})
	if err != nil {
		return nil, fmt.Errorf("build machine: %w", err)
	}

	loop := trader.NewLoop(machine, time.Duration(cfg.Trading.LoopSeconds)*time.Second)

	server, err := status.NewServer(status.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Loop:      loop,
		Machine:   machine,
		Source:    source,
		Signal:    signal,
		Symbol:    cfg.Trading.Symbol,
		Interval:  cfg.Signal.Interval,
		EMAPeriod: cfg.Signal.EMAPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("build status server: %w", err)
	}

	return &App{
		cfg:      cfg,
		live:     live,
		gateway:  gw,
		machine:  machine,
		loop:     loop,
		server:   server,
		registry: registry,
	}, nil
}

func buildSizer(t config.TradingConfig) trader.Sizer {
	if t.SizingMode == "fixed" {
		return trader.FixedSizer{MarginUSD: t.FixedMarginUSD, FloorUSD: t.MinMarginUSD}
	}
	return trader.PercentSizer{Percent: t.SizePercent, FloorUSD: t.MinMarginUSD}
}

// buildRisk returns the risk provider: either a hot-reloading registry when
// a profile path is configured, or the static config values.
func buildRisk(r config.RiskConfig) (func() trader.RiskParams, *riskprofile.Registry, error) {
	static := trader.RiskParams{
		TargetProfitUSD:        r.TargetProfitUSD,
		TakeProfitPercent:      r.TakeProfitPercent,
		StopLossPercent:        r.StopLossPercent,
		CatastrophicStopUSD:    r.CatastrophicStopUSD,
		ExitOffsetPercent:      r.ExitOffsetPercent,
		StopLimitOffsetPercent: r.StopLimitOffsetPercent,
	}
	if r.ProfilePath == "" {
		return func() trader.RiskParams { return static }, nil, nil
	}
	registry, err := riskprofile.NewRegistry(r.ProfilePath, riskprofile.Profile{
		TargetProfitUSD:        r.TargetProfitUSD,
		TakeProfitPercent:      r.TakeProfitPercent,
		StopLossPercent:        r.StopLossPercent,
		CatastrophicStopUSD:    r.CatastrophicStopUSD,
		ExitOffsetPercent:      r.ExitOffsetPercent,
		StopLimitOffsetPercent: r.StopLimitOffsetPercent,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build risk profile registry: %w", err)
	}
	registry.OnChange(func(snap riskprofile.Snapshot) {
		logger.Infof("risk profile updated to v%d", snap.Version)
	})
	return registry.Params, registry, nil
}

// Prepare performs the one-time exchange setup: clock sync, leverage and
// margin mode, then reconciles any position left from a previous run.
func (a *App) Prepare(ctx context.Context) error {
	if a.cfg.Trading.EnableRealTrading {
		if err := a.live.SyncTime(ctx); err != nil {
			logger.Warnf("server time sync failed: %v", err)
		}
	}
	symbol := a.cfg.Trading.Symbol
	if err := a.gateway.SetLeverage(ctx, symbol, a.cfg.Trading.Leverage); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	if err := a.gateway.SetMarginMode(ctx, symbol, a.cfg.Trading.MarginModeNormalized()); err != nil {
		return fmt.Errorf("set margin mode: %w", err)
	}
	return a.machine.Reconcile(ctx)
}
