// Package app assembles the agent and orchestrates its lifecycle: the
// trading loop and the status server run until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"

	"scalper/internal/config"
	"scalper/internal/gateway/binance"
	"scalper/internal/gateway/exchange"
	"scalper/internal/riskprofile"
	"scalper/internal/trader"
	status "scalper/internal/transport/http/status"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg      *config.Config
	live     *binance.Gateway
	gateway  exchange.Gateway
	machine  *trader.Machine
	loop     *trader.Loop
	server   *status.Server
	registry *riskprofile.Registry
}

// NewApp builds the application from config without touching the network.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return build(cfg)
}

// Run prepares the exchange session and blocks until ctx is cancelled or a
// component fails. Context cancellation is a clean shutdown, not an error.
func (a *App) Run(ctx context.Context) error {
	if err := a.Prepare(ctx); err != nil {
		return fmt.Errorf("exchange setup: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.loop.Run(ctx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Machine exposes the lifecycle for harnesses and tests.
func (a *App) Machine() *trader.Machine { return a.machine }
