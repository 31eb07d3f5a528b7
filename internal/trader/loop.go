package trader

import (
	"context"
	"fmt"
	"time"

	"scalper/internal/gateway/exchange"
	"scalper/internal/logger"
	"scalper/internal/pkg/circuit"
)

// networkFailureThreshold is how many consecutive network errors stop the
// run. Each failure below the threshold backs off twice the polling
// interval before the next attempt.
const networkFailureThreshold = 3

// Loop drives the machine on a fixed polling interval and serializes
// manual commands with ticks. The breaker counts consecutive network
// failures; once it opens the run ends with an error.
type Loop struct {
	machine  *Machine
	interval time.Duration
	breaker  *circuit.Breaker
	commands chan Command
}

func NewLoop(machine *Machine, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Loop{
		machine:  machine,
		interval: interval,
		breaker:  circuit.NewBreaker("exchange", networkFailureThreshold, 2*interval),
		commands: make(chan Command, 8),
	}
}

// Submit queues a manual command for the next tick boundary. It returns
// false when the queue is full.
func (l *Loop) Submit(cmd Command) bool {
	select {
	case l.commands <- cmd:
		return true
	default:
		return false
	}
}

// Halted reports whether the network-failure threshold has been reached.
func (l *Loop) Halted() bool { return l.breaker.Open() }

// Run blocks until ctx is cancelled or the network-failure threshold is
// reached, which ends the run with an error. On shutdown with an open
// position it warns loudly instead of closing it; the position survives
// the process.
func (l *Loop) Run(ctx context.Context) error {
	logger.Infof("[loop] polling every %s", l.interval)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.warnOnExit()
			return ctx.Err()
		case cmd := <-l.commands:
			cmd.reply(l.machine.Apply(ctx, cmd))
		case <-ticker.C:
			err := l.machine.Step(ctx)
			if err == nil {
				l.breaker.Success()
				continue
			}
			if l.observe(err) {
				l.warnOnExit()
				return fmt.Errorf("stopping after %d consecutive network failures: %w",
					networkFailureThreshold, err)
			}
			if exchange.IsNetwork(err) && !l.backoff(ctx) {
				l.warnOnExit()
				return ctx.Err()
			}
		}
	}
}

// observe folds a tick failure into the breaker and reports whether the
// run must stop. Trading rejections are not connectivity problems and
// clear the streak.
func (l *Loop) observe(err error) bool {
	if !exchange.IsNetwork(err) {
		logger.Errorf("[loop] tick failed: %v", err)
		l.breaker.Success()
		return false
	}
	l.breaker.Failure()
	logger.Warnf("[loop] network failure %d/%d: %v", l.breaker.Failures(), networkFailureThreshold, err)
	return l.breaker.Open()
}

// backoff pauses twice the polling interval before the next retry. It
// returns false when the context was cancelled during the wait.
func (l *Loop) backoff(ctx context.Context) bool {
	logger.Infof("[loop] retrying in %s", 2*l.interval)
	timer := time.NewTimer(2 * l.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (l *Loop) warnOnExit() {
	if pos, open := l.machine.OpenExposure(); open {
		logger.Warnf("[loop] SHUTTING DOWN WITH OPEN %s POSITION: %s qty=%v entry=%v, manage it on the exchange",
			pos.Side, pos.Symbol, pos.Quantity, pos.EntryPrice)
		return
	}
	logger.Infof("[loop] stopped flat")
}
