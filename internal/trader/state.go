// Package trader runs the position lifecycle for a single symbol: it sizes
// entries, prices exits, drives orders through a gateway, and enforces the
// safety rails (catastrophic stop, cooldown, margin retry).
package trader

import (
	"time"

	"scalper/internal/gateway/exchange"
)

// Phase is where the lifecycle currently sits. Transitions are strictly
// Flat -> EntryPending -> InPosition -> ExitPending -> Cooldown -> Flat,
// with the catastrophic stop allowed to jump straight to Cooldown.
type Phase string

const (
	PhaseFlat         Phase = "FLAT"
	PhaseEntryPending Phase = "ENTRY_PENDING"
	PhaseInPosition   Phase = "IN_POSITION"
	PhaseExitPending  Phase = "EXIT_PENDING"
	PhaseCooldown     Phase = "COOLDOWN"
)

// CloseReason records why a position was flattened.
type CloseReason string

const (
	CloseReasonTarget       CloseReason = "target"
	CloseReasonStopLoss     CloseReason = "stop_loss"
	CloseReasonCatastrophic CloseReason = "catastrophic_stop"
	CloseReasonManual       CloseReason = "manual"
	CloseReasonExternal     CloseReason = "external"
	CloseReasonShutdown     CloseReason = "shutdown"
)

// TradeOutcome is one completed round trip.
type TradeOutcome struct {
	Symbol     string        `json:"symbol"`
	Side       exchange.Side `json:"side"`
	Quantity   float64       `json:"quantity"`
	EntryPrice float64       `json:"entry_price"`
	ExitPrice  float64       `json:"exit_price"`
	PnL        float64       `json:"pnl"`
	Reason     CloseReason   `json:"reason"`
	OpenedAt   time.Time     `json:"opened_at"`
	ClosedAt   time.Time     `json:"closed_at"`
}

// Stats aggregates session performance.
type Stats struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnL float64 `json:"total_pnl"`
}

func (s *Stats) record(t TradeOutcome) {
	s.Trades++
	s.TotalPnL += t.PnL
	if t.PnL >= 0 {
		s.Wins++
	} else {
		s.Losses++
	}
}

// Snapshot is a read-only view of the machine for the status endpoints.
type Snapshot struct {
	Symbol        string             `json:"symbol"`
	Phase         Phase              `json:"phase"`
	LastPrice     float64            `json:"last_price"`
	Position      *exchange.Position `json:"position,omitempty"`
	CooldownUntil time.Time          `json:"cooldown_until,omitempty"`
	Stats         Stats              `json:"stats"`
	Halted        bool               `json:"halted"`
	UpdatedAt     time.Time          `json:"updated_at"`
}
