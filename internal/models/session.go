package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperationalState is the orchestrator's coarse lifecycle state.
type OperationalState string

const (
	StateStarting OperationalState = "STARTING"
	StateActive   OperationalState = "ACTIVE"
	StateWaiting  OperationalState = "WAITING"
	StatePaused   OperationalState = "PAUSED"
	StateShutdown OperationalState = "SHUTDOWN"
	StateError    OperationalState = "ERROR"
)

// Daily exit reasons.
const (
	ExitReasonTargetR   = "+5R_TARGET"
	ExitReasonStopR     = "-5R_STOP"
	ExitReasonEOD       = "EOD"
	ExitReasonEmergency = "EMERGENCY"
	ExitReasonPhantom   = "PHANTOM"
)

// SessionState is the day's top-level dashboard/control record.
type SessionState struct {
	TradeDate          string
	CumulativeR        decimal.Decimal
	DailyExitTriggered bool
	DailyExitReason    string

	Operational  OperationalState
	ErrorReason  string
	PauseRequested bool
	KillRequested  bool

	StateEnteredAt time.Time
}

// NewSessionState resets the dashboard for a fresh trade date.
func NewSessionState(tradeDate string) SessionState {
	return SessionState{
		TradeDate:      tradeDate,
		CumulativeR:    decimal.Zero,
		Operational:    StateStarting,
		StateEnteredAt: time.Now(),
	}
}
