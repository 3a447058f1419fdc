// Package engine wires the data pipeline, swing detector, strike filter,
// order manager, position tracker, state store, and notifier together into
// the autonomous tick loop: nine startup steps, then a cooperative
// single-threaded loop that runs until a kill request or an unrecoverable
// error.
package engine

// Severity classifies a tick-loop error by how the orchestrator must react:
// a logged warning, a forced position close, or an immediate shutdown.
type Severity int

const (
	// Transient errors are logged and the tick continues; a retry next
	// iteration is expected to succeed (a broker timeout, a dropped tick).
	Transient Severity = iota
	// Permanent errors mean a particular operation cannot succeed as
	// attempted (a rejected order, a malformed symbol); logged, the
	// affected candidate or order is dropped, and the tick continues.
	Permanent
	// RiskCritical errors leave a position's risk undefined (SL placement
	// failed) and force an immediate market exit of that position alone.
	RiskCritical
	// SafetyCritical errors put the whole session's integrity in doubt
	// (state store unreachable, broker reconciliation impossible) and
	// force a full emergency shutdown.
	SafetyCritical
)

func (s Severity) String() string {
	switch s {
	case Transient:
		return "TRANSIENT"
	case Permanent:
		return "PERMANENT"
	case RiskCritical:
		return "RISK_CRITICAL"
	case SafetyCritical:
		return "SAFETY_CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// tickError pairs an error with the severity the tick loop must react to.
type tickError struct {
	severity Severity
	op       string
	err      error
}

func (e *tickError) Error() string {
	return e.severity.String() + " " + e.op + ": " + e.err.Error()
}

func (e *tickError) Unwrap() error { return e.err }

func wrap(sev Severity, op string, err error) error {
	if err == nil {
		return nil
	}
	return &tickError{severity: sev, op: op, err: err}
}
