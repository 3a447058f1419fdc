// Package positions tracks open short positions, R-accounting, the
// ±5R daily exit, and broker reconciliation with throttled discrepancy
// alerts.
package positions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"swingshort/internal/broker"
	"swingshort/internal/models"
)

// Limits carries the env-configured position caps.
type Limits struct {
	MaxPositions int
	MaxPerType   int
	TargetR      decimal.Decimal // +5R
	StopR        decimal.Decimal // -5R, expressed as a negative number
	RValue       decimal.Decimal // R_VALUE: the rupee risk one R represents
}

// Tracker owns open/closed position state for the session.
type Tracker struct {
	mu sync.Mutex

	limits Limits

	open   map[string]*models.Position
	closed []models.Position

	cumulativeR         decimal.Decimal
	dailyExitTriggered  bool
	dailyExitReason     string

	orphanAlerted   map[string]bool // symbol, throttled once per day
	mismatchAlerted map[string]bool // symbol|tracked|broker, throttled once per day
}

// New returns an empty Tracker for the given caps.
func New(limits Limits) *Tracker {
	return &Tracker{
		limits:          limits,
		open:            make(map[string]*models.Position),
		orphanAlerted:   make(map[string]bool),
		mismatchAlerted: make(map[string]bool),
	}
}

// RestoreOpenPositions seeds the open-position map from persisted rows on
// startup, preserving entry/exit timestamps exactly as stored rather than
// stamping them with time.Now as AddPosition does for a fresh fill.
func (t *Tracker) RestoreOpenPositions(positions []models.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range positions {
		p := positions[i]
		t.open[p.Symbol] = &p
	}
}

// RestoreCumulativeR seeds the session's cumulative R from the persisted
// daily_state row on startup.
func (t *Tracker) RestoreCumulativeR(r decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cumulativeR = r
}

// OpenSymbols returns the set of symbols currently tracked open, for
// callers that need to exclude them from candidate selection or fold them
// into a reconciliation pass.
func (t *Tracker) OpenSymbols() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.open))
	for symbol := range t.open {
		out[symbol] = true
	}
	return out
}

// ResetForNewDay zeroes cumulative R and clears daily-exit state and
// reconciliation throttle sets. The closed-trade history is not cleared.
func (t *Tracker) ResetForNewDay() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cumulativeR = decimal.Zero
	t.dailyExitTriggered = false
	t.dailyExitReason = ""
	t.orphanAlerted = make(map[string]bool)
	t.mismatchAlerted = make(map[string]bool)
}

// CanOpen reports whether a new position of option type T may be opened
// for symbol, given open and pending-entry counts.
func (t *Tracker) CanOpen(symbol string, optType models.OptionType, pendingByType map[models.OptionType]int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dailyExitTriggered {
		return false
	}
	if _, exists := t.open[symbol]; exists {
		return false
	}

	total := len(t.open)
	for _, n := range pendingByType {
		total += n
	}
	if total >= t.limits.MaxPositions {
		return false
	}

	perType := pendingByType[optType]
	for _, p := range t.open {
		if p.OptionType == optType {
			perType++
		}
	}
	return perType < t.limits.MaxPerType
}

// AddPosition records a newly filled entry as an open position.
func (t *Tracker) AddPosition(symbol string, optType models.OptionType, strike int, entryPrice, slPrice decimal.Decimal, quantity int64, rActual decimal.Decimal, swingLow, vwap decimal.Decimal) models.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos := models.Position{
		Symbol:            symbol,
		OptionType:        optType,
		Strike:            strike,
		EntryPrice:        entryPrice,
		SLPrice:           slPrice,
		Quantity:          quantity,
		RActual:           rActual,
		EntryTime:         time.Now(),
		CurrentPrice:      entryPrice,
		CandidateSwingLow: swingLow,
		CandidateVWAP:     vwap,
	}
	t.open[symbol] = &pos
	return pos
}

// UpdatePrices recomputes unrealized P&L and unrealized R for every open
// position from a symbol→LTP snapshot. Since this is a short, P&L is
// (entry - current) * quantity; R is that same P&L normalized by R_VALUE,
// not by the position's own SL distance.
func (t *Tracker) UpdatePrices(ltp map[string]decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for symbol, pos := range t.open {
		price, ok := ltp[symbol]
		if !ok {
			continue
		}
		pos.CurrentPrice = price
		pos.UnrealizedPL = pos.EntryPrice.Sub(price).Mul(decimal.NewFromInt(pos.Quantity))
		if t.limits.RValue.IsPositive() {
			pos.UnrealizedR = pos.UnrealizedPL.Div(t.limits.RValue)
		}
	}
}

// ClosePosition marks a tracked position closed, records realized P&L/R,
// and rolls it into cumulative R.
func (t *Tracker) ClosePosition(symbol string, exitPrice decimal.Decimal, reason string) (models.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.open[symbol]
	if !ok {
		return models.Position{}, fmt.Errorf("close position: no open position for %s", symbol)
	}
	t.closeLocked(pos, exitPrice, reason)
	closed := *pos
	delete(t.open, symbol)
	return closed, nil
}

func (t *Tracker) closeLocked(pos *models.Position, exitPrice decimal.Decimal, reason string) {
	pos.Closed = true
	pos.ExitPrice = exitPrice
	pos.ExitTime = time.Now()
	pos.ExitReason = reason
	pos.RealizedPL = pos.EntryPrice.Sub(exitPrice).Mul(decimal.NewFromInt(pos.Quantity))
	if t.limits.RValue.IsPositive() {
		pos.RealizedR = pos.RealizedPL.Div(t.limits.RValue)
	}
	t.cumulativeR = t.cumulativeR.Add(pos.RealizedR)
	t.closed = append(t.closed, *pos)
}

// CloseAllPositions closes every open position at the given prices, used
// for the daily ±5R exit and EOD force-close.
func (t *Tracker) CloseAllPositions(reason string, prices map[string]decimal.Decimal) []models.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	var closed []models.Position
	for symbol, pos := range t.open {
		exitPrice := pos.CurrentPrice
		if p, ok := prices[symbol]; ok {
			exitPrice = p
		}
		t.closeLocked(pos, exitPrice, reason)
		closed = append(closed, *pos)
		delete(t.open, symbol)
	}
	return closed
}

// CheckDailyExit returns a non-empty reason once cumulative plus unrealized
// R crosses the ±5R threshold, and the same reason on every later call that
// day; callers are responsible for idempotency of the handler they run in
// response (the orchestrator checks its own already-triggered flag).
func (t *Tracker) CheckDailyExit() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dailyExitTriggered {
		return t.dailyExitReason
	}
	unrealized := decimal.Zero
	for _, pos := range t.open {
		unrealized = unrealized.Add(pos.UnrealizedR)
	}
	total := t.cumulativeR.Add(unrealized)
	switch {
	case total.GreaterThanOrEqual(t.limits.TargetR):
		t.dailyExitTriggered = true
		t.dailyExitReason = models.ExitReasonTargetR
	case total.LessThanOrEqual(t.limits.StopR):
		t.dailyExitTriggered = true
		t.dailyExitReason = models.ExitReasonStopR
	}
	return t.dailyExitReason
}

// DailyExitTriggered reports whether a daily exit has already fired today.
func (t *Tracker) DailyExitTriggered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dailyExitTriggered
}

// GetSummary returns the aggregate view used for status reports and
// notifications.
func (t *Tracker) GetSummary() models.PositionSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	byType := make(map[models.OptionType]int)
	totalPL := decimal.Zero
	for _, pos := range t.open {
		byType[pos.OptionType]++
		totalPL = totalPL.Add(pos.UnrealizedPL)
	}
	for _, pos := range t.closed {
		totalPL = totalPL.Add(pos.RealizedPL)
	}
	return models.PositionSummary{
		OpenCount:       len(t.open),
		OpenCountByType: byType,
		CumulativeR:     t.cumulativeR,
		TotalPL:         totalPL,
		ClosedCount:     len(t.closed),
		DailyExitReason: t.dailyExitReason,
		Timestamp:       time.Now(),
	}
}

// ReconcileResult reports the three discrepancy classes reconciliation
// can find.
type ReconcileResult struct {
	PhantomClosed      []string // locally tracked, broker qty 0 -> closed as PHANTOM
	Orphaned           []string // broker qty != 0, not tracked locally, newly alerted
	QuantityMismatches []string // tracked qty != broker qty, newly alerted
}

// ReconcileWithBroker fetches the broker's position book and reconciles it
// against local open positions, classifying discrepancies as phantom
// closes, orphans, or quantity mismatches. Orphan and mismatch alerts are
// throttled to once per symbol (or unique mismatch tuple) per trading day.
func (t *Tracker) ReconcileWithBroker(ctx context.Context, b broker.Broker) (ReconcileResult, error) {
	brokerPositions, err := b.Positionbook(ctx)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile: %w", err)
	}
	bysymbol := make(map[string]models.BrokerPosition, len(brokerPositions))
	for _, p := range brokerPositions {
		bysymbol[p.Symbol] = p
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var result ReconcileResult

	for symbol, pos := range t.open {
		bp, tracked := bysymbol[symbol]
		if !tracked || bp.Quantity == 0 {
			t.closeLocked(pos, pos.CurrentPrice, models.ExitReasonPhantom)
			delete(t.open, symbol)
			result.PhantomClosed = append(result.PhantomClosed, symbol)
			continue
		}
		if abs64(bp.Quantity) != pos.Quantity {
			key := fmt.Sprintf("%s|%d|%d", symbol, pos.Quantity, bp.Quantity)
			if !t.mismatchAlerted[key] {
				t.mismatchAlerted[key] = true
				result.QuantityMismatches = append(result.QuantityMismatches, key)
			}
		}
	}

	for symbol, bp := range bysymbol {
		if bp.Quantity == 0 {
			continue
		}
		if _, tracked := t.open[symbol]; tracked {
			continue
		}
		if !t.orphanAlerted[symbol] {
			t.orphanAlerted[symbol] = true
			result.Orphaned = append(result.Orphaned, symbol)
		}
	}

	return result, nil
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
