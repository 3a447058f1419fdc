package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"swingshort/internal/broker/dryrun"
	"swingshort/internal/models"
	"swingshort/internal/orders"
	"swingshort/internal/positions"
)

func testManagerConfig() orders.Config {
	return orders.Config{
		Exchange: "NFO", Product: "MIS", Strategy: "swingshort",
		TickSize: decimal.RequireFromString("0.05"), EntryLimitOffset: decimal.RequireFromString("0.50"),
		SLLimitOffset: decimal.RequireFromString("3.00"), ModificationThreshold: decimal.RequireFromString("1.00"),
		MaxOrderRetries: 3, OrderRetryDelay: time.Millisecond, MaxSLFailureCount: 3,
		EmergencyExitRetries: 3, EmergencyExitDelay: time.Millisecond, LotSize: 75,
	}
}

func TestSeverityString(t *testing.T) {
	cases := map[Severity]string{
		Transient:      "TRANSIENT",
		Permanent:      "PERMANENT",
		RiskCritical:   "RISK_CRITICAL",
		SafetyCritical: "SAFETY_CRITICAL",
	}
	for sev, want := range cases {
		if got := sev.String(); got != want {
			t.Errorf("Severity(%d).String() = %q, want %q", sev, got, want)
		}
	}
}

func TestWrapPreservesSeverityAndUnwraps(t *testing.T) {
	base := errors.New("broker timeout")
	err := wrap(Transient, "place order", base)

	var te *tickError
	if !errors.As(err, &te) {
		t.Fatalf("expected *tickError, got %T", err)
	}
	assert.Equal(t, Transient, te.severity)
	assert.True(t, errors.Is(err, base), "Unwrap should expose the underlying error")
}

func TestWrapNilErrorReturnsNil(t *testing.T) {
	if wrap(SafetyCritical, "op", nil) != nil {
		t.Fatalf("expected wrap(nil) to return nil")
	}
}

func TestMustParseClockValidAndInvalid(t *testing.T) {
	got := mustParseClock("09:15")
	if got.Hour() != 9 || got.Minute() != 15 {
		t.Fatalf("expected 09:15, got %v", got)
	}
	// an invalid clock string falls back to the zero time rather than
	// panicking, since a startup typo must not crash the process.
	got = mustParseClock("not-a-time")
	if !got.IsZero() {
		t.Fatalf("expected zero time fallback for invalid clock, got %v", got)
	}
}

func TestIsWithinSessionAndPastClock(t *testing.T) {
	e := &Engine{loc: time.UTC}
	day := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)

	beforeOpen := day.Add(9 * time.Hour)
	duringSession := day.Add(10 * time.Hour)
	afterClose := day.Add(16 * time.Hour)

	assert.False(t, e.isWithinSession(beforeOpen, "09:15", "15:15"))
	assert.True(t, e.isWithinSession(duringSession, "09:15", "15:15"))
	assert.False(t, e.isWithinSession(afterClose, "09:15", "15:15"))

	assert.False(t, e.pastClock(duringSession, "15:20"))
	assert.True(t, e.pastClock(afterClose, "15:20"))
}

func TestPendingCountByTypeReflectsManagerState(t *testing.T) {
	b := dryrun.New(decimal.RequireFromString("1000000"))
	m := orders.NewManager(b, testManagerConfig())
	e := &Engine{orderMg: m}

	candidate := &models.Candidate{Symbol: "NIFTY25000CE", SwingLow: decimal.RequireFromString("100"), Lots: 1}
	if _, err := m.ManageEntryForType(context.Background(), models.CE, candidate); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := e.pendingCountByType()
	assert.Equal(t, 1, counts[models.CE])
	assert.Equal(t, 0, counts[models.PE])
}

func testTracker() *positions.Tracker {
	return positions.New(positions.Limits{
		MaxPositions: 5, MaxPerType: 3,
		TargetR: decimal.NewFromInt(5), StopR: decimal.NewFromInt(-5),
		RValue: decimal.RequireFromString("750"),
	})
}

func TestManageEntryForTypeWaitsWhenFarFromEntryPrice(t *testing.T) {
	b := dryrun.New(decimal.RequireFromString("1000000"))
	m := orders.NewManager(b, testManagerConfig())
	e := &Engine{orderMg: m, tracker: testTracker()}

	// swing_low 100 -> derived entry 99.95; current price 110 is far outside
	// entryProximityThreshold, so Classify should return wait.
	candidate := &models.Candidate{
		Symbol: "NIFTY25000CE", SwingLow: decimal.RequireFromString("100"),
		EntryPrice: decimal.RequireFromString("99.95"), CurrentPrice: decimal.RequireFromString("110"),
		Lots: 1,
	}
	if err := e.manageEntryForType(context.Background(), models.CE, candidate, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assert.Equal(t, 0, e.pendingCountByType()[models.CE], "expected no resting order while candidate is outside proximity")
}

func TestManageEntryForTypePlacesWhenNearEntryPrice(t *testing.T) {
	b := dryrun.New(decimal.RequireFromString("1000000"))
	m := orders.NewManager(b, testManagerConfig())
	e := &Engine{orderMg: m, tracker: testTracker()}

	candidate := &models.Candidate{
		Symbol: "NIFTY25000CE", SwingLow: decimal.RequireFromString("100"),
		EntryPrice: decimal.RequireFromString("99.95"), CurrentPrice: decimal.RequireFromString("100.50"),
		Lots: 1,
	}
	if err := e.manageEntryForType(context.Background(), models.CE, candidate, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assert.Equal(t, 1, e.pendingCountByType()[models.CE], "expected a resting order once within proximity")
}
