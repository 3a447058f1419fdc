package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"swingshort/internal/broker/dryrun"
	"swingshort/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() Config {
	return Config{
		Exchange:              "NFO",
		Product:               "MIS",
		Strategy:              "swingshort",
		TickSize:              d("0.05"),
		EntryLimitOffset:      d("0.50"),
		SLLimitOffset:         d("3.00"),
		ModificationThreshold: d("1.00"),
		MaxOrderRetries:       3,
		OrderRetryDelay:       time.Millisecond,
		MaxSLFailureCount:     3,
		EmergencyExitRetries:  3,
		EmergencyExitDelay:    time.Millisecond,
		LotSize:               75,
	}
}

func TestManageEntryForTypePlacesNewOrder(t *testing.T) {
	b := dryrun.New(d("1000000"))
	m := NewManager(b, testConfig())

	candidate := &models.Candidate{Symbol: "NIFTY25000CE", SwingLow: d("100"), Lots: 1}
	result, err := m.ManageEntryForType(context.Background(), models.CE, candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != models.EntryPlaced {
		t.Fatalf("expected placed, got %s", result)
	}
	pending := m.PendingEntry()
	order, ok := pending[models.CE]
	if !ok {
		t.Fatalf("expected a pending CE order")
	}
	if order.Symbol != "NIFTY25000CE" {
		t.Errorf("expected symbol NIFTY25000CE, got %s", order.Symbol)
	}
}

func TestManageEntryForTypeKeepsWithinModificationThreshold(t *testing.T) {
	b := dryrun.New(d("1000000"))
	m := NewManager(b, testConfig())

	candidate := &models.Candidate{Symbol: "NIFTY25000CE", SwingLow: d("100"), Lots: 1}
	if _, err := m.ManageEntryForType(context.Background(), models.CE, candidate); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// swing low moved by 0.20, well under the 1.00 threshold
	candidate2 := &models.Candidate{Symbol: "NIFTY25000CE", SwingLow: d("100.20"), Lots: 1}
	result, err := m.ManageEntryForType(context.Background(), models.CE, candidate2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != models.EntryKept {
		t.Fatalf("expected kept, got %s", result)
	}
}

func TestManageEntryForTypeCancelsWhenCandidateNil(t *testing.T) {
	b := dryrun.New(d("1000000"))
	m := NewManager(b, testConfig())

	candidate := &models.Candidate{Symbol: "NIFTY25000CE", SwingLow: d("100"), Lots: 1}
	if _, err := m.ManageEntryForType(context.Background(), models.CE, candidate); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := m.ManageEntryForType(context.Background(), models.CE, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != models.EntryCancelled {
		t.Fatalf("expected cancelled, got %s", result)
	}
	if len(m.PendingEntry()) != 0 {
		t.Fatalf("expected no pending orders after cancel")
	}
}

func TestChurnBreakerBlocksSymbolAfterTwoCyclesIn300s(t *testing.T) {
	c := NewChurnBreaker()
	base := time.Now()

	c.RecordCancel("NIFTY25000CE", base)
	c.RecordPlace("NIFTY25000CE", base.Add(5*time.Second))
	assert.False(t, c.Blocked("NIFTY25000CE"), "should not be blocked after one cycle")

	c.RecordCancel("NIFTY25000CE", base.Add(60*time.Second))
	c.RecordPlace("NIFTY25000CE", base.Add(65*time.Second))
	assert.True(t, c.Blocked("NIFTY25000CE"), "expected symbol blocked after two cycles within 300s")
}

func TestChurnBreakerTripsGlobalPauseAtFiveCycles(t *testing.T) {
	c := NewChurnBreaker()
	base := time.Now()
	symbols := []string{"A", "B", "C", "D", "E"}

	var tripped bool
	for i, sym := range symbols {
		t0 := base.Add(time.Duration(i) * 10 * time.Second)
		c.RecordCancel(sym, t0)
		if c.RecordPlace(sym, t0.Add(2*time.Second)) {
			tripped = true
		}
	}
	if !tripped {
		t.Fatalf("expected global pause to trip at the fifth cycle")
	}
}

func TestCancelAllClearsPendingAndSL(t *testing.T) {
	b := dryrun.New(d("1000000"))
	m := NewManager(b, testConfig())

	candidate := &models.Candidate{Symbol: "NIFTY25000CE", SwingLow: d("100"), Lots: 1}
	if _, err := m.ManageEntryForType(context.Background(), models.CE, candidate); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.PlaceSLOrder(context.Background(), "NIFTY25100PE", d("110"), 75); err != nil {
		t.Fatalf("unexpected SL error: %v", err)
	}

	m.CancelAll(context.Background())
	if len(m.PendingEntry()) != 0 {
		t.Fatalf("expected all pending entries cancelled")
	}
	m.mu.Lock()
	remainingSL := len(m.activeSL)
	m.mu.Unlock()
	if remainingSL != 0 {
		t.Fatalf("expected all active SL orders cancelled, %d left", remainingSL)
	}
}
