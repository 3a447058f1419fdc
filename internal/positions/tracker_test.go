package positions

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"swingshort/internal/broker"
	"swingshort/internal/broker/dryrun"
	"swingshort/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLimits() Limits {
	return Limits{
		MaxPositions: 5,
		MaxPerType:   3,
		TargetR:      d("5"),
		StopR:        d("-5"),
		RValue:       d("750"),
	}
}

func TestCanOpenBlocksSameSymbol(t *testing.T) {
	tr := New(testLimits())
	tr.AddPosition("NIFTY25000CE", models.CE, 25000, d("100"), d("110"), 75, d("750"), d("90"), d("90"))

	if tr.CanOpen("NIFTY25000CE", models.CE, nil) {
		t.Fatalf("expected can-open false for symbol with an existing position")
	}
}

func TestCanOpenBlocksAtMaxPositions(t *testing.T) {
	tr := New(testLimits())
	for i := 0; i < 5; i++ {
		sym := "NIFTY2500" + string(rune('0'+i)) + "CE"
		tr.AddPosition(sym, models.CE, 25000+i, d("100"), d("110"), 75, d("750"), d("90"), d("90"))
	}
	if tr.CanOpen("NIFTY25999PE", models.PE, nil) {
		t.Fatalf("expected can-open false at MAX_POSITIONS")
	}
}

func TestCanOpenBlocksAtMaxPerType(t *testing.T) {
	tr := New(testLimits())
	for i := 0; i < 3; i++ {
		sym := "NIFTY2500" + string(rune('0'+i)) + "CE"
		tr.AddPosition(sym, models.CE, 25000+i, d("100"), d("110"), 75, d("750"), d("90"), d("90"))
	}
	assert.False(t, tr.CanOpen("NIFTY25999CE", models.CE, nil), "CE should be blocked at MAX_PER_TYPE")
	assert.True(t, tr.CanOpen("NIFTY25999PE", models.PE, nil), "PE has its own per-type cap")
}

func TestCanOpenCountsPendingOrders(t *testing.T) {
	tr := New(testLimits())
	pending := map[models.OptionType]int{models.CE: 1}
	tr.AddPosition("NIFTY25000CE", models.CE, 25000, d("100"), d("110"), 75, d("750"), d("90"), d("90"))
	tr.AddPosition("NIFTY25001CE", models.CE, 25001, d("100"), d("110"), 75, d("750"), d("90"), d("90"))
	if tr.CanOpen("NIFTY25999CE", models.CE, pending) {
		t.Fatalf("expected can-open false when open+pending reaches MAX_PER_TYPE")
	}
}

func TestClosePositionComputesRealizedR(t *testing.T) {
	tr := New(testLimits())
	// entry 100, exit 95 (favorable, price fell), quantity 75 -> realized_pl 375;
	// realized_R = realized_pl / R_VALUE(750) = 0.5
	tr.AddPosition("NIFTY25000CE", models.CE, 25000, d("100"), d("110"), 75, d("750"), d("90"), d("90"))

	closed, err := tr.ClosePosition("NIFTY25000CE", d("95"), "TARGET")
	assert.NoError(t, err)
	assert.True(t, closed.RealizedR.Equal(d("0.5")), "expected realized R 0.5, got %s", closed.RealizedR)

	summary := tr.GetSummary()
	assert.True(t, summary.CumulativeR.Equal(d("0.5")), "expected cumulative R 0.5, got %s", summary.CumulativeR)
}

func TestCheckDailyExitFiresOnceAtTarget(t *testing.T) {
	tr := New(testLimits())
	tr.AddPosition("NIFTY25000CE", models.CE, 25000, d("100"), d("101"), 75, d("75"), d("90"), d("90"))
	tr.UpdatePrices(map[string]decimal.Decimal{"NIFTY25000CE": d("0")}) // huge favorable move -> large unrealized R

	reason := tr.CheckDailyExit()
	if reason != models.ExitReasonTargetR {
		t.Fatalf("expected target-R exit reason, got %q", reason)
	}
	if !tr.DailyExitTriggered() {
		t.Fatalf("expected daily exit triggered flag set")
	}
	// second call while still triggered must return the same reason without re-deriving it
	if tr.CheckDailyExit() != models.ExitReasonTargetR {
		t.Fatalf("expected idempotent reason on second call")
	}
}

func TestReconcileWithBrokerDetectsPhantomAndOrphan(t *testing.T) {
	b := dryrun.New(d("1000000"))
	tr := New(testLimits())
	tr.AddPosition("NIFTY25000CE", models.CE, 25000, d("100"), d("110"), 75, d("750"), d("90"), d("90"))
	// dryrun broker holds no NIFTY25000CE position -> local position is phantom

	// a filled SELL on a symbol the tracker does not know -> broker-side orphan
	if _, err := b.PlaceOrder(context.Background(), broker.PlaceOrderRequest{
		Symbol: "NIFTY25100PE", Action: broker.ActionSell, TriggerPrice: d("100"), Price: d("99.5"), Quantity: 75,
	}); err != nil {
		t.Fatalf("unexpected place error: %v", err)
	}
	b.UpdatePrice("NIFTY25100PE", d("99"))

	result, err := tr.ReconcileWithBroker(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.PhantomClosed) != 1 || result.PhantomClosed[0] != "NIFTY25000CE" {
		t.Fatalf("expected NIFTY25000CE reported phantom-closed, got %v", result.PhantomClosed)
	}
	if len(result.Orphaned) != 1 || result.Orphaned[0] != "NIFTY25100PE" {
		t.Fatalf("expected NIFTY25100PE reported orphaned, got %v", result.Orphaned)
	}
}
