package filter

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"swingshort/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testThresholds() Thresholds {
	return Thresholds{
		MinEntryPrice:         d("20"),
		MaxEntryPrice:         d("400"),
		MinVWAPPremium:        d("0.02"),
		MinSLPercent:          d("0.01"),
		MaxSLPercent:          d("0.15"),
		TargetSLPoints:        d("6"),
		ModificationThreshold: d("1.00"),
		RValue:                d("6500"),
		LotSize:               75,
		MaxLotsPerPosition:    10,
	}
}

func baseCandidate(symbol string, opt models.OptionType, swingLow, vwap, highestHigh, currentPrice string) models.Candidate {
	return models.Candidate{
		Symbol:       symbol,
		OptionType:   opt,
		SwingLow:     d(swingLow),
		SwingTime:    time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		VWAPAtSwing:  d(vwap),
		HighestHigh:  d(highestHigh),
		CurrentPrice: d(currentPrice),
	}
}

func TestEvaluateQualifiesWithinBounds(t *testing.T) {
	f := New(testThresholds())
	// entry = swing_low(100.05) - tick(0.05) = 100, highest_high 108 -> sl 109,
	// sl_points 9, sl_percent 9%, vwap premium (100-90)/90=11.1%
	f.AddCandidate(baseCandidate("NIFTY25000CE", models.CE, "100.05", "90", "108", "102"))

	bestCE, bestPE := f.Evaluate(nil, nil, nil)
	if bestCE == nil {
		t.Fatalf("expected a qualified CE candidate")
	}
	if bestPE != nil {
		t.Fatalf("expected no PE candidates")
	}
	if !bestCE.Qualified {
		t.Fatalf("expected candidate to qualify, got reason: %s", bestCE.DisqualifyReason)
	}
	if !bestCE.EntryPrice.Equal(d("100")) {
		t.Errorf("expected entry price swing_low - tick = 100, got %s", bestCE.EntryPrice)
	}
	if !bestCE.StopLossPrice.Equal(d("109")) {
		t.Errorf("expected sl price 109, got %s", bestCE.StopLossPrice)
	}
}

func TestEvaluateDisqualifiesBelowMinEntryPrice(t *testing.T) {
	f := New(testThresholds())
	// entry = swing_low(10.05) - tick(0.05) = 10, below MIN_ENTRY_PRICE 20
	f.AddCandidate(baseCandidate("NIFTY25000CE", models.CE, "10.05", "10", "18", "15"))

	bestCE, _ := f.Evaluate(nil, nil, nil)
	if bestCE != nil {
		t.Fatalf("expected candidate below MIN_ENTRY_PRICE to be disqualified")
	}
}

func TestEvaluateDisqualifiesLowVWAPPremium(t *testing.T) {
	f := New(testThresholds())
	// entry = swing_low(100.05) - tick = 100, vwap_at_swing 99 -> premium ~1%, below 2% minimum
	f.AddCandidate(baseCandidate("NIFTY25000CE", models.CE, "100.05", "99", "110", "100"))

	bestCE, _ := f.Evaluate(nil, nil, nil)
	if bestCE != nil {
		t.Fatalf("expected candidate with low vwap premium to be disqualified")
	}
}

func TestEvaluateExcludesOpenPositionSymbol(t *testing.T) {
	f := New(testThresholds())
	f.AddCandidate(baseCandidate("NIFTY25000CE", models.CE, "100.05", "90", "108", "102"))

	bestCE, _ := f.Evaluate(nil, nil, map[string]bool{"NIFTY25000CE": true})
	if bestCE != nil {
		t.Fatalf("expected symbol with an open position to be excluded")
	}
}

func TestSelectBestPrefersClosestToTargetThenHighestPrice(t *testing.T) {
	f := New(testThresholds())
	// target sl_points = 6; both candidates share entry 100 (swing_low 100.05 - tick)
	// candidate A: highest_high 103 -> sl 104, sl_points 4 (|4-6|=2)
	f.AddCandidate(baseCandidate("NIFTY25100CE", models.CE, "100.05", "90", "103", "100"))
	// candidate B: highest_high 105 -> sl 106, sl_points 6 (|6-6|=0, exact target)
	f.AddCandidate(baseCandidate("NIFTY25200CE", models.CE, "100.05", "90", "105", "100"))

	bestCE, _ := f.Evaluate(nil, nil, nil)
	if bestCE == nil {
		t.Fatalf("expected a qualified candidate")
	}
	if bestCE.Symbol != "NIFTY25200CE" {
		t.Fatalf("expected candidate with sl_points closest to target, got %s", bestCE.Symbol)
	}
}

func TestPositionSizeCapsAtMaxLots(t *testing.T) {
	f := New(testThresholds())
	// risk_per_unit 1 -> required_qty 6500, required_lots 86.6 -> capped at 10
	lots, actualR := f.positionSize(d("100"), d("101"))
	if lots != 10 {
		t.Fatalf("expected lots capped at 10, got %d", lots)
	}
	wantR := d("1").Mul(decimal.NewFromInt(10 * 75))
	if !actualR.Equal(wantR) {
		t.Errorf("expected actual R %s, got %s", wantR, actualR)
	}
}

func TestPositionSizeMinimumOneLot(t *testing.T) {
	f := New(testThresholds())
	// risk_per_unit 700 is large relative to R_VALUE -> required_lots rounds to 0, floor to 1
	lots, _ := f.positionSize(d("100"), d("800"))
	if lots != 1 {
		t.Fatalf("expected minimum 1 lot, got %d", lots)
	}
}

func TestClassifyPlacesWhenNoPendingAndNearEntry(t *testing.T) {
	best := &models.Candidate{Symbol: "NIFTY25000CE", CurrentPrice: d("100"), EntryPrice: d("100.5")}
	trigger := Classify(best, "", false, d("1.00"))
	if trigger != models.TriggerPlace {
		t.Fatalf("expected place, got %s", trigger)
	}
}

func TestClassifyCancelsWhenBestDisappearsWithPending(t *testing.T) {
	trigger := Classify(nil, "NIFTY25000CE", true, d("1.00"))
	if trigger != models.TriggerCancel {
		t.Fatalf("expected cancel, got %s", trigger)
	}
}

func TestClassifyModifiesWhenBetterStrikeEmerges(t *testing.T) {
	best := &models.Candidate{Symbol: "NIFTY25100CE", CurrentPrice: d("100"), EntryPrice: d("100")}
	trigger := Classify(best, "NIFTY25000CE", true, d("1.00"))
	if trigger != models.TriggerModify {
		t.Fatalf("expected modify, got %s", trigger)
	}
}

func TestClassifyWaitsWhenAlreadyBrokenAtStartup(t *testing.T) {
	best := &models.Candidate{Symbol: "NIFTY25000CE", CurrentPrice: d("80"), EntryPrice: d("100"), AlreadyBrokenAtStartup: true}
	trigger := Classify(best, "", false, d("1.00"))
	if trigger != models.TriggerWait {
		t.Fatalf("expected wait for already-broken candidate, got %s", trigger)
	}
}
