package swing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"swingshort/internal/models"
)

func bar(minute int, o, h, l, c string) models.Bar {
	base := time.Date(2026, 1, 2, 9, 15, 0, 0, time.UTC)
	return models.Bar{
		Symbol: "NIFTYTEST",
		Time:   base.Add(time.Duration(minute) * time.Minute),
		Open:   decimal.RequireFromString(o),
		High:   decimal.RequireFromString(h),
		Low:    decimal.RequireFromString(l),
		Close:  decimal.RequireFromString(c),
	}
}

func TestSwingLowConfirms(t *testing.T) {
	d := New()
	d.EnableLiveMode()

	var emitted []models.Swing
	d.OnSwing = func(s models.Swing) { emitted = append(emitted, s) }

	d.Update(bar(0, "105", "106", "104", "105"))
	d.Update(bar(1, "100", "101", "99", "100")) // new candidate low at 99
	d.Update(bar(2, "101", "103", "100", "102")) // higher high+close vs bar1 -> watch=1
	d.Update(bar(3, "103", "105", "102", "104")) // higher high+close vs bar2 -> watch=2, confirm

	if len(emitted) != 1 {
		t.Fatalf("expected 1 confirmed swing, got %d", len(emitted))
	}
	sw := emitted[0]
	if sw.Type != models.SwingLow {
		t.Errorf("expected SwingLow, got %s", sw.Type)
	}
	if !sw.Price.Equal(decimal.RequireFromString("99")) {
		t.Errorf("expected swing price 99, got %s", sw.Price)
	}
}

func TestSwingCandidateUpdatesOnNewExtreme(t *testing.T) {
	d := New()
	d.EnableLiveMode()
	var emitted []models.Swing
	d.OnSwing = func(s models.Swing) { emitted = append(emitted, s) }

	d.Update(bar(0, "100", "101", "99", "100"))
	d.Update(bar(1, "98", "99", "97", "98"))    // new lower low, watch resets
	d.Update(bar(2, "99", "100", "98", "99.5")) // higher high+close vs bar1 -> watch=1
	if len(emitted) != 0 {
		t.Fatalf("swing should not confirm yet, got %d", len(emitted))
	}
}

func TestSilentModeSuppressesCallback(t *testing.T) {
	d := New() // silent by default
	var emitted []models.Swing
	d.OnSwing = func(s models.Swing) { emitted = append(emitted, s) }

	d.Update(bar(0, "105", "106", "104", "105"))
	d.Update(bar(1, "100", "101", "99", "100"))
	d.Update(bar(2, "101", "103", "100", "102"))
	d.Update(bar(3, "103", "105", "102", "104"))

	if len(emitted) != 0 {
		t.Fatalf("expected no callback in silent mode, got %d", len(emitted))
	}
	if got := len(d.ConfirmedSwings("NIFTYTEST")); got != 1 {
		t.Fatalf("expected 1 swing recorded silently, got %d", got)
	}
}

func TestOutOfOrderBarRejected(t *testing.T) {
	d := New()
	d.EnableLiveMode()
	d.Update(bar(5, "100", "101", "99", "100"))
	d.Update(bar(3, "90", "91", "89", "90")) // older timestamp, must be rejected
	if got := len(d.ConfirmedSwings("NIFTYTEST")); got != 0 {
		t.Fatalf("unexpected swings: %d", got)
	}
	if got := d.symbols["NIFTYTEST"].lastBar.Low.String(); got != "99" {
		t.Fatalf("expected the older bar rejected, last accepted bar low is %s", got)
	}
}
