package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"swingshort/internal/feed"
	"swingshort/internal/models"
)

type fakeFeed struct {
	connected bool
}

func (f *fakeFeed) Connect(_ context.Context) error { f.connected = true; return nil }
func (f *fakeFeed) SubscribeQuote(_ context.Context, _ []string, _ feed.Handler) error {
	return nil
}
func (f *fakeFeed) Connected() bool   { return f.connected }
func (f *fakeFeed) Disconnect() error { f.connected = false; return nil }

func newTestPipeline() *Pipeline {
	cfg := Config{
		NoTickThreshold:     15 * time.Second,
		SwitchbackThreshold: 10 * time.Second,
		MinDataCoverage:     0.5,
		StaleDataTimeout:    20 * time.Second,
		MaxBarAge:           60 * time.Second,
		BarPruningThreshold: 1000,
		MaxBarsPerSymbol:    500,
	}
	loc := time.UTC
	return New(cfg, loc, &fakeFeed{connected: true}, &fakeFeed{connected: true}, []string{"NIFTYTEST"})
}

// TestBarMonotonicity covers P1: consecutive sealed bars for a symbol are
// strictly increasing in timestamp.
func TestBarMonotonicity(t *testing.T) {
	p := newTestPipeline()
	base := time.Date(2026, 1, 2, 9, 15, 0, 0, time.UTC)

	tick := func(minuteOffset int, price string) {
		ts := base.Add(time.Duration(minuteOffset) * time.Minute)
		p.processTick(models.Tick{
			Symbol:    "NIFTYTEST",
			LTP:       decimal.RequireFromString(price),
			Volume:    10,
			Timestamp: ts,
		}, SourcePrimary)
	}

	tick(0, "100.00")
	tick(1, "101.00")
	tick(2, "102.00")

	bars := p.GetBars("NIFTYTEST")
	if len(bars) != 2 {
		t.Fatalf("expected 2 sealed bars, got %d", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			t.Fatalf("bars not strictly increasing: %v then %v", bars[i-1].Time, bars[i].Time)
		}
	}
}

func TestFailoverAndSwitchback(t *testing.T) {
	p := newTestPipeline()
	p.mu.Lock()
	p.subscriptionStartedAt = time.Now().Add(-1 * time.Minute)
	p.firstDataReceivedAt = time.Now().Add(-1 * time.Minute)
	p.lastPrimaryTickTime["NIFTYTEST"] = time.Now().Add(-30 * time.Second)
	p.lastTickTime["NIFTYTEST"] = time.Now().Add(-30 * time.Second)
	p.cfg.MarketOpen = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)
	p.cfg.MarketClose = time.Date(0, 1, 1, 23, 59, 0, 0, time.UTC)
	p.mu.Unlock()

	p.checkFailover()
	if p.ActiveSource() != SourceBackup {
		t.Fatalf("expected failover to backup, got %s", p.ActiveSource())
	}

	p.mu.Lock()
	p.lastPrimaryTickTime["NIFTYTEST"] = time.Now()
	p.primaryContinuousSince = time.Now().Add(-11 * time.Second)
	p.mu.Unlock()

	p.checkFailover()
	if p.ActiveSource() != SourcePrimary {
		t.Fatalf("expected switchback to primary, got %s", p.ActiveSource())
	}
}
