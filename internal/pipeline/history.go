package pipeline

import (
	"context"
	"log"
	"time"

	"swingshort/internal/broker"
	"swingshort/internal/models"
)

// LoadHistory fetches today's minute bars for every subscribed symbol, up
// to (but excluding) the current incomplete minute, and seeds the pipeline
// with them. It then runs the 80%-coverage check with up to 3 retries at
// 60s spacing before falling back to WebSocket-ATP VWAP mode.
func (p *Pipeline) LoadHistory(ctx context.Context, b broker.Broker, exchange string, marketOpen time.Time) error {
	now := time.Now().In(p.loc)
	lastComplete := now.Truncate(time.Minute).Add(-time.Minute)

	for _, sym := range p.symbols {
		rows, err := b.History(ctx, sym, exchange, "1m", marketOpen, lastComplete)
		if err != nil {
			log.Printf("pipeline: history fetch failed for %s: %v", sym, err)
			continue
		}
		p.SeedHistory(sym, rowsToBars(sym, rows))
	}

	p.ensureCompleteHistory(ctx, b, exchange, marketOpen, now)
	return nil
}

func rowsToBars(symbol string, rows []broker.HistoryRow) []models.Bar {
	out := make([]models.Bar, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Bar{
			Symbol: symbol,
			Time:   r.Time,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
			Sealed: true,
		})
	}
	return out
}

// ensureCompleteHistory implements the expected-bar-count check: if the
// fullest symbol's bar count is under 80% of (minutes-since-open - 1), retry the
// fetch up to 3 times at 60s spacing, then fall back to ATP-sourced VWAP.
func (p *Pipeline) ensureCompleteHistory(ctx context.Context, b broker.Broker, exchange string, marketOpen, loadTime time.Time) {
	minutesSinceOpen := int(loadTime.Sub(marketOpen).Minutes())
	expected := minutesSinceOpen - 1
	if expected < 5 {
		return
	}

	for attempt := 1; attempt <= 3; attempt++ {
		if p.maxBarCount() >= int(float64(expected)*0.8) {
			return
		}
		log.Printf("pipeline: incomplete history (%d/%d bars), retry %d/3 in 60s", p.maxBarCount(), expected, attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(60 * time.Second):
		}
		for _, sym := range p.symbols {
			rows, err := b.History(ctx, sym, exchange, "1m", marketOpen, loadTime.Truncate(time.Minute).Add(-time.Minute))
			if err != nil {
				continue
			}
			p.mu.Lock()
			p.bars[sym] = rowsToBars(sym, rows)
			p.mu.Unlock()
		}
	}

	if p.maxBarCount() < int(float64(expected)*0.8) {
		log.Printf("pipeline: history still insufficient after retries, switching to WebSocket-ATP VWAP mode")
		p.SetVWAPFromWebsocket(true)
	}
}

func (p *Pipeline) maxBarCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	max := 0
	for _, bars := range p.bars {
		if len(bars) > max {
			max = len(bars)
		}
	}
	return max
}

// GapFill fetches any missing minutes between the last historical bar and
// now, for symbols that already have bars. The engine's startup does not
// call it.
func (p *Pipeline) GapFill(ctx context.Context, b broker.Broker, exchange string) {
	p.mu.RLock()
	symbols := make([]string, 0, len(p.bars))
	for sym := range p.bars {
		symbols = append(symbols, sym)
	}
	p.mu.RUnlock()

	now := time.Now().In(p.loc)
	currentMinute := now.Truncate(time.Minute)

	for _, sym := range symbols {
		p.mu.RLock()
		bars := p.bars[sym]
		p.mu.RUnlock()
		if len(bars) == 0 {
			continue
		}
		lastMinute := bars[len(bars)-1].Time
		gap := int(currentMinute.Sub(lastMinute).Minutes())
		if gap <= 1 {
			continue
		}
		rows, err := b.History(ctx, sym, exchange, "1m", lastMinute.Add(time.Minute), currentMinute.Add(-time.Minute))
		if err != nil || len(rows) == 0 {
			continue
		}
		p.SeedHistory(sym, rowsToBars(sym, rows))
	}
}
