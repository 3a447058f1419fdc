// Package pipeline implements the dual-feed data pipeline: tick ingestion,
// minute-bar construction with session VWAP, primary/backup failover, and
// the freshness watchdog.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"swingshort/internal/feed"
	"swingshort/internal/models"
)

// Source identifies which feed is currently active.
type Source string

const (
	SourcePrimary Source = "primary"
	SourceBackup  Source = "backup"
)

type vwapAccumulator struct {
	cumPV  decimal.Decimal
	cumVol int64
}

// Config carries the failover/watchdog thresholds from the configuration
// table (FAILOVER_NO_TICK_THRESHOLD, FAILOVER_SWITCHBACK_THRESHOLD,
// MIN_DATA_COVERAGE_THRESHOLD, STALE_DATA_TIMEOUT, MAX_BAR_AGE_SECONDS,
// BAR_PRUNING_THRESHOLD, MAX_BARS_PER_SYMBOL).
type Config struct {
	NoTickThreshold       time.Duration
	SwitchbackThreshold   time.Duration
	MinDataCoverage       float64
	StaleDataTimeout      time.Duration
	MaxBarAge             time.Duration
	BarPruningThreshold   int
	MaxBarsPerSymbol      int
	MarketOpen, MarketClose time.Time // time-of-day only; only Hour() and Minute() are compared
}

// Pipeline owns bars, current bars, tick timestamps, VWAP accumulators and
// the active-source flag, all behind a single mutex. Callers only ever see
// value copies.
type Pipeline struct {
	mu sync.RWMutex

	cfg Config
	loc *time.Location

	primary feed.Feed
	backup  feed.Feed

	activeSource Source

	symbols []string

	bars        map[string][]models.Bar
	currentBars map[string]models.Bar

	lastTickTime        map[string]time.Time // active-source tick times
	lastPrimaryTickTime map[string]time.Time // shadow map, always updated by primary
	lastBarTimestamp    map[string]time.Time

	vwapAccum          map[string]*vwapAccumulator
	vwapFromWebsocket  bool
	vwapApplied        map[string]bool

	subscriptionStartedAt time.Time
	firstDataReceivedAt   time.Time

	primaryContinuousSince time.Time // zero if not currently continuous
	staleCoverageStrikes   int

	onTick func(models.Tick) // test/engine hook, fired after internal processing
}

// New constructs a Pipeline.
func New(cfg Config, loc *time.Location, primary, backup feed.Feed, symbols []string) *Pipeline {
	return &Pipeline{
		cfg:                 cfg,
		loc:                 loc,
		primary:             primary,
		backup:              backup,
		activeSource:        SourcePrimary,
		symbols:             symbols,
		bars:                make(map[string][]models.Bar),
		currentBars:         make(map[string]models.Bar),
		lastTickTime:        make(map[string]time.Time),
		lastPrimaryTickTime: make(map[string]time.Time),
		lastBarTimestamp:    make(map[string]time.Time),
		vwapAccum:           make(map[string]*vwapAccumulator),
		vwapApplied:         make(map[string]bool),
	}
}

// SetOnTick installs an observer invoked after each processed tick, for
// tests and for the engine's dry-run broker price feed.
func (p *Pipeline) SetOnTick(fn func(models.Tick)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTick = fn
}

// Connect dials both feeds: primary live, backup connected-but-silent.
func (p *Pipeline) Connect(ctx context.Context) error {
	if err := p.primary.Connect(ctx); err != nil {
		return err
	}
	if err := p.backup.Connect(ctx); err != nil {
		log.Printf("pipeline: backup feed connect failed, continuing primary-only: %v", err)
	}
	p.mu.Lock()
	p.subscriptionStartedAt = time.Now()
	p.mu.Unlock()
	return nil
}

// RunPrimary subscribes the primary feed and blocks processing its ticks
// until ctx is done or the feed returns an error; RunBackup does the same
// for the backup feed. Callers run each on its own goroutine.
func (p *Pipeline) RunPrimary(ctx context.Context) error {
	return p.primary.SubscribeQuote(ctx, p.symbols, func(t models.Tick) { p.onQuotePrimary(t) })
}

func (p *Pipeline) RunBackup(ctx context.Context) error {
	return p.backup.SubscribeQuote(ctx, p.symbols, func(t models.Tick) { p.onQuoteBackup(t) })
}

// onQuotePrimary always records the shadow tick time (for switchback
// detection) and only feeds the aggregator when primary is active. The
// active-source read happens inside the lock to avoid a TOCTOU race with
// failover.
func (p *Pipeline) onQuotePrimary(t models.Tick) {
	p.mu.Lock()
	p.lastPrimaryTickTime[t.Symbol] = t.Timestamp
	active := p.activeSource == SourcePrimary
	p.mu.Unlock()
	if active {
		p.processTick(t, SourcePrimary)
	}
}

func (p *Pipeline) onQuoteBackup(t models.Tick) {
	p.mu.RLock()
	active := p.activeSource == SourceBackup
	p.mu.RUnlock()
	if active {
		p.processTick(t, SourceBackup)
	}
}

// processTick aggregates one tick into the symbol's current minute bar.
func (p *Pipeline) processTick(t models.Tick, source Source) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// TOCTOU guard: re-verify source is still active under the lock we now hold.
	if p.activeSource != source {
		return
	}

	now := t.Timestamp
	p.lastTickTime[t.Symbol] = now
	if p.firstDataReceivedAt.IsZero() {
		p.firstDataReceivedAt = now
	}

	barTS := now.Truncate(time.Minute)

	if p.vwapFromWebsocket && t.ATP.IsPositive() && !p.vwapApplied[t.Symbol] {
		bars := p.bars[t.Symbol]
		for i := range bars {
			bars[i].VWAP = t.ATP
		}
		p.vwapApplied[t.Symbol] = true
	}

	cur, exists := p.currentBars[t.Symbol]
	if !exists || !cur.Time.Equal(barTS) {
		if exists && cur.TickCount > 0 {
			p.sealBar(t.Symbol, &cur, t.ATP)
		}
		cur = models.Bar{
			Symbol: t.Symbol,
			Time:   barTS,
			Open:   t.LTP,
			High:   t.LTP,
			Low:    t.LTP,
			Close:  t.LTP,
		}
	}

	if t.LTP.GreaterThan(cur.High) {
		cur.High = t.LTP
	}
	if t.LTP.LessThan(cur.Low) || cur.Low.IsZero() {
		cur.Low = t.LTP
	}
	cur.Close = t.LTP
	cur.Volume += t.Volume
	cur.TickCount++
	if p.vwapFromWebsocket && t.ATP.IsPositive() {
		cur.VWAP = t.ATP
	}
	p.currentBars[t.Symbol] = cur

	if p.onTick != nil {
		p.onTick(t)
	}
}

// sealBar finalizes a completed minute bar: computes session VWAP (or
// applies the ATP fallback), appends it to history, and prunes if needed.
func (p *Pipeline) sealBar(symbol string, bar *models.Bar, atp decimal.Decimal) {
	if p.vwapFromWebsocket && atp.IsPositive() {
		bar.VWAP = atp
	} else {
		acc, ok := p.vwapAccum[symbol]
		if !ok {
			acc = &vwapAccumulator{}
			p.vwapAccum[symbol] = acc
		}
		typical := bar.TypicalPrice()
		acc.cumPV = acc.cumPV.Add(typical.Mul(decimal.NewFromInt(bar.Volume)))
		acc.cumVol += bar.Volume
		if acc.cumVol > 0 {
			bar.VWAP = acc.cumPV.Div(decimal.NewFromInt(acc.cumVol))
		} else {
			bar.VWAP = typical
		}
	}
	if atp.IsPositive() {
		bar.ATP = atp
	}
	bar.Sealed = true
	p.bars[symbol] = append(p.bars[symbol], *bar)
	p.lastBarTimestamp[symbol] = time.Now()

	if len(p.bars[symbol]) > p.cfg.BarPruningThreshold {
		p.bars[symbol] = p.bars[symbol][len(p.bars[symbol])-p.cfg.MaxBarsPerSymbol:]
	}
}

// GetLatestBar returns a defensive copy of the most recent sealed bar.
func (p *Pipeline) GetLatestBar(symbol string) (models.Bar, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	bars := p.bars[symbol]
	if len(bars) == 0 {
		return models.Bar{}, false
	}
	return bars[len(bars)-1], true
}

// GetCurrentBar returns a defensive copy of the incomplete bar being built.
func (p *Pipeline) GetCurrentBar(symbol string) (models.Bar, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.currentBars[symbol]
	return b, ok
}

// GetBars returns a defensive copy of a symbol's sealed bar history.
func (p *Pipeline) GetBars(symbol string) []models.Bar {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Bar, len(p.bars[symbol]))
	copy(out, p.bars[symbol])
	return out
}

// ActiveSource reports which feed is currently driving bar construction.
func (p *Pipeline) ActiveSource() Source {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeSource
}

// SetVWAPFromWebsocket switches the fallback VWAP mode on, used when
// history backfill could not reach the minimum coverage threshold.
func (p *Pipeline) SetVWAPFromWebsocket(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vwapFromWebsocket = on
}

// SeedHistory installs backfilled bars for a symbol (called once at
// startup, before live subscription begins feeding new bars).
func (p *Pipeline) SeedHistory(symbol string, bars []models.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars[symbol] = append(p.bars[symbol], bars...)
	if len(bars) > 0 {
		last := bars[len(bars)-1]
		acc := &vwapAccumulator{}
		typical := last.TypicalPrice()
		if !last.VWAP.IsZero() && !typical.IsZero() {
			// Reconstruct an approximate accumulator so the next sealed bar's
			// VWAP continues the session-cumulative series rather than
			// restarting from zero.
			acc.cumVol = last.Volume
			acc.cumPV = last.VWAP.Mul(decimal.NewFromInt(last.Volume))
		}
		p.vwapAccum[symbol] = acc
	}
}
