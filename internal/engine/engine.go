package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"swingshort/internal/broker"
	"swingshort/internal/config"
	"swingshort/internal/feed"
	"swingshort/internal/filter"
	"swingshort/internal/metrics"
	"swingshort/internal/models"
	"swingshort/internal/notify"
	"swingshort/internal/orders"
	"swingshort/internal/pipeline"
	"swingshort/internal/positions"
	"swingshort/internal/state"
	"swingshort/internal/storage"
	"swingshort/internal/swing"
)

// order-placement tuning that has no dedicated configuration key; tick size,
// offsets and retry count match the order manager's own test defaults, the
// retry delay does not (the tests use 1ms).
const (
	tickSize         = "0.05"
	entryLimitOffset = "0.50"
	slLimitOffset    = "3.00"
	maxOrderRetries  = 3
	orderRetryDelay  = 500 * time.Millisecond

	// entryProximityThreshold gates filter.Classify's place decision: a
	// candidate only moves from wait to place once the live price is this
	// close to the derived entry price.
	entryProximityThreshold = "2.00"
)

// daily exit thresholds are expressed in R-multiples, not currency; RValue
// is the rupee value of one R, used both for position sizing and for
// converting P&L into R.
var (
	dailyTargetR = decimal.NewFromInt(5)
	dailyStopR   = decimal.NewFromInt(-5)
)

// priceFeeder is satisfied by the dry-run broker; the live broker has no
// need of a synthetic price tape, so the engine type-asserts for it rather
// than widening the broker.Broker interface for one implementation.
type priceFeeder interface {
	UpdatePrice(symbol string, price decimal.Decimal)
}

// SymbolInfo names one option instrument in the scanned universe.
type SymbolInfo struct {
	Symbol     string
	OptionType models.OptionType
	Strike     int
}

// Deps are the engine's external collaborators, constructed by cmd/swingshort
// and handed in whole so Engine itself stays free of environment lookups.
type Deps struct {
	Config    *config.Config
	Broker    broker.Broker
	Primary   feed.Feed
	Backup    feed.Feed
	Store     *state.Store
	Sentinels *storage.Sentinels
	Notifier  *notify.Client
	Universe  []SymbolInfo
	Location  *time.Location
}

// Engine is the autonomous orchestrator: one tick-loop goroutine plus the
// feed/monitor/listener goroutines it launches in Run.
type Engine struct {
	cfg       *config.Config
	broker    broker.Broker
	store     *state.Store
	sentinels *storage.Sentinels
	notifier  *notify.Client
	loc       *time.Location

	universe map[string]SymbolInfo

	pipe    *pipeline.Pipeline
	swings  *swing.Detector
	filt    *filter.Filter
	orderMg *orders.Manager
	tracker *positions.Tracker

	mu               sync.Mutex
	session          models.SessionState
	lastBestCE       string
	lastBestPE       string
	staleBlocked     map[string]bool
	lastFreshnessLog time.Time
	lastReconcileAt  time.Time
	lastHeartbeat    time.Time
	eodHandled       bool
}

// New assembles an Engine from its dependencies and the env-configured
// thresholds carried on cfg.
func New(deps Deps) *Engine {
	cfg := deps.Config

	universe := make(map[string]SymbolInfo, len(deps.Universe))
	symbols := make([]string, 0, len(deps.Universe))
	for _, s := range deps.Universe {
		universe[s.Symbol] = s
		symbols = append(symbols, s.Symbol)
	}

	marketOpen := mustParseClock(cfg.MarketStartTime)
	marketClose := mustParseClock(cfg.MarketCloseTime)

	pipe := pipeline.New(pipeline.Config{
		NoTickThreshold:     cfg.FailoverNoTickThreshold,
		SwitchbackThreshold: cfg.FailoverSwitchbackThreshold,
		MinDataCoverage:     cfg.MinDataCoverageThreshold,
		StaleDataTimeout:    cfg.StaleDataTimeout,
		MaxBarAge:           time.Duration(cfg.MaxBarAgeSeconds) * time.Second,
		BarPruningThreshold: cfg.BarPruningThreshold,
		MaxBarsPerSymbol:    cfg.MaxBarsPerSymbol,
		MarketOpen:          marketOpen,
		MarketClose:         marketClose,
	}, deps.Location, deps.Primary, deps.Backup, symbols)

	thresholds := filter.Thresholds{
		MinEntryPrice:         cfg.MinEntryPrice,
		MaxEntryPrice:         cfg.MaxEntryPrice,
		MinVWAPPremium:        cfg.MinVWAPPremium.Div(decimal.NewFromInt(100)),
		MinSLPercent:          cfg.MinSLPercent.Div(decimal.NewFromInt(100)),
		MaxSLPercent:          cfg.MaxSLPercent.Div(decimal.NewFromInt(100)),
		TargetSLPoints:        cfg.TargetSLPoints,
		ModificationThreshold: cfg.ModificationThreshold,
		RValue:                cfg.RValue,
		LotSize:               cfg.LotSize,
		MaxLotsPerPosition:    cfg.MaxLotsPerPosition,
	}

	orderMg := orders.NewManager(deps.Broker, orders.Config{
		Exchange:              "NFO",
		Product:               "MIS",
		Strategy:              cfg.InstanceName,
		TickSize:              decimal.RequireFromString(tickSize),
		EntryLimitOffset:      decimal.RequireFromString(entryLimitOffset),
		SLLimitOffset:         decimal.RequireFromString(slLimitOffset),
		ModificationThreshold: cfg.ModificationThreshold,
		MaxOrderRetries:       maxOrderRetries,
		OrderRetryDelay:       orderRetryDelay,
		MaxSLFailureCount:     cfg.MaxSLFailureCount,
		EmergencyExitRetries:  cfg.EmergencyExitRetryCount,
		EmergencyExitDelay:    cfg.EmergencyExitRetryDelay,
		LotSize:               cfg.LotSize,
	})

	tracker := positions.New(positions.Limits{
		MaxPositions: cfg.MaxPositions,
		MaxPerType:   cfg.MaxPerType,
		TargetR:      dailyTargetR,
		StopR:        dailyStopR,
		RValue:       cfg.RValue,
	})

	e := &Engine{
		cfg:          cfg,
		broker:       deps.Broker,
		store:        deps.Store,
		sentinels:    deps.Sentinels,
		notifier:     deps.Notifier,
		loc:          deps.Location,
		universe:     universe,
		pipe:         pipe,
		swings:       swing.New(),
		filt:         filter.New(thresholds),
		orderMg:      orderMg,
		tracker:      tracker,
		staleBlocked: make(map[string]bool),
	}
	e.swings.OnSwing = e.onSwingConfirmed
	return e
}

func mustParseClock(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		log.Printf("engine: invalid clock %q, defaulting to 00:00: %v", hhmm, err)
		return time.Time{}
	}
	return t
}

// Run performs startup, launches the background goroutines, and blocks in
// the tick loop until a signal, kill switch, or unrecoverable error ends
// the session.
func (e *Engine) Run(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.startup(ctx); err != nil {
		return fmt.Errorf("engine: startup failed: %w", err)
	}

	var wg sync.WaitGroup
	runGoroutine := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	runGoroutine("primary-feed", func(ctx context.Context) {
		if err := e.pipe.RunPrimary(ctx); err != nil && ctx.Err() == nil {
			log.Printf("engine: primary feed reader exited: %v", err)
		}
	})
	runGoroutine("backup-feed", func(ctx context.Context) {
		if err := e.pipe.RunBackup(ctx); err != nil && ctx.Err() == nil {
			log.Printf("engine: backup feed reader exited: %v", err)
		}
	})
	runGoroutine("monitor", e.pipe.RunMonitor)
	if e.notifier != nil {
		chatID, _ := strconv.ParseInt(e.cfg.TelegramChatID, 10, 64)
		listener := notify.NewListener(e.notifier, e.sentinels, chatID, e.statusLine, e.menuLine)
		runGoroutine("command-listener", listener.Run)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if e.sentinels.KillRequested() {
				log.Println("engine: kill switch observed, shutting down")
				break loop
			}
			if err := e.runTick(ctx); err != nil {
				if te, ok := err.(*tickError); ok && te.severity == SafetyCritical {
					log.Printf("engine: %v", err)
					runErr = err
					e.emergencyShutdown(ctx, te.err.Error())
					break loop
				}
				log.Printf("engine: %v", err)
			}
		}
	}

	stop()
	if runErr == nil {
		e.gracefulShutdown(context.Background())
	}
	wg.Wait()
	return runErr
}

// --- Startup -----------------------------------------------------------

func (e *Engine) startup(ctx context.Context) error {
	tradeDate := time.Now().In(e.loc).Format("2006-01-02")

	// Step 1: restore or open today's dashboard row.
	sess, err := e.store.LoadSession(tradeDate)
	if err != nil {
		return wrap(SafetyCritical, "load session", err)
	}
	if sess == nil {
		e.session = models.NewSessionState(tradeDate)
		e.tracker.ResetForNewDay()
		if e.notifier != nil {
			e.notifier.ResetForNewDay()
		}
		log.Printf("engine: new trade date %s, dashboard reset", tradeDate)
	} else {
		e.session = *sess
		e.tracker.RestoreCumulativeR(sess.CumulativeR)
		log.Printf("engine: resuming trade date %s, cumulativeR=%s", tradeDate, sess.CumulativeR)
	}
	e.session.Operational = models.StateStarting
	e.store.SaveSession(e.session)

	// Step 2/3: restore open positions and resting orders from the store.
	openPositions, err := e.store.LoadOpenPositions()
	if err != nil {
		return wrap(SafetyCritical, "load open positions", err)
	}
	e.tracker.RestoreOpenPositions(openPositions)

	pendingEntry, err := e.store.LoadPendingEntryOrders()
	if err != nil {
		return wrap(SafetyCritical, "load pending entry orders", err)
	}
	activeSL, err := e.store.LoadActiveSLOrders()
	if err != nil {
		return wrap(SafetyCritical, "load active SL orders", err)
	}
	pendingPtr := make(map[models.OptionType]*models.Order, len(pendingEntry))
	for k, v := range pendingEntry {
		v := v
		pendingPtr[k] = &v
	}
	slPtr := make(map[string]*models.Order, len(activeSL))
	for k, v := range activeSL {
		v := v
		slPtr[k] = &v
	}
	e.orderMg.RestoreState(pendingPtr, slPtr)

	// Step 4: pre-flight health check against the broker.
	if _, err := e.broker.AccountDetails(ctx); err != nil {
		return wrap(SafetyCritical, "broker health check", err)
	}

	// Step 5: connect both feeds and subscribe the option universe.
	if err := e.pipe.Connect(ctx); err != nil {
		return wrap(SafetyCritical, "connect feeds", err)
	}
	if feeder, ok := e.broker.(priceFeeder); ok {
		e.pipe.SetOnTick(func(t models.Tick) { feeder.UpdatePrice(t.Symbol, t.LTP) })
	}

	// Step 6: historical backfill, silent swing replay, then live mode.
	e.backfill(ctx)
	e.swings.EnableLiveMode()
	e.flushBackfillSwings()

	// Step 7: any candidate already trading below its swing low at startup
	// is marked so the filter never places an order chasing a broken level.
	e.markStartupBroken()

	// Step 8: reconcile restored orders against the broker's current book.
	openSymbols := e.tracker.OpenSymbols()
	if _, err := e.orderMg.ReconcileWithBroker(ctx, openSymbols); err != nil {
		log.Printf("engine: startup order reconciliation failed (non-fatal): %v", err)
	}

	e.session.Operational = models.StateActive
	e.store.SaveSession(e.session)
	if e.notifier != nil {
		e.notifier.Send(fmt.Sprintf("engine started, trade date %s, %d open position(s) restored", tradeDate, len(openPositions)))
	}
	return nil
}

// backfill seeds each universe symbol's bar history from the broker's
// history endpoint and silently primes the swing detector's watch counters
// against it, so a swing already in progress before startup is recognized
// without re-announcing every historical candle.
func (e *Engine) backfill(ctx context.Context) {
	now := time.Now().In(e.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)
	for symbol := range e.universe {
		rows, err := e.broker.History(ctx, symbol, "NFO", "1minute", start, now)
		if err != nil {
			log.Printf("engine: backfill for %s failed (non-fatal): %v", symbol, err)
			continue
		}
		bars := make([]models.Bar, 0, len(rows))
		for _, r := range rows {
			bar := models.Bar{
				Symbol: symbol,
				Time:   r.Time,
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
				Sealed: true,
			}
			bar.VWAP = bar.TypicalPrice()
			bars = append(bars, bar)
		}
		if len(bars) == 0 {
			log.Printf("engine: %s backfill returned no bars, falling back to websocket VWAP", symbol)
			e.pipe.SetVWAPFromWebsocket(true)
			continue
		}
		e.pipe.SeedHistory(symbol, bars)
		coverage := float64(len(bars)) / float64(now.Sub(start)/time.Minute+1)
		if coverage < e.cfg.MinDataCoverageThreshold {
			log.Printf("engine: %s backfill coverage %.2f below threshold, falling back to websocket VWAP", symbol, coverage)
			e.pipe.SetVWAPFromWebsocket(true)
		}
		for _, bar := range bars {
			e.swings.Update(bar)
		}
	}
}

// flushBackfillSwings replays every swing confirmed during silent backfill
// into the live filter pool, for symbols with no already-open position.
// These swings are not written to the swing log; only swings confirmed in
// live mode reach AppendSwing.
func (e *Engine) flushBackfillSwings() {
	openSymbols := e.tracker.OpenSymbols()
	for symbol, info := range e.universe {
		if openSymbols[symbol] {
			continue
		}
		for _, sw := range e.swings.ConfirmedSwings(symbol) {
			if sw.Type != models.SwingLow {
				continue
			}
			e.addCandidateFromSwing(info, sw)
		}
	}
}

// markStartupBroken flags every pool candidate already trading through its
// swing low before the engine ever saw a live tick, so Classify never fires
// a place decision chasing a level that broke before startup.
func (e *Engine) markStartupBroken() {
	for symbol, c := range e.filt.Candidates() {
		bar, ok := e.pipe.GetLatestBar(symbol)
		if !ok {
			continue
		}
		if bar.Close.LessThanOrEqual(c.SwingLow) {
			c.AlreadyBrokenAtStartup = true
			c.HighestHigh = bar.High
			c.CurrentPrice = bar.Close
			e.filt.AddCandidate(c)
		}
	}
}

func (e *Engine) addCandidateFromSwing(info SymbolInfo, sw models.Swing) {
	e.filt.AddCandidate(models.Candidate{
		Symbol:      sw.Symbol,
		OptionType:  info.OptionType,
		Strike:      info.Strike,
		SwingLow:    sw.Price,
		SwingTime:   sw.Time,
		VWAPAtSwing: sw.VWAP,
		HighestHigh: sw.Price,
	})
}

// onSwingConfirmed is the live-mode swing callback: a confirmed low opens a
// new candidate (if no position is already open on the symbol); a confirmed
// high is only logged, the filter tracks candidates by their swing low.
func (e *Engine) onSwingConfirmed(sw models.Swing) {
	e.store.AppendSwing(sw)
	if e.notifier != nil {
		e.notifier.SwingDetected(sw)
	}
	if sw.Type != models.SwingLow {
		return
	}
	info, ok := e.universe[sw.Symbol]
	if !ok {
		return
	}
	if e.tracker.OpenSymbols()[sw.Symbol] {
		return
	}
	e.addCandidateFromSwing(info, sw)
}

// --- Tick loop -----------------------------------------------------------

// runTick executes one pass of the cooperative tick loop. Steps follow the
// sequence: kill/freshness/market-hours/EOD/pause gates, bar snapshotting,
// swing feed, filter evaluation, order management, fill handling, price
// updates, daily exit, periodic reconciliation, persistence, heartbeat.
func (e *Engine) runTick(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	// (b) freshness watchdog, logged at most once per 30s.
	if time.Since(e.lastFreshnessLog) >= 30*time.Second {
		e.lastFreshnessLog = time.Now()
		if fresh, reason := e.pipe.CheckFreshness(); !fresh {
			log.Printf("engine: data freshness check failed: %s", reason)
		}
	}

	now := time.Now().In(e.loc)
	marketOpen := e.isWithinSession(now, e.cfg.MarketStartTime, e.cfg.MarketEndTime)

	// (d) EOD force-exit, fires exactly once per day at ForceExitTime.
	if !e.eodHandled && e.pastClock(now, e.cfg.ForceExitTime) {
		e.eodHandled = true
		e.forceEODExit(ctx)
	}

	if !marketOpen {
		return nil
	}

	// (e) pause switch: skip new entries, keep monitoring open risk.
	paused := e.sentinels.PauseRequested()

	// (f) bar snapshot + (g) swing feed, across the whole universe.
	highestHigh := make(map[string]decimal.Decimal, len(e.universe))
	currentPrice := make(map[string]decimal.Decimal, len(e.universe))
	for symbol := range e.universe {
		bar, ok := e.pipe.GetLatestBar(symbol)
		if ok {
			e.swings.Update(bar)
			highestHigh[symbol] = bar.High
			currentPrice[symbol] = bar.Close
		}
		if cur, ok := e.pipe.GetCurrentBar(symbol); ok {
			if cur.High.GreaterThan(highestHigh[symbol]) {
				highestHigh[symbol] = cur.High
			}
			currentPrice[symbol] = cur.Close
		}
	}

	// (h) continuous filter evaluation.
	openSymbols := e.tracker.OpenSymbols()
	bestCE, bestPE := e.filt.Evaluate(highestHigh, currentPrice, openSymbols)

	// (i) best-strike-change notification.
	e.announceBestStrikeChange(models.CE, bestCE)
	e.announceBestStrikeChange(models.PE, bestPE)

	// (j) persist candidates/bars/best strikes.
	e.persistPoolSnapshot(bestCE, bestPE)

	if !paused && !e.tracker.DailyExitTriggered() {
		// (k) order management, one option type at a time.
		if err := e.manageEntryForType(ctx, models.CE, bestCE, openSymbols); err != nil {
			log.Printf("engine: manage CE entry: %v", err)
		}
		if err := e.manageEntryForType(ctx, models.PE, bestPE, openSymbols); err != nil {
			log.Printf("engine: manage PE entry: %v", err)
		}
	}

	// (l) entry-fill polling, also while paused, so an entry order resting
	// when the pause was set still gets its SL once it fills.
	if !e.tracker.DailyExitTriggered() {
		if err := e.processFills(ctx); err != nil {
			log.Printf("engine: process fills: %v", err)
		}
	}

	// (m) position price updates.
	e.tracker.UpdatePrices(currentPrice)
	metrics.CumulativeR.Set(mustFloat(e.tracker.GetSummary().CumulativeR))

	// (n) daily exit check.
	if reason := e.tracker.CheckDailyExit(); reason != "" && !e.session.DailyExitTriggered {
		e.session.DailyExitTriggered = true
		e.session.DailyExitReason = reason
		e.onDailyExit(ctx, reason)
	}

	// (o) periodic broker reconciliation, every 30s.
	if time.Since(e.lastReconcileAt) >= 30*time.Second {
		e.lastReconcileAt = time.Now()
		e.reconcile(ctx)
	}

	// (p) state persistence.
	e.persistTickState()

	// (q) heartbeat, every 60s.
	if time.Since(e.lastHeartbeat) >= time.Minute {
		e.lastHeartbeat = time.Now()
		log.Printf("engine: heartbeat source=%s open=%d pending_ce=%v pending_pe=%v",
			e.pipe.ActiveSource(), e.tracker.GetSummary().OpenCount, bestCE != nil, bestPE != nil)
	}

	return nil
}

func (e *Engine) isWithinSession(now time.Time, startHHMM, endHHMM string) bool {
	start := mustParseClock(startHHMM)
	end := mustParseClock(endHHMM)
	today := func(t time.Time) time.Time {
		return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, e.loc)
	}
	return !now.Before(today(start)) && !now.After(today(end))
}

func (e *Engine) pastClock(now time.Time, hhmm string) bool {
	t := mustParseClock(hhmm)
	target := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, e.loc)
	return !now.Before(target)
}

func (e *Engine) manageEntryForType(ctx context.Context, optType models.OptionType, best *models.Candidate, openSymbols map[string]bool) error {
	if best != nil && !e.tracker.CanOpen(best.Symbol, optType, e.pendingCountByType()) {
		best = nil
	}
	if best != nil && e.orderMg.ShouldHaltTrading() {
		log.Printf("engine: consecutive SL failures at limit, halting new %s entries", optType)
		best = nil
	}

	pending, pendingExists := e.orderMg.PendingEntry()[optType]
	var pendingSymbol string
	if pendingExists {
		pendingSymbol = pending.Symbol
	}

	action := filter.Classify(best, pendingSymbol, pendingExists, decimal.RequireFromString(entryProximityThreshold))

	var candidate *models.Candidate
	switch action {
	case models.TriggerPlace, models.TriggerModify:
		candidate = best
	case models.TriggerCancel:
		candidate = nil
	default: // wait, check_fill: no order-placement action this tick
		return nil
	}

	result, err := e.orderMg.ManageEntryForType(ctx, optType, candidate)
	if err != nil {
		return wrap(Permanent, "manage entry "+string(optType), err)
	}
	if result == models.EntryPlaced {
		metrics.OrdersPlaced.WithLabelValues("entry").Inc()
	}
	return nil
}

func (e *Engine) pendingCountByType() map[models.OptionType]int {
	out := map[models.OptionType]int{}
	for optType := range e.orderMg.PendingEntry() {
		out[optType]++
	}
	return out
}

func (e *Engine) processFills(ctx context.Context) error {
	fills, err := e.orderMg.CheckEntryFills(ctx)
	if err != nil {
		return wrap(Transient, "check entry fills", err)
	}
	for _, fill := range fills {
		info := e.universe[fill.Symbol]
		candidates := e.filt.Candidates()
		c := candidates[fill.Symbol]

		slTrigger := c.StopLossPrice
		quantity := fill.Quantity
		pos := e.tracker.AddPosition(fill.Symbol, fill.OptionType, info.Strike, fill.Price, slTrigger, quantity, c.RActual, c.SwingLow, c.VWAPAtSwing)
		e.filt.RemoveCandidate(fill.Symbol)
		e.store.SavePosition(pos)
		e.store.ClearPendingEntryOrder(fill.OptionType)
		if e.notifier != nil {
			e.notifier.TradeEntry(pos)
		}

		if _, err := e.orderMg.PlaceSLOrder(ctx, fill.Symbol, slTrigger, quantity); err != nil {
			log.Printf("engine: SL placement failed for %s, forcing emergency exit: %v", fill.Symbol, err)
			if _, exitErr := e.orderMg.EmergencyMarketExit(ctx, fill.Symbol, quantity, "SL_PLACEMENT_FAILED"); exitErr != nil {
				return wrap(SafetyCritical, "emergency exit after SL failure", exitErr)
			}
			closed, closeErr := e.tracker.ClosePosition(fill.Symbol, fill.Price, models.ExitReasonEmergency)
			if closeErr == nil {
				e.store.AppendClosedTrade(closed)
				e.store.RemoveOpenPosition(fill.Symbol)
				if e.notifier != nil {
					e.notifier.TradeExit(closed)
				}
			}
			continue
		}
		metrics.OrdersPlaced.WithLabelValues("sl").Inc()
	}
	return nil
}

func (e *Engine) announceBestStrikeChange(optType models.OptionType, best *models.Candidate) {
	var symbol string
	if best != nil {
		symbol = best.Symbol
	}
	e.mu.Lock()
	prev := &e.lastBestCE
	if optType == models.PE {
		prev = &e.lastBestPE
	}
	changed := *prev != symbol
	*prev = symbol
	e.mu.Unlock()
	if changed && symbol != "" && e.notifier != nil {
		e.notifier.BestStrikeChange(optType, symbol)
	}
	e.store.SaveBestStrike(optType, best)
}

func (e *Engine) persistPoolSnapshot(bestCE, bestPE *models.Candidate) {
	e.store.SaveCandidates(e.filt.Candidates())
	for symbol := range e.universe {
		if bar, ok := e.pipe.GetLatestBar(symbol); ok {
			e.store.SaveLatestBar(bar)
		}
	}
}

func (e *Engine) persistTickState() {
	summary := e.tracker.GetSummary()
	metrics.OpenPositions.WithLabelValues(string(models.CE)).Set(float64(summary.OpenCountByType[models.CE]))
	metrics.OpenPositions.WithLabelValues(string(models.PE)).Set(float64(summary.OpenCountByType[models.PE]))

	e.session.CumulativeR = summary.CumulativeR
	e.store.SaveSession(e.session)
}

func (e *Engine) reconcile(ctx context.Context) {
	posResult, err := e.tracker.ReconcileWithBroker(ctx, e.broker)
	if err != nil {
		log.Printf("engine: position reconciliation failed: %v", err)
	} else {
		for _, symbol := range posResult.PhantomClosed {
			e.store.RemoveOpenPosition(symbol)
			log.Printf("engine: phantom position closed for %s (broker shows flat)", symbol)
		}
		// Orphan/mismatch alerts are already throttled once-per-day inside
		// the tracker itself, so every entry reaching here is new; send it
		// as a plain line rather than re-deriving quantities the tracker
		// already folded into its result strings.
		for _, symbol := range posResult.Orphaned {
			if e.notifier != nil {
				e.notifier.PositionUpdate(fmt.Sprintf("ORPHAN POSITION %s (not tracked locally)", symbol))
			}
		}
		for _, mismatch := range posResult.QuantityMismatches {
			if e.notifier != nil {
				e.notifier.PositionUpdate(fmt.Sprintf("QTY MISMATCH %s", mismatch))
			}
		}
	}

	orderResult, err := e.orderMg.ReconcileWithBroker(ctx, e.tracker.OpenSymbols())
	if err != nil {
		log.Printf("engine: order reconciliation failed: %v", err)
		return
	}
	for _, symbol := range orderResult.SLOrdersMissing {
		log.Printf("engine: open position %s has no tracked SL order", symbol)
	}
}

func (e *Engine) onDailyExit(ctx context.Context, reason string) {
	log.Printf("engine: daily exit triggered: %s", reason)
	e.orderMg.CancelAll(ctx)
	closed := e.tracker.CloseAllPositions(reason, nil)
	for _, pos := range closed {
		e.store.AppendClosedTrade(pos)
		e.store.RemoveOpenPosition(pos.Symbol)
	}
	summary := e.tracker.GetSummary()
	if e.notifier != nil {
		e.notifier.DailyTarget(reason, summary.CumulativeR.String())
		e.notifier.DailySummary(summary)
	}
}

func (e *Engine) forceEODExit(ctx context.Context) {
	log.Println("engine: force-exit time reached, closing all positions")
	e.onDailyExit(ctx, models.ExitReasonEOD)
}

// --- Shutdown --------------------------------------------------------------

// gracefulShutdown persists final state and notifies, but leaves open
// positions and resting orders untouched — a clean restart reconciles them
// from the broker and the store on the next startup.
func (e *Engine) gracefulShutdown(ctx context.Context) {
	log.Println("engine: graceful shutdown")
	e.session.Operational = models.StateShutdown
	e.store.SaveSession(e.session)
	if e.notifier != nil {
		e.notifier.Send("engine shutting down gracefully")
	}
}

// emergencyShutdown is reserved for SAFETY_CRITICAL failures: it attempts to
// flatten every open position with market orders before giving up the
// session, since a silent exit here would leave unbounded risk resting on
// the broker's book.
func (e *Engine) emergencyShutdown(ctx context.Context, reason string) {
	log.Printf("engine: EMERGENCY SHUTDOWN: %s", reason)
	e.session.Operational = models.StateError
	e.session.ErrorReason = reason
	e.store.SaveSession(e.session)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e.orderMg.CancelAll(shutdownCtx)
	for symbol := range e.tracker.OpenSymbols() {
		if _, err := e.orderMg.EmergencyMarketExit(shutdownCtx, symbol, 0, "EMERGENCY_SHUTDOWN"); err != nil {
			log.Printf("engine: emergency exit failed for %s: %v", symbol, err)
		}
	}
	if e.notifier != nil {
		e.notifier.Error("emergency shutdown", fmt.Errorf("%s", reason))
	}
}

// --- Operator status surface (wired into the Telegram command listener) ----

func (e *Engine) statusLine() string {
	summary := e.tracker.GetSummary()
	return fmt.Sprintf("state=%s source=%s open=%d cumulativeR=%s",
		e.session.Operational, e.pipe.ActiveSource(), summary.OpenCount, summary.CumulativeR)
}

func (e *Engine) menuLine() string {
	return "/kill /pause /resume /status /menu"
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
