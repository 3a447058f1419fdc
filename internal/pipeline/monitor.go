package pipeline

import (
	"context"
	"log"
	"time"
)

// RunMonitor runs the ~10s failover/switchback monitor loop until ctx is
// cancelled. It is the pipeline's only goroutine besides the two feed
// readers, and mutates activeSource under the same lock the tick readers
// use, so switch decisions are atomic.
func (p *Pipeline) RunMonitor(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkFailover()
		}
	}
}

func (p *Pipeline) isMarketOpen(now time.Time) bool {
	tod := now.In(p.loc)
	open := time.Date(tod.Year(), tod.Month(), tod.Day(), p.cfg.MarketOpen.Hour(), p.cfg.MarketOpen.Minute(), 0, 0, p.loc)
	closeT := time.Date(tod.Year(), tod.Month(), tod.Day(), p.cfg.MarketClose.Hour(), p.cfg.MarketClose.Minute(), 0, 0, p.loc)
	return !tod.Before(open) && !tod.After(closeT)
}

// checkFailover triggers a failover to backup when primary is disconnected,
// has never ticked since subscription began, has gone stale, or
// fresh-symbol coverage has dropped for three consecutive checks; triggers
// switchback once primary ticks have been continuously flowing for
// SwitchbackThreshold.
func (p *Pipeline) checkFailover() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if !p.isMarketOpen(now) {
		return
	}

	if p.activeSource == SourcePrimary {
		if !p.primary.Connected() {
			p.failoverToBackupLocked("PRIMARY_DISCONNECTED")
			return
		}
		if p.firstDataReceivedAt.IsZero() && !p.subscriptionStartedAt.IsZero() {
			if now.Sub(p.subscriptionStartedAt) > p.cfg.NoTickThreshold {
				p.failoverToBackupLocked("NO_TICKS_SINCE_SUBSCRIBE")
				return
			}
			return
		}
		if newest, ok := newestTime(p.lastPrimaryTickTime); ok {
			if now.Sub(newest) > p.cfg.NoTickThreshold {
				p.failoverToBackupLocked("NO_TICKS")
				return
			}
		}
	} else {
		// On backup: watch for primary ticks resuming, to switch back.
		if newest, ok := newestTime(p.lastPrimaryTickTime); ok && now.Sub(newest) <= p.cfg.NoTickThreshold {
			if p.primaryContinuousSince.IsZero() {
				p.primaryContinuousSince = now
			} else if now.Sub(p.primaryContinuousSince) >= p.cfg.SwitchbackThreshold {
				p.failbackToPrimaryLocked()
				return
			}
		} else {
			p.primaryContinuousSince = time.Time{}
		}
	}

	if p.checkCoverageLocked(now) {
		p.staleCoverageStrikes++
		if p.staleCoverageStrikes >= 3 {
			p.failoverToBackupLocked("LOW_DATA_COVERAGE")
			p.staleCoverageStrikes = 0
		}
	} else {
		p.staleCoverageStrikes = 0
	}
}

// checkCoverageLocked returns true if fresh-symbol coverage is below the
// configured minimum. Caller holds p.mu.
func (p *Pipeline) checkCoverageLocked(now time.Time) bool {
	if len(p.symbols) == 0 {
		return false
	}
	fresh := 0
	for _, sym := range p.symbols {
		if last, ok := p.lastTickTime[sym]; ok && now.Sub(last) <= p.cfg.StaleDataTimeout {
			fresh++
		}
	}
	coverage := float64(fresh) / float64(len(p.symbols))
	return coverage < p.cfg.MinDataCoverage
}

func newestTime(m map[string]time.Time) (time.Time, bool) {
	var newest time.Time
	found := false
	for _, t := range m {
		if !found || t.After(newest) {
			newest = t
			found = true
		}
	}
	return newest, found
}

// failoverToBackupLocked flips active source to backup, clears active-
// source tick timestamps so backup ticks immediately count as fresh, and
// kicks a background reconnect of primary. Caller holds p.mu.
func (p *Pipeline) failoverToBackupLocked(reason string) {
	if p.activeSource == SourceBackup {
		return
	}
	if !p.backup.Connected() {
		log.Printf("pipeline: failover requested (%s) but backup is not connected", reason)
		return
	}
	log.Printf("pipeline: failing over to backup feed: %s", reason)
	p.activeSource = SourceBackup
	p.lastTickTime = make(map[string]time.Time)
	p.firstDataReceivedAt = time.Time{}
	go func() {
		if pf, ok := p.primary.(reconnector); ok {
			_ = pf.ManualReconnectLoop(context.Background(), 0)
		} else {
			_ = p.primary.Connect(context.Background())
		}
	}()
}

// failbackToPrimaryLocked restores active-source tick timestamps from
// primary's shadow map. Caller holds p.mu.
func (p *Pipeline) failbackToPrimaryLocked() {
	log.Printf("pipeline: switching back to primary feed")
	p.activeSource = SourcePrimary
	p.lastTickTime = make(map[string]time.Time, len(p.lastPrimaryTickTime))
	for k, v := range p.lastPrimaryTickTime {
		p.lastTickTime[k] = v
	}
	if earliest, ok := earliestTime(p.lastPrimaryTickTime); ok {
		p.firstDataReceivedAt = earliest
	}
	p.primaryContinuousSince = time.Time{}
}

func earliestTime(m map[string]time.Time) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, t := range m {
		if !found || t.Before(earliest) {
			earliest = t
			found = true
		}
	}
	return earliest, found
}

// reconnector is satisfied by feed implementations exposing their own
// backoff loop (e.g. feed/primary.Feed); others fall back to a single
// reconnect attempt.
type reconnector interface {
	ManualReconnectLoop(ctx context.Context, maxAttempts int) error
}

// CheckFreshness is an independent watchdog, separate from the failover
// path: it returns whether data is fresh and, if not, why. A freshness
// failure should trigger a primary reconnect, not an immediate failover
// (the monitor handles that separately).
func (p *Pipeline) CheckFreshness() (bool, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := time.Now()
	if !p.isMarketOpen(now) {
		return true, ""
	}
	if p.checkCoverageLocked(now) {
		return false, "LOW_DATA_COVERAGE"
	}
	if newest, ok := newestTime(p.lastTickTime); ok {
		if now.Sub(newest) > p.cfg.StaleDataTimeout {
			return false, "STALE_TICKS"
		}
	} else {
		return false, "NO_TICKS"
	}
	if newest, ok := newestTime(p.lastBarTimestamp); ok {
		if now.Sub(newest) > p.cfg.MaxBarAge {
			return false, "STALE_BARS"
		}
	}
	return true, ""
}
