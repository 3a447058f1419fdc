package orders

import "time"

// ChurnBreaker tracks cancel-then-place cycles and trips a per-symbol block
// or a global strategy pause once thresholds are exceeded. A "cycle" is a
// cancel followed within cycleWindow by a place of the same symbol.
type ChurnBreaker struct {
	cycleWindow   time.Duration
	symbolWindow  time.Duration
	symbolLimit   int
	globalLimit   int
	lastCancel    map[string]time.Time
	symbolCycles  map[string][]time.Time
	globalCycles  []time.Time
	blockedSymbol map[string]bool
}

// NewChurnBreaker returns a breaker with a 30s cancel-place cycle window,
// a 300s per-symbol window, a per-symbol limit of 2, and a global limit of 5.
func NewChurnBreaker() *ChurnBreaker {
	return &ChurnBreaker{
		cycleWindow:   30 * time.Second,
		symbolWindow:  300 * time.Second,
		symbolLimit:   2,
		globalLimit:   5,
		lastCancel:    make(map[string]time.Time),
		symbolCycles:  make(map[string][]time.Time),
		blockedSymbol: make(map[string]bool),
	}
}

// RecordCancel notes a cancel for symbol at time now, starting the window
// during which a subsequent place would count as a churn cycle.
func (c *ChurnBreaker) RecordCancel(symbol string, now time.Time) {
	c.lastCancel[symbol] = now
}

// RecordPlace checks whether this place closes a churn cycle (a cancel of
// the same symbol within cycleWindow) and, if so, records it. Returns true
// if the global pause threshold was just reached.
func (c *ChurnBreaker) RecordPlace(symbol string, now time.Time) (pauseTriggered bool) {
	cancelledAt, ok := c.lastCancel[symbol]
	if !ok || now.Sub(cancelledAt) > c.cycleWindow {
		return false
	}
	delete(c.lastCancel, symbol)

	c.symbolCycles[symbol] = pruneOlderThan(append(c.symbolCycles[symbol], now), now, c.symbolWindow)
	if len(c.symbolCycles[symbol]) >= c.symbolLimit {
		c.blockedSymbol[symbol] = true
	}

	c.globalCycles = pruneOlderThan(append(c.globalCycles, now), now, c.symbolWindow)
	if len(c.globalCycles) >= c.globalLimit {
		return true
	}
	return false
}

// Blocked reports whether symbol is currently in the churn-blocked set.
func (c *ChurnBreaker) Blocked(symbol string) bool {
	return c.blockedSymbol[symbol]
}

func pruneOlderThan(times []time.Time, now time.Time, window time.Duration) []time.Time {
	out := times[:0]
	for _, t := range times {
		if now.Sub(t) <= window {
			out = append(out, t)
		}
	}
	return out
}
