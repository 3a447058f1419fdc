// Package swing implements a per-symbol watch-counter swing detector: a
// swing low confirms once two subsequent bars each form a higher high and
// higher close than the previous bar since the tracked candidate; a swing
// high confirms symmetrically.
package swing

import (
	"time"

	"swingshort/internal/models"
)

type candidate struct {
	typ      models.SwingType
	bar      models.Bar
	barIndex int
	watch    int
}

type symbolState struct {
	lastSeenTS time.Time
	lastBar    models.Bar
	haveLast   bool
	nextType   models.SwingType // the type the next confirmed swing must be
	cand       *candidate
	confirmed  []models.Swing
	barIndex   int
}

// Detector tracks swing state per symbol. Silent mode suppresses the
// OnSwing callback during historical backfill; callers flip to live mode
// once backfill finishes and read the backfill-era swings back through
// ConfirmedSwings. The detector itself neither persists nor deduplicates them.
type Detector struct {
	symbols map[string]*symbolState
	silent  bool

	// OnSwing is invoked once per confirmed swing while not in silent mode.
	OnSwing func(models.Swing)
}

// New returns a Detector starting in silent (backfill) mode.
func New() *Detector {
	return &Detector{symbols: make(map[string]*symbolState), silent: true}
}

// EnableLiveMode flips the detector out of silent mode; subsequent swings
// invoke OnSwing.
func (d *Detector) EnableLiveMode() { d.silent = false }

// SilentMode reports whether swing-confirmed events are currently suppressed.
func (d *Detector) SilentMode() bool { return d.silent }

func (d *Detector) state(symbol string) *symbolState {
	s, ok := d.symbols[symbol]
	if !ok {
		s = &symbolState{nextType: models.SwingLow}
		d.symbols[symbol] = s
	}
	return s
}

// Update feeds one new sealed bar into the detector for its symbol. A bar
// not strictly newer than the last-seen timestamp for that symbol is
// rejected (out-of-order/duplicate protection).
func (d *Detector) Update(bar models.Bar) {
	s := d.state(bar.Symbol)
	if !bar.Time.After(s.lastSeenTS) {
		return
	}
	s.lastSeenTS = bar.Time
	s.barIndex++

	prevBar, havePrev := s.lastBar, s.haveLast
	s.lastBar = bar
	s.haveLast = true

	if s.cand == nil {
		s.cand = &candidate{typ: s.nextType, bar: bar, barIndex: s.barIndex}
		return
	}

	isNewExtreme := false
	switch s.cand.typ {
	case models.SwingLow:
		isNewExtreme = bar.Low.LessThanOrEqual(s.cand.bar.Low)
	case models.SwingHigh:
		isNewExtreme = bar.High.GreaterThanOrEqual(s.cand.bar.High)
	}
	if isNewExtreme {
		s.cand.bar = bar
		s.cand.barIndex = s.barIndex
		s.cand.watch = 0
		return
	}

	if havePrev && bar.High.GreaterThan(prevBar.High) && bar.Close.GreaterThan(prevBar.Close) {
		s.cand.watch++
		if s.cand.watch >= 2 {
			d.confirm(bar.Symbol, s)
		}
	}
}

func (d *Detector) confirm(symbol string, s *symbolState) {
	price := s.cand.bar.Low
	if s.cand.typ == models.SwingHigh {
		price = s.cand.bar.High
	}
	sw := models.Swing{
		Symbol:   symbol,
		Type:     s.cand.typ,
		Price:    price,
		VWAP:     s.cand.bar.VWAP,
		Time:     s.cand.bar.Time,
		BarIndex: s.cand.barIndex,
	}
	s.confirmed = append(s.confirmed, sw)

	nextType := models.SwingHigh
	if s.cand.typ == models.SwingHigh {
		nextType = models.SwingLow
	}
	s.nextType = nextType
	s.cand = nil

	if !d.silent && d.OnSwing != nil {
		d.OnSwing(sw)
	}
}

// ConfirmedSwings returns a defensive copy of all swings confirmed so far
// for a symbol (used to flush the backfill-era batch once live mode starts).
func (d *Detector) ConfirmedSwings(symbol string) []models.Swing {
	s := d.symbols[symbol]
	if s == nil {
		return nil
	}
	out := make([]models.Swing, len(s.confirmed))
	copy(out, s.confirmed)
	return out
}
