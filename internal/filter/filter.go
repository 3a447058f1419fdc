// Package filter implements the continuous strike filter: candidate
// recomputation, entry-price/VWAP-premium/SL% gating, tie-break selection,
// and order-trigger classification.
package filter

import (
	"sort"

	"github.com/shopspring/decimal"

	"swingshort/internal/models"
)

// Thresholds carries the filter's env-configured bounds (MIN/MAX_ENTRY_PRICE,
// MIN_VWAP_PREMIUM, MIN/MAX_SL_PERCENT, TARGET_SL_POINTS,
// MODIFICATION_THRESHOLD, R_VALUE, LOT_SIZE, MAX_LOTS_PER_POSITION).
type Thresholds struct {
	MinEntryPrice        decimal.Decimal
	MaxEntryPrice        decimal.Decimal
	MinVWAPPremium       decimal.Decimal
	MinSLPercent         decimal.Decimal
	MaxSLPercent         decimal.Decimal
	TargetSLPoints       decimal.Decimal
	ModificationThreshold decimal.Decimal
	RValue               decimal.Decimal
	LotSize              int64
	MaxLotsPerPosition   int64
}

// Filter owns the live candidate pool, one per symbol that has seen at
// least one unbroken swing low.
type Filter struct {
	thresholds Thresholds
	candidates map[string]*models.Candidate
}

// New returns an empty Filter.
func New(t Thresholds) *Filter {
	return &Filter{thresholds: t, candidates: make(map[string]*models.Candidate)}
}

// AddCandidate registers a new swing-low candidate, typically called when
// the swing detector confirms a low for a symbol with no open position.
func (f *Filter) AddCandidate(c models.Candidate) {
	cp := c
	f.candidates[c.Symbol] = &cp
}

// RemoveCandidate drops a candidate from the pool (broker phantom-close,
// position opened, or swing invalidated).
func (f *Filter) RemoveCandidate(symbol string) {
	delete(f.candidates, symbol)
}

// Candidates returns a defensive copy of the pool.
func (f *Filter) Candidates() map[string]models.Candidate {
	out := make(map[string]models.Candidate, len(f.candidates))
	for k, v := range f.candidates {
		out[k] = *v
	}
	return out
}

// Evaluate recomputes every candidate against the latest bar snapshot and
// current prices, applies the entry filters, and returns the best
// qualified CE and PE candidates (either may be absent).
func (f *Filter) Evaluate(highestHigh map[string]decimal.Decimal, currentPrice map[string]decimal.Decimal, openPositions map[string]bool) (bestCE, bestPE *models.Candidate) {
	qualifiedCE := make([]*models.Candidate, 0)
	qualifiedPE := make([]*models.Candidate, 0)

	for symbol, c := range f.candidates {
		if openPositions[symbol] {
			c.Qualified = false
			c.DisqualifyReason = "open position exists"
			continue
		}
		if hh, ok := highestHigh[symbol]; ok && hh.GreaterThan(c.HighestHigh) {
			c.HighestHigh = hh
		}
		if cp, ok := currentPrice[symbol]; ok {
			c.CurrentPrice = cp
		}

		c.EntryPrice = c.SwingLow.Sub(tick)
		c.StopLossPrice = c.HighestHigh.Add(decimal.NewFromInt(1))
		c.SLPoints = c.StopLossPrice.Sub(c.EntryPrice)
		if !c.EntryPrice.IsZero() {
			c.SLPercent = c.SLPoints.Div(c.EntryPrice)
			c.VWAPPremium = c.EntryPrice.Sub(c.VWAPAtSwing).Div(c.VWAPAtSwing)
		}

		if !c.AlreadyBrokenAtStartup && c.CurrentPrice.LessThanOrEqual(c.SwingLow.Sub(tick)) {
			c.AlreadyBrokenAtStartup = true
		}

		qualify(&f.thresholds, c)
		if !c.Qualified {
			continue
		}
		lots, actualR := f.positionSize(c.EntryPrice, c.StopLossPrice)
		c.Lots = lots
		c.RActual = actualR

		switch c.OptionType {
		case models.CE:
			qualifiedCE = append(qualifiedCE, c)
		case models.PE:
			qualifiedPE = append(qualifiedPE, c)
		}
	}

	return selectBest(qualifiedCE, f.thresholds.TargetSLPoints), selectBest(qualifiedPE, f.thresholds.TargetSLPoints)
}

// tick is the exchange's minimum price increment, used to detect a
// break below the swing low before a pending order exists.
var tick = decimal.NewFromFloat(0.05)

func qualify(t *Thresholds, c *models.Candidate) {
	if c.EntryPrice.LessThan(t.MinEntryPrice) || c.EntryPrice.GreaterThan(t.MaxEntryPrice) {
		c.Qualified = false
		c.DisqualifyReason = "entry price out of range"
		return
	}
	if c.VWAPPremium.LessThan(t.MinVWAPPremium) {
		c.Qualified = false
		c.DisqualifyReason = "vwap premium too low"
		return
	}
	if c.SLPercent.LessThan(t.MinSLPercent) || c.SLPercent.GreaterThan(t.MaxSLPercent) {
		c.Qualified = false
		c.DisqualifyReason = "sl percent out of range"
		return
	}
	c.Qualified = true
	c.DisqualifyReason = ""
}

// positionSize rounds the required quantity to an integer lot count that
// minimizes |R_actual - R_target|, capped at MaxLotsPerPosition.
func (f *Filter) positionSize(entryPrice, slPrice decimal.Decimal) (lots int, actualR decimal.Decimal) {
	riskPerUnit := slPrice.Sub(entryPrice)
	if !riskPerUnit.IsPositive() {
		return 1, riskPerUnit.Mul(decimal.NewFromInt(f.thresholds.LotSize))
	}
	requiredQty := f.thresholds.RValue.Div(riskPerUnit)
	requiredLots := requiredQty.Div(decimal.NewFromInt(f.thresholds.LotSize))
	finalLots := requiredLots.Round(0).IntPart()
	if finalLots < 1 {
		finalLots = 1
	}
	if finalLots > f.thresholds.MaxLotsPerPosition {
		finalLots = f.thresholds.MaxLotsPerPosition
	}
	finalQty := decimal.NewFromInt(finalLots * f.thresholds.LotSize)
	return int(finalLots), riskPerUnit.Mul(finalQty)
}

func selectBest(candidates []*models.Candidate, target decimal.Decimal) *models.Candidate {
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		di := candidates[i].SLPoints.Sub(target).Abs()
		dj := candidates[j].SLPoints.Sub(target).Abs()
		if !di.Equal(dj) {
			return di.LessThan(dj)
		}
		return candidates[i].EntryPrice.GreaterThan(candidates[j].EntryPrice)
	})
	return candidates[0]
}

// Classify returns the order-trigger action for a symbol given the current
// pending-entry state for its option type.
func Classify(best *models.Candidate, pendingSymbol string, pendingExists bool, proximity decimal.Decimal) models.OrderTrigger {
	if best == nil {
		if pendingExists {
			return models.TriggerCancel
		}
		return models.TriggerWait
	}
	if best.AlreadyBrokenAtStartup {
		return models.TriggerWait
	}
	if !pendingExists {
		if best.CurrentPrice.Sub(best.EntryPrice).Abs().LessThanOrEqual(proximity) {
			return models.TriggerPlace
		}
		return models.TriggerWait
	}
	if pendingSymbol != best.Symbol {
		return models.TriggerModify
	}
	if best.CurrentPrice.LessThanOrEqual(best.SwingLow) {
		return models.TriggerCheckFill
	}
	return models.TriggerWait
}
