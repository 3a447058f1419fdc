package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a minute-bucketed OHLCV candle for one option symbol, with
// session-cumulative VWAP and a tick count. It is a value type: callers
// receive copies, never references into pipeline-owned storage.
type Bar struct {
	Symbol    string
	Time      time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
	VWAP      decimal.Decimal
	ATP       decimal.Decimal
	TickCount int
	Sealed    bool
}

// TypicalPrice is (H+L+C)/3, the VWAP accumulator's per-tick price input.
func (b Bar) TypicalPrice() decimal.Decimal {
	three := decimal.NewFromInt(3)
	return b.High.Add(b.Low).Add(b.Close).Div(three)
}

// Tick is one quote update from a feed.
type Tick struct {
	Symbol    string
	LTP       decimal.Decimal
	Volume    int64
	ATP       decimal.Decimal
	Timestamp time.Time
}
