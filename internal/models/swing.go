package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SwingType identifies whether a confirmed extremum is a low or a high.
type SwingType string

const (
	SwingLow  SwingType = "LOW"
	SwingHigh SwingType = "HIGH"
)

// Swing is a confirmed local extremum on a symbol's bar series.
type Swing struct {
	Symbol    string
	Type      SwingType
	Price     decimal.Decimal
	VWAP      decimal.Decimal
	Time      time.Time
	BarIndex  int
}
