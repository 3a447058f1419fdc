package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptionType is the CE/PE suffix of a NIFTY option symbol.
type OptionType string

const (
	CE OptionType = "CE"
	PE OptionType = "PE"
)

// Candidate is a swing low treated as a potential short-entry opportunity.
type Candidate struct {
	Symbol       string
	OptionType   OptionType
	Strike       int
	SwingLow     decimal.Decimal
	SwingTime    time.Time
	VWAPAtSwing  decimal.Decimal
	HighestHigh  decimal.Decimal
	CurrentPrice decimal.Decimal

	EntryPrice     decimal.Decimal
	StopLossPrice  decimal.Decimal
	SLPoints       decimal.Decimal
	SLPercent      decimal.Decimal
	VWAPPremium    decimal.Decimal
	Lots           int
	RActual        decimal.Decimal

	Qualified          bool
	DisqualifyReason   string
	AlreadyBrokenAtStartup bool
}

// OrderTrigger is the action the continuous filter recommends for a
// candidate's option type on the current tick.
type OrderTrigger string

const (
	TriggerPlace     OrderTrigger = "place"
	TriggerWait      OrderTrigger = "wait"
	TriggerModify    OrderTrigger = "modify"
	TriggerCancel    OrderTrigger = "cancel"
	TriggerCheckFill OrderTrigger = "check_fill"
)
