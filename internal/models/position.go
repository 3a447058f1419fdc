package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open or closed short option position.
type Position struct {
	Symbol     string
	OptionType OptionType
	Strike     int

	EntryPrice decimal.Decimal
	SLPrice    decimal.Decimal
	Quantity   int64
	RActual    decimal.Decimal
	EntryTime  time.Time

	CurrentPrice   decimal.Decimal
	UnrealizedPL   decimal.Decimal
	UnrealizedR    decimal.Decimal

	Closed       bool
	ExitPrice    decimal.Decimal
	ExitTime     time.Time
	ExitReason   string
	RealizedPL   decimal.Decimal
	RealizedR    decimal.Decimal

	// CandidateSwingLow/CandidateVWAP preserve the originating candidate's
	// swing context so a restored position round-trips through persistence
	// without losing the context it was opened under.
	CandidateSwingLow decimal.Decimal
	CandidateVWAP     decimal.Decimal
}

// BrokerPosition is one row of the broker's positionbook response.
type BrokerPosition struct {
	Symbol        string
	Quantity      int64
	AveragePrice  decimal.Decimal
	Product       string
}

// Account is the broker account snapshot from get_account_details.
type Account struct {
	AvailableCash decimal.Decimal
}

// PositionSummary is the aggregate view returned by get_position_summary.
type PositionSummary struct {
	OpenCount        int
	OpenCountByType  map[OptionType]int
	CumulativeR      decimal.Decimal
	TotalPL          decimal.Decimal
	ClosedCount      int
	DailyExitReason  string
	Timestamp        time.Time
}
