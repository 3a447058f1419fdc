// Package state is the relational, ACID source of truth for restart: open
// positions, closed trades, pending entry/SL orders, the day's dashboard
// state, and observability logs (swings, candidates, bars, best strikes,
// order triggers). The orchestrator saves the session row, candidates,
// latest bars and best strikes after each tick, an open position when its
// entry fills, and closed trades and live swings as they occur; it does not
// write pending_entry_orders, active_sl_orders or order_trigger_log.
// Migrations are numbered and idempotent, applied
// against a real relational schema rather than a single JSON blob.
package state

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpenPosition is the gorm-mapped row for an open short position.
type OpenPosition struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Symbol     string `gorm:"uniqueIndex;size:32;not null"`
	OptionType string `gorm:"size:4;not null"`
	Strike     int    `gorm:"not null"`

	EntryPrice decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	SLPrice    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Quantity   int64           `gorm:"not null"`
	RActual    decimal.Decimal `gorm:"type:decimal(18,4)"`
	EntryTime  time.Time       `gorm:"not null"`

	CurrentPrice decimal.Decimal `gorm:"type:decimal(18,4)"`
	UnrealizedPL decimal.Decimal `gorm:"type:decimal(18,4)"`
	UnrealizedR  decimal.Decimal `gorm:"type:decimal(18,4)"`

	CandidateSwingLow decimal.Decimal `gorm:"type:decimal(18,4)"`
	CandidateVWAP     decimal.Decimal `gorm:"type:decimal(18,4)"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (OpenPosition) TableName() string { return "open_positions" }

// ClosedTrade is the append-only row written once a position closes.
type ClosedTrade struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Symbol     string `gorm:"index;size:32;not null"`
	OptionType string `gorm:"size:4;not null"`
	Strike     int    `gorm:"not null"`

	EntryPrice decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	SLPrice    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Quantity   int64           `gorm:"not null"`
	EntryTime  time.Time       `gorm:"not null"`

	ExitPrice  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ExitTime   time.Time       `gorm:"not null"`
	ExitReason string          `gorm:"size:32;not null"`
	RealizedPL decimal.Decimal `gorm:"type:decimal(18,4)"`
	RealizedR  decimal.Decimal `gorm:"type:decimal(18,4)"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (ClosedTrade) TableName() string { return "closed_trades" }

// PendingEntryOrder is keyed by option type: at most one resting entry
// order per CE/PE at a time.
type PendingEntryOrder struct {
	OptionType string `gorm:"primaryKey;size:4"`
	BrokerID   string `gorm:"size:64;not null"`
	Symbol     string `gorm:"size:32;not null"`
	Trigger    decimal.Decimal `gorm:"type:decimal(18,4)"`
	Limit      decimal.Decimal `gorm:"type:decimal(18,4)"`
	Quantity   int64           `gorm:"not null"`
	State      string          `gorm:"size:16;not null"`
	PlacedAt   time.Time
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (PendingEntryOrder) TableName() string { return "pending_entry_orders" }

// ActiveSLOrder is keyed by symbol: one resting SL order per open position.
type ActiveSLOrder struct {
	Symbol    string `gorm:"primaryKey;size:32"`
	BrokerID  string `gorm:"size:64;not null"`
	Trigger   decimal.Decimal `gorm:"type:decimal(18,4)"`
	Limit     decimal.Decimal `gorm:"type:decimal(18,4)"`
	Quantity  int64           `gorm:"not null"`
	State     string          `gorm:"size:16;not null"`
	PlacedAt  time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ActiveSLOrder) TableName() string { return "active_sl_orders" }

// DailyState is a singleton row for the current trade date's dashboard and
// exit-control fields.
type DailyState struct {
	TradeDate          string `gorm:"primaryKey;size:10"`
	CumulativeR        decimal.Decimal `gorm:"type:decimal(18,4)"`
	DailyExitTriggered bool
	DailyExitReason    string `gorm:"size:32"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

func (DailyState) TableName() string { return "daily_state" }

// SwingLogEntry is an append-only record of every confirmed swing, for
// observability and dashboarding.
type SwingLogEntry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Symbol    string    `gorm:"index;size:32;not null"`
	Type      string    `gorm:"size:8;not null"`
	Price     decimal.Decimal `gorm:"type:decimal(18,4)"`
	VWAP      decimal.Decimal `gorm:"type:decimal(18,4)"`
	BarIndex  int
	SwingTime time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (SwingLogEntry) TableName() string { return "all_swings_log" }

// SwingCandidate mirrors the live candidate pool, replaced wholesale each
// tick's incremental save.
type SwingCandidate struct {
	Symbol       string `gorm:"primaryKey;size:32"`
	OptionType   string `gorm:"size:4;not null"`
	Strike       int
	SwingLow     decimal.Decimal `gorm:"type:decimal(18,4)"`
	SwingTime    time.Time
	VWAPAtSwing  decimal.Decimal `gorm:"type:decimal(18,4)"`
	HighestHigh  decimal.Decimal `gorm:"type:decimal(18,4)"`
	CurrentPrice decimal.Decimal `gorm:"type:decimal(18,4)"`

	EntryPrice    decimal.Decimal `gorm:"type:decimal(18,4)"`
	StopLossPrice decimal.Decimal `gorm:"type:decimal(18,4)"`
	SLPoints      decimal.Decimal `gorm:"type:decimal(18,4)"`
	SLPercent     decimal.Decimal `gorm:"type:decimal(18,4)"`
	VWAPPremium   decimal.Decimal `gorm:"type:decimal(18,4)"`
	Lots          int
	RActual       decimal.Decimal `gorm:"type:decimal(18,4)"`

	Qualified        bool
	DisqualifyReason string `gorm:"size:64"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (SwingCandidate) TableName() string { return "swing_candidates" }

// LatestBar is the most recently sealed or in-progress bar per symbol.
type LatestBar struct {
	Symbol    string `gorm:"primaryKey;size:32"`
	BarTime   time.Time
	Open      decimal.Decimal `gorm:"type:decimal(18,4)"`
	High      decimal.Decimal `gorm:"type:decimal(18,4)"`
	Low       decimal.Decimal `gorm:"type:decimal(18,4)"`
	Close     decimal.Decimal `gorm:"type:decimal(18,4)"`
	Volume    int64
	VWAP      decimal.Decimal `gorm:"type:decimal(18,4)"`
	Sealed    bool
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (LatestBar) TableName() string { return "latest_bars" }

// BestStrike is keyed by option type: the current winner of the continuous
// filter's tie-break selection.
type BestStrike struct {
	OptionType string `gorm:"primaryKey;size:4"`
	Symbol     string `gorm:"size:32;not null"`
	EntryPrice decimal.Decimal `gorm:"type:decimal(18,4)"`
	SLPoints   decimal.Decimal `gorm:"type:decimal(18,4)"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (BestStrike) TableName() string { return "best_strikes" }

// OrderTriggerLogEntry is an append-only record of every trigger decision
// the continuous filter classifies, for dashboard replay.
type OrderTriggerLogEntry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Symbol    string    `gorm:"index;size:32;not null"`
	Trigger   string    `gorm:"size:16;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (OrderTriggerLogEntry) TableName() string { return "order_trigger_log" }

// OperationalState is the singleton lifecycle record: current coarse state,
// when it was entered, and the two file-backed control flags mirrored into
// the database for dashboard visibility (the sentinel files in
// internal/storage remain the actual control surface; these columns are a
// read-only reflection of them).
type OperationalState struct {
	ID             uint   `gorm:"primaryKey"`
	State          string `gorm:"size:16;not null"`
	StateEnteredAt time.Time
	ErrorReason    string `gorm:"size:256"`
	PauseRequested bool
	KillRequested  bool
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (OperationalState) TableName() string { return "operational_state" }
