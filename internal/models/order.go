package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind distinguishes the two order shapes the core places.
type OrderKind string

const (
	OrderKindEntry OrderKind = "ENTRY" // stop-limit SELL
	OrderKindExitSL OrderKind = "EXIT_SL" // stop-limit BUY
)

// OrderState is the local entry/SL order state machine position.
type OrderState string

const (
	OrderStateNone       OrderState = "none"
	OrderStateInFlight   OrderState = "in_flight"
	OrderStatePending    OrderState = "pending"
	OrderStateCancelling OrderState = "cancelling"
)

// PlacingSentinel is the transient broker ID used between "decided to place"
// and "broker call returned", so a concurrent tick never double-places.
const PlacingSentinel = "PLACING"

// Order is the core's local view of a resting entry or exit-SL order.
type Order struct {
	BrokerID    string
	Kind        OrderKind
	Symbol      string
	OptionType  OptionType
	Trigger     decimal.Decimal
	Limit       decimal.Decimal
	Quantity    int64
	State       OrderState
	PlacedAt    time.Time
	CandidateID string // symbol of the originating candidate, for audit
}

// BrokerOrderStatus is the lowercase broker order-status lexicon from the
// orderbook endpoint.
type BrokerOrderStatus string

const (
	BrokerStatusPending   BrokerOrderStatus = "pending"
	BrokerStatusTriggered BrokerOrderStatus = "triggered"
	BrokerStatusComplete  BrokerOrderStatus = "complete"
	BrokerStatusFilled    BrokerOrderStatus = "filled"
	BrokerStatusRejected  BrokerOrderStatus = "rejected"
	BrokerStatusCancelled BrokerOrderStatus = "cancelled"
)

// BrokerOrder is one row of the broker's orderbook response.
type BrokerOrder struct {
	OrderID        string
	Symbol         string
	Status         BrokerOrderStatus
	FilledQuantity int64
	AveragePrice   decimal.Decimal
	RejectedReason string
}

// CancelResult is the outcome of a cancel call, per the cancel-before-place
// safety rule: success requires synchronous verification before any new
// order is placed into the freed slot.
type CancelResult string

const (
	CancelSuccess  CancelResult = "success"  // verify needed
	CancelTerminal CancelResult = "terminal" // already terminal, no verify needed
	CancelFailed   CancelResult = "failed"
)

// EntryResult is the outcome manage_entry_for_type returns to the caller.
type EntryResult string

const (
	EntryPlaced   EntryResult = "placed"
	EntryModified EntryResult = "modified"
	EntryKept     EntryResult = "kept"
	EntryCancelled EntryResult = "cancelled"
	EntryFailed   EntryResult = "failed"
)

// Fill is a deduped entry-order fill observed by the order manager.
type Fill struct {
	Symbol     string
	OptionType OptionType
	OrderID    string
	Price      decimal.Decimal
	Quantity   int64
	Time       time.Time
}

// DedupeKey identifies a fill uniquely for at-most-once processing.
func (f Fill) DedupeKey() string {
	return f.Symbol + "|" + f.OrderID + "|" + f.Price.String()
}
