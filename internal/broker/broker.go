// Package broker defines the capability set the core consumes from a
// broker's REST surface. A dry-run implementation and a live implementation
// both satisfy Broker; the core never imports a vendor SDK directly.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"swingshort/internal/models"
)

// PriceType is the broker's order-type lexicon.
type PriceType string

const (
	PriceTypeLimit  PriceType = "LIMIT"
	PriceTypeSL     PriceType = "SL"
	PriceTypeMarket PriceType = "MARKET"
)

// Action is BUY or SELL.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// PlaceOrderRequest mirrors the broker's placeorder payload shape.
type PlaceOrderRequest struct {
	Strategy     string
	Symbol       string
	Exchange     string
	Action       Action
	PriceType    PriceType
	Product      string
	Quantity     int64
	Price        decimal.Decimal
	TriggerPrice decimal.Decimal
}

// PlaceOrderResult mirrors {status, orderid, message}.
type PlaceOrderResult struct {
	Status  string
	OrderID string
	Message string
}

// ModifyOrderRequest mirrors the broker's modifyorder payload shape.
type ModifyOrderRequest struct {
	OrderID      string
	Symbol       string
	Exchange     string
	PriceType    PriceType
	Quantity     int64
	Price        decimal.Decimal
	TriggerPrice decimal.Decimal
}

// CancelOrderResult mirrors {status, message}.
type CancelOrderResult struct {
	Status  string
	Message string
}

// HistoryRow is one time-indexed OHLCV row from the history endpoint.
type HistoryRow struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// Broker is the capability set the order manager and data pipeline need
// from a broker's REST surface: place/modify/cancel/orderbook/positionbook/
// history/account.
type Broker interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error)
	ModifyOrder(ctx context.Context, req ModifyOrderRequest) (PlaceOrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (CancelOrderResult, error)
	Orderbook(ctx context.Context) ([]models.BrokerOrder, error)
	Positionbook(ctx context.Context) ([]models.BrokerPosition, error)
	History(ctx context.Context, symbol, exchange, interval string, start, end time.Time) ([]HistoryRow, error)
	AccountDetails(ctx context.Context) (models.Account, error)
}
