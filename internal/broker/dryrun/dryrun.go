// Package dryrun implements broker.Broker as an in-memory paper-trading
// simulator, used when PAPER_TRADING or DRY_RUN is set. Order IDs are
// synthesized UUIDs rather than broker-assigned strings.
package dryrun

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"swingshort/internal/broker"
	"swingshort/internal/models"
)

// Broker is a paper-trading broker.Broker. It fills stop-limit orders
// against the last price reported through UpdatePrice, which the
// orchestrator feeds from the live pipeline each tick.
type Broker struct {
	mu sync.Mutex

	cash      decimal.Decimal
	lastPrice map[string]decimal.Decimal
	orders    map[string]*simOrder
	positions map[string]models.BrokerPosition
}

type simOrder struct {
	order    models.BrokerOrder
	action   broker.Action
	trigger  decimal.Decimal
	limit    decimal.Decimal
	quantity int64
	product  string
}

// New returns a paper-trading broker seeded with the given available cash.
func New(startingCash decimal.Decimal) *Broker {
	return &Broker{
		cash:      startingCash,
		lastPrice: make(map[string]decimal.Decimal),
		orders:    make(map[string]*simOrder),
		positions: make(map[string]models.BrokerPosition),
	}
}

// UpdatePrice feeds the simulator the latest tick price for a symbol,
// advancing any resting stop-limit orders on that symbol toward a fill.
func (b *Broker) UpdatePrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPrice[symbol] = price
	for _, so := range b.orders {
		if so.order.Symbol != symbol || so.order.Status != models.BrokerStatusPending {
			continue
		}
		triggered := false
		switch so.action {
		case broker.ActionSell:
			triggered = price.LessThanOrEqual(so.trigger)
		case broker.ActionBuy:
			triggered = price.GreaterThanOrEqual(so.trigger)
		}
		if triggered {
			so.order.Status = models.BrokerStatusComplete
			so.order.FilledQuantity = so.quantity
			so.order.AveragePrice = price
			b.applyFill(so)
		}
	}
}

func (b *Broker) applyFill(so *simOrder) {
	pos := b.positions[so.order.Symbol]
	pos.Symbol = so.order.Symbol
	pos.Product = so.product
	switch so.action {
	case broker.ActionSell:
		pos.Quantity -= so.quantity
	case broker.ActionBuy:
		pos.Quantity += so.quantity
	}
	pos.AveragePrice = so.order.AveragePrice
	if pos.Quantity == 0 {
		delete(b.positions, so.order.Symbol)
		return
	}
	b.positions[so.order.Symbol] = pos
}

func (b *Broker) PlaceOrder(_ context.Context, req broker.PlaceOrderRequest) (broker.PlaceOrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.orders[id] = &simOrder{
		order: models.BrokerOrder{
			OrderID: id,
			Symbol:  req.Symbol,
			Status:  models.BrokerStatusPending,
		},
		action:   req.Action,
		trigger:  req.TriggerPrice,
		limit:    req.Price,
		quantity: req.Quantity,
		product:  req.Product,
	}
	return broker.PlaceOrderResult{Status: "success", OrderID: id}, nil
}

func (b *Broker) ModifyOrder(_ context.Context, req broker.ModifyOrderRequest) (broker.PlaceOrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	so, ok := b.orders[req.OrderID]
	if !ok {
		return broker.PlaceOrderResult{Status: "error", Message: "order not found"}, nil
	}
	so.trigger = req.TriggerPrice
	so.limit = req.Price
	so.quantity = req.Quantity
	return broker.PlaceOrderResult{Status: "success", OrderID: req.OrderID}, nil
}

func (b *Broker) CancelOrder(_ context.Context, orderID string) (broker.CancelOrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	so, ok := b.orders[orderID]
	if !ok {
		return broker.CancelOrderResult{Status: "error", Message: "order not found"}, nil
	}
	if so.order.Status != models.BrokerStatusPending {
		return broker.CancelOrderResult{Status: "error", Message: "already terminal"}, nil
	}
	so.order.Status = models.BrokerStatusCancelled
	return broker.CancelOrderResult{Status: "success"}, nil
}

func (b *Broker) Orderbook(_ context.Context) ([]models.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.BrokerOrder, 0, len(b.orders))
	for _, so := range b.orders {
		out = append(out, so.order)
	}
	return out, nil
}

func (b *Broker) Positionbook(_ context.Context) ([]models.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.BrokerPosition, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out, nil
}

func (b *Broker) History(_ context.Context, symbol, _, _ string, start, end time.Time) ([]broker.HistoryRow, error) {
	// A paper broker has no real history feed; callers fall back to
	// WebSocket-ATP VWAP mode when this returns an empty slice.
	return nil, nil
}

func (b *Broker) AccountDetails(_ context.Context) (models.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.Account{AvailableCash: b.cash}, nil
}
