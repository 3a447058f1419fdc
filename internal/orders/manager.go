// Package orders implements the entry/SL order state machine: proactive
// stop-limit entry orders placed ahead of a swing break, immediate SL
// placement on fill, cancel-before-place safety with synchronous
// verification, a churn circuit breaker, and broker reconciliation.
package orders

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"swingshort/internal/broker"
	"swingshort/internal/models"
)

// Config carries the order manager's env-configured behavior.
type Config struct {
	Exchange              string
	Product               string
	Strategy              string
	TickSize              decimal.Decimal
	EntryLimitOffset      decimal.Decimal
	SLLimitOffset         decimal.Decimal
	ModificationThreshold decimal.Decimal
	MaxOrderRetries       int
	OrderRetryDelay       time.Duration
	MaxSLFailureCount     int
	EmergencyExitRetries  int
	EmergencyExitDelay    time.Duration
	LotSize               int64
}

// Manager owns the entry/SL order state machine for both option types.
type Manager struct {
	mu sync.Mutex

	b   broker.Broker
	cfg Config

	pendingEntry map[models.OptionType]*models.Order
	activeSL     map[string]*models.Order // keyed by symbol

	churn *ChurnBreaker

	consecutiveSLFailures int
	filledOrders          []models.Fill
	seenFills             map[string]bool
}

// NewManager constructs an order manager against a live or dry-run broker.
func NewManager(b broker.Broker, cfg Config) *Manager {
	return &Manager{
		b:            b,
		cfg:          cfg,
		pendingEntry: make(map[models.OptionType]*models.Order),
		activeSL:     make(map[string]*models.Order),
		churn:        NewChurnBreaker(),
		seenFills:    make(map[string]bool),
	}
}

// RestoreState seeds in-memory order tracking from persisted state after a
// restart.
func (m *Manager) RestoreState(pendingEntry map[models.OptionType]*models.Order, activeSL map[string]*models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingEntry = pendingEntry
	m.activeSL = activeSL
}

// PendingEntry returns a defensive copy of the current pending-entry state.
func (m *Manager) PendingEntry() map[models.OptionType]models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.OptionType]models.Order, len(m.pendingEntry))
	for k, v := range m.pendingEntry {
		out[k] = *v
	}
	return out
}

// ShouldHaltTrading reports whether consecutive SL placement failures have
// crossed MaxSLFailureCount — a RISK-CRITICAL condition the orchestrator
// must act on.
func (m *Manager) ShouldHaltTrading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveSLFailures >= m.cfg.MaxSLFailureCount
}

// ManageEntryForType places, modifies, keeps, or cancels the resting entry
// order for one option type, given the filter's current best candidate
// (nil to cancel). It never places a new order before confirming any
// replaced order's cancel has propagated.
func (m *Manager) ManageEntryForType(ctx context.Context, optType models.OptionType, candidate *models.Candidate) (models.EntryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.pendingEntry[optType]

	if candidate == nil {
		if existing == nil {
			return models.EntryKept, nil
		}
		result, err := m.cancelExistingLocked(ctx, optType, existing)
		if err != nil {
			return models.EntryFailed, err
		}
		return result, nil
	}

	trigger := candidate.SwingLow.Sub(m.cfg.TickSize)
	limit := trigger.Sub(m.cfg.EntryLimitOffset)

	if existing == nil {
		return m.placeNewEntryLocked(ctx, optType, candidate.Symbol, trigger, limit, int64(candidate.Lots)*m.cfg.LotSize, candidate)
	}

	if existing.Symbol != candidate.Symbol {
		if cancelled, err := m.cancelAndVerifyLocked(ctx, existing); err != nil || !cancelled {
			if err != nil {
				return models.EntryKept, err
			}
			return models.EntryKept, nil
		}
		delete(m.pendingEntry, optType)
		return m.placeNewEntryLocked(ctx, optType, candidate.Symbol, trigger, limit, existing.Quantity, candidate)
	}

	triggerDiff := existing.Trigger.Sub(trigger).Abs()
	limitDiff := existing.Limit.Sub(limit).Abs()
	if triggerDiff.LessThanOrEqual(m.cfg.ModificationThreshold) && limitDiff.LessThanOrEqual(m.cfg.ModificationThreshold) {
		return models.EntryKept, nil
	}

	if cancelled, err := m.cancelAndVerifyLocked(ctx, existing); err != nil || !cancelled {
		if err != nil {
			return models.EntryKept, err
		}
		return models.EntryKept, nil
	}
	return m.placeNewEntryLocked(ctx, optType, candidate.Symbol, trigger, limit, existing.Quantity, candidate)
}

func (m *Manager) placeNewEntryLocked(ctx context.Context, optType models.OptionType, symbol string, trigger, limit decimal.Decimal, quantity int64, candidate *models.Candidate) (models.EntryResult, error) {
	m.pendingEntry[optType] = &models.Order{
		BrokerID:   models.PlacingSentinel,
		Kind:       models.OrderKindEntry,
		Symbol:     symbol,
		OptionType: optType,
		Trigger:    trigger,
		Limit:      limit,
		Quantity:   quantity,
		State:      models.OrderStateInFlight,
		PlacedAt:   time.Now(),
	}

	orderID, err := m.placeBrokerOrder(ctx, symbol, broker.ActionSell, trigger, limit, quantity)
	if err != nil || orderID == "" {
		delete(m.pendingEntry, optType)
		return models.EntryFailed, err
	}

	now := time.Now()
	if m.churn.RecordPlace(symbol, now) {
		log.Printf("orders: global churn threshold reached, strategy pause requested")
	}

	m.pendingEntry[optType].BrokerID = orderID
	m.pendingEntry[optType].State = models.OrderStatePending
	return models.EntryPlaced, nil
}

func (m *Manager) cancelExistingLocked(ctx context.Context, optType models.OptionType, existing *models.Order) (models.EntryResult, error) {
	cancelled, err := m.cancelAndVerifyLocked(ctx, existing)
	if err != nil {
		return models.EntryKept, err
	}
	if !cancelled {
		return models.EntryKept, nil
	}
	delete(m.pendingEntry, optType)
	return models.EntryCancelled, nil
}

// cancelAndVerifyLocked cancels an order and, if the cancel was a fresh
// success (not already terminal), synchronously verifies propagation
// before the caller is allowed to place a replacement.
func (m *Manager) cancelAndVerifyLocked(ctx context.Context, order *models.Order) (bool, error) {
	if order.BrokerID == models.PlacingSentinel {
		return true, nil
	}
	result, err := m.cancelBrokerOrder(ctx, order.BrokerID)
	if err != nil {
		return false, err
	}
	switch result {
	case models.CancelTerminal:
		m.churn.RecordCancel(order.Symbol, time.Now())
		return true, nil
	case models.CancelFailed:
		return false, nil
	}
	ok := m.verifyOrderCancelled(ctx, order.BrokerID)
	if ok {
		m.churn.RecordCancel(order.Symbol, time.Now())
	}
	return ok, nil
}

func (m *Manager) placeBrokerOrder(ctx context.Context, symbol string, action broker.Action, trigger, limit decimal.Decimal, quantity int64) (string, error) {
	var orderID string
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxOrderRetries; attempt++ {
		res, err := m.b.PlaceOrder(ctx, broker.PlaceOrderRequest{
			Strategy:     m.cfg.Strategy,
			Symbol:       symbol,
			Exchange:     m.cfg.Exchange,
			Action:       action,
			PriceType:    broker.PriceTypeSL,
			Product:      m.cfg.Product,
			Quantity:     quantity,
			Price:        limit,
			TriggerPrice: trigger,
		})
		if err == nil && res.Status == "success" {
			return res.OrderID, nil
		}
		lastErr = err
		if attempt < m.cfg.MaxOrderRetries {
			sleep(ctx, m.cfg.OrderRetryDelay)
		}
	}
	return orderID, lastErr
}

func (m *Manager) cancelBrokerOrder(ctx context.Context, orderID string) (models.CancelResult, error) {
	res, err := m.b.CancelOrder(ctx, orderID)
	if err != nil {
		return models.CancelFailed, err
	}
	if res.Status == "success" {
		return models.CancelSuccess, nil
	}
	msg := strings.ToLower(res.Message)
	for _, terminal := range []string{"cancelled status", "completed status", "rejected status", "order not found", "invalid order"} {
		if strings.Contains(msg, terminal) {
			return models.CancelTerminal, nil
		}
	}
	return models.CancelFailed, nil
}

// verifyOrderCancelled polls the orderbook up to 3 times at 500ms
// spacing to confirm a cancel has propagated, guarding against the race
// where a new order is placed before the broker's cancel takes effect.
func (m *Manager) verifyOrderCancelled(ctx context.Context, orderID string) bool {
	const maxRetries = 3
	const delay = 500 * time.Millisecond
	for attempt := 1; attempt <= maxRetries; attempt++ {
		sleep(ctx, delay)
		orders, err := m.b.Orderbook(ctx)
		if err != nil {
			continue
		}
		var found *models.BrokerOrder
		for i := range orders {
			if orders[i].OrderID == orderID {
				found = &orders[i]
				break
			}
		}
		if found == nil {
			return true
		}
		switch found.Status {
		case models.BrokerStatusCancelled, models.BrokerStatusRejected:
			return true
		case models.BrokerStatusComplete, models.BrokerStatusFilled:
			return false
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// PlaceSLOrder places a BUY stop-limit order closing a newly filled short,
// at the trigger the caller passes (the position's stop-loss price), limit =
// trigger + SLLimitOffset. The broker's SL-L BUY semantics require trigger <
// limit. A placement the broker does not accept returns a non-nil error.
func (m *Manager) PlaceSLOrder(ctx context.Context, symbol string, trigger decimal.Decimal, quantity int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := trigger.Add(m.cfg.SLLimitOffset)
	if trigger.GreaterThanOrEqual(limit) {
		return "", fmt.Errorf("sl order for %s: trigger %s must be < limit %s", symbol, trigger, limit)
	}

	orderID, err := m.placeBrokerOrder(ctx, symbol, broker.ActionBuy, trigger, limit, quantity)
	if err != nil || orderID == "" {
		m.consecutiveSLFailures++
		if err == nil {
			err = fmt.Errorf("sl order for %s: broker did not accept the order", symbol)
		}
		return "", err
	}
	m.consecutiveSLFailures = 0
	m.activeSL[symbol] = &models.Order{
		BrokerID: orderID,
		Kind:     models.OrderKindExitSL,
		Symbol:   symbol,
		Trigger:  trigger,
		Limit:    limit,
		Quantity: quantity,
		State:    models.OrderStatePending,
		PlacedAt: time.Now(),
	}
	return orderID, nil
}

// CancelSLOrder cancels the active SL order for a symbol, if any.
func (m *Manager) CancelSLOrder(ctx context.Context, symbol string) error {
	m.mu.Lock()
	order, ok := m.activeSL[symbol]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := m.cancelBrokerOrder(ctx, order.BrokerID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.activeSL, symbol)
	m.mu.Unlock()
	return nil
}

// CancelAll cancels every pending entry and active SL order, used on the
// daily ±5R exit.
func (m *Manager) CancelAll(ctx context.Context) {
	m.mu.Lock()
	entrySymbols := make(map[models.OptionType]*models.Order, len(m.pendingEntry))
	for k, v := range m.pendingEntry {
		entrySymbols[k] = v
	}
	slSymbols := make(map[string]*models.Order, len(m.activeSL))
	for k, v := range m.activeSL {
		slSymbols[k] = v
	}
	m.mu.Unlock()

	for optType, order := range entrySymbols {
		if order.BrokerID != models.PlacingSentinel {
			_, _ = m.cancelBrokerOrder(ctx, order.BrokerID)
		}
		m.mu.Lock()
		delete(m.pendingEntry, optType)
		m.mu.Unlock()
	}
	for symbol, order := range slSymbols {
		_, _ = m.cancelBrokerOrder(ctx, order.BrokerID)
		m.mu.Lock()
		delete(m.activeSL, symbol)
		m.mu.Unlock()
	}
}

// CheckEntryFills polls the orderbook once and returns any pending entry
// orders that have completed since the last check, deduped by DedupeKey so
// a fill is never processed twice.
func (m *Manager) CheckEntryFills(ctx context.Context) ([]models.Fill, error) {
	m.mu.Lock()
	if len(m.pendingEntry) == 0 {
		m.mu.Unlock()
		return nil, nil
	}
	m.mu.Unlock()

	brokerOrders, err := m.b.Orderbook(ctx)
	if err != nil {
		return nil, fmt.Errorf("check fills: %w", err)
	}
	byID := make(map[string]models.BrokerOrder, len(brokerOrders))
	for _, o := range brokerOrders {
		byID[o.OrderID] = o
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var fills []models.Fill
	for optType, order := range m.pendingEntry {
		if order.BrokerID == models.PlacingSentinel {
			continue
		}
		bo, ok := byID[order.BrokerID]
		if !ok {
			continue
		}
		if bo.Status == models.BrokerStatusRejected {
			log.Printf("orders: entry order %s for %s rejected: %s", order.BrokerID, order.Symbol, bo.RejectedReason)
			delete(m.pendingEntry, optType)
			continue
		}
		if bo.Status == models.BrokerStatusComplete || bo.Status == models.BrokerStatusFilled {
			price := bo.AveragePrice
			if price.IsZero() {
				price = order.Limit
			}
			fill := models.Fill{
				Symbol:     order.Symbol,
				OptionType: optType,
				OrderID:    order.BrokerID,
				Price:      price,
				Quantity:   bo.FilledQuantity,
				Time:       time.Now(),
			}
			key := fill.DedupeKey()
			if m.seenFills[key] {
				delete(m.pendingEntry, optType)
				continue
			}
			m.seenFills[key] = true
			fills = append(fills, fill)
			m.filledOrders = append(m.filledOrders, fill)
			delete(m.pendingEntry, optType)
		}
	}
	return fills, nil
}

// ReconcileResult reports what local order state drifted from the broker's
// reality, typically checked once after a WebSocket reconnect.
type ReconcileResult struct {
	EntryOrdersRemoved []string
	EntryOrdersFilled  []models.Fill
	SLOrdersMissing    []string
}

// ReconcileWithBroker syncs local entry/SL order tracking with the
// broker's orderbook: filled/rejected/cancelled entries are removed, and
// any open position lacking a tracked SL order is flagged.
func (m *Manager) ReconcileWithBroker(ctx context.Context, openPositionSymbols map[string]bool) (ReconcileResult, error) {
	var result ReconcileResult

	brokerOrders, err := m.b.Orderbook(ctx)
	if err != nil {
		return result, fmt.Errorf("reconcile: %w", err)
	}
	byID := make(map[string]models.BrokerOrder, len(brokerOrders))
	for _, o := range brokerOrders {
		byID[o.OrderID] = o
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for optType, order := range m.pendingEntry {
		if order.BrokerID == models.PlacingSentinel {
			continue
		}
		bo, ok := byID[order.BrokerID]
		if !ok {
			continue
		}
		switch bo.Status {
		case models.BrokerStatusComplete, models.BrokerStatusFilled:
			price := bo.AveragePrice
			if price.IsZero() {
				price = order.Limit
			}
			fill := models.Fill{Symbol: order.Symbol, OptionType: optType, OrderID: order.BrokerID, Price: price, Quantity: bo.FilledQuantity, Time: time.Now()}
			result.EntryOrdersFilled = append(result.EntryOrdersFilled, fill)
			result.EntryOrdersRemoved = append(result.EntryOrdersRemoved, order.Symbol)
			delete(m.pendingEntry, optType)
		case models.BrokerStatusRejected, models.BrokerStatusCancelled:
			result.EntryOrdersRemoved = append(result.EntryOrdersRemoved, order.Symbol)
			delete(m.pendingEntry, optType)
		}
	}

	for symbol := range openPositionSymbols {
		if _, ok := m.activeSL[symbol]; !ok {
			result.SLOrdersMissing = append(result.SLOrdersMissing, symbol)
		}
	}

	return result, nil
}

// EmergencyMarketExit force-closes a position with a MARKET order, used
// when SL placement fails and the position would otherwise carry unbounded
// risk. It verifies the position still exists at the broker before firing,
// to avoid opening a reverse position, and retries up to
// EmergencyExitRetries times.
func (m *Manager) EmergencyMarketExit(ctx context.Context, symbol string, quantity int64, reason string) (string, error) {
	positions, err := m.b.Positionbook(ctx)
	if err == nil {
		actualQty := int64(0)
		found := false
		for _, p := range positions {
			if p.Symbol == symbol && p.Quantity != 0 {
				actualQty = abs64(p.Quantity)
				found = true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("emergency exit cancelled: no open position for %s", symbol)
		}
		quantity = actualQty
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.EmergencyExitRetries; attempt++ {
		res, err := m.b.PlaceOrder(ctx, broker.PlaceOrderRequest{
			Strategy:  m.cfg.Strategy + "_emergency",
			Symbol:    symbol,
			Exchange:  m.cfg.Exchange,
			Action:    broker.ActionBuy,
			PriceType: broker.PriceTypeMarket,
			Product:   m.cfg.Product,
			Quantity:  quantity,
		})
		if err == nil && res.Status == "success" {
			log.Printf("orders: emergency exit %s reason=%s order=%s attempt=%d", symbol, reason, res.OrderID, attempt)
			return res.OrderID, nil
		}
		lastErr = err
		if attempt < m.cfg.EmergencyExitRetries {
			sleep(ctx, m.cfg.EmergencyExitDelay)
		}
	}
	log.Printf("orders: EMERGENCY EXIT FAILED for %s after %d attempts, manual intervention required", symbol, m.cfg.EmergencyExitRetries)
	return "", lastErr
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
