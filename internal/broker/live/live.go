// Package live implements broker.Broker over a generic options-broker REST
// API, using a retrying HTTP client so transient 5xx/429 responses do not
// surface as order-manager errors.
package live

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"swingshort/internal/broker"
	"swingshort/internal/models"
)

// Broker is a REST client for a generic broker exposing placeorder,
// modifyorder, cancelorder, orderbook, positionbook, history and
// get_account_details.
type Broker struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

// New returns a live Broker. maxRetries/retryWait realize
// MAX_ORDER_RETRIES/ORDER_RETRY_DELAY from the configuration table.
func New(baseURL, apiKey string, maxRetries int, retryWait time.Duration) *Broker {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = retryWait
	rc.RetryWaitMax = retryWait * 4
	rc.Logger = nil
	return &Broker{baseURL: baseURL, apiKey: apiKey, httpClient: rc}
}

func (b *Broker) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (b *Broker) PlaceOrder(ctx context.Context, req broker.PlaceOrderRequest) (broker.PlaceOrderResult, error) {
	var out struct {
		Status  string `json:"status"`
		OrderID string `json:"orderid"`
		Message string `json:"message"`
	}
	payload := map[string]any{
		"strategy":      req.Strategy,
		"symbol":        req.Symbol,
		"exchange":      req.Exchange,
		"action":        req.Action,
		"pricetype":     req.PriceType,
		"product":       req.Product,
		"quantity":      req.Quantity,
		"price":         req.Price.String(),
		"trigger_price": req.TriggerPrice.String(),
	}
	if err := b.post(ctx, "/placeorder", payload, &out); err != nil {
		return broker.PlaceOrderResult{}, fmt.Errorf("placeorder: %w", err)
	}
	return broker.PlaceOrderResult{Status: out.Status, OrderID: out.OrderID, Message: out.Message}, nil
}

func (b *Broker) ModifyOrder(ctx context.Context, req broker.ModifyOrderRequest) (broker.PlaceOrderResult, error) {
	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	payload := map[string]any{
		"orderid":       req.OrderID,
		"symbol":        req.Symbol,
		"exchange":      req.Exchange,
		"pricetype":     req.PriceType,
		"quantity":      req.Quantity,
		"price":         req.Price.String(),
		"trigger_price": req.TriggerPrice.String(),
	}
	if err := b.post(ctx, "/modifyorder", payload, &out); err != nil {
		return broker.PlaceOrderResult{}, fmt.Errorf("modifyorder: %w", err)
	}
	return broker.PlaceOrderResult{Status: out.Status, OrderID: req.OrderID, Message: out.Message}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) (broker.CancelOrderResult, error) {
	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := b.post(ctx, "/cancelorder", map[string]string{"orderid": orderID}, &out); err != nil {
		return broker.CancelOrderResult{}, fmt.Errorf("cancelorder: %w", err)
	}
	return broker.CancelOrderResult{Status: out.Status, Message: out.Message}, nil
}

// Orderbook defensively handles several observed orderbook payload shapes:
// a bare list, a dict nesting "orders"/"data"/"order_book", a string error
// message, or null.
func (b *Broker) Orderbook(ctx context.Context) ([]models.BrokerOrder, error) {
	var raw json.RawMessage
	if err := b.post(ctx, "/orderbook", map[string]string{}, &raw); err != nil {
		return nil, fmt.Errorf("orderbook: %w", err)
	}
	return parseOrderbook(raw)
}

func parseOrderbook(raw json.RawMessage) ([]models.BrokerOrder, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var msg string
		_ = json.Unmarshal(raw, &msg)
		return nil, fmt.Errorf("broker orderbook error: %s", msg)
	}
	var rows []orderRow
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		return mapOrderRows(rows), nil
	}
	var wrapped struct {
		Orders    []orderRow `json:"orders"`
		Data      []orderRow `json:"data"`
		OrderBook []orderRow `json:"order_book"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	switch {
	case len(wrapped.Orders) > 0:
		rows = wrapped.Orders
	case len(wrapped.Data) > 0:
		rows = wrapped.Data
	default:
		rows = wrapped.OrderBook
	}
	return mapOrderRows(rows), nil
}

type orderRow struct {
	OrderID        string  `json:"orderid"`
	Symbol         string  `json:"symbol"`
	OrderStatus    string  `json:"order_status"`
	FilledQuantity string  `json:"filled_quantity"`
	AveragePrice   string  `json:"average_price"`
	RejectedReason string  `json:"rejected_reason"`
}

func mapOrderRows(rows []orderRow) []models.BrokerOrder {
	out := make([]models.BrokerOrder, 0, len(rows))
	for _, r := range rows {
		qty, _ := strconv.ParseInt(r.FilledQuantity, 10, 64)
		avg, err := decimal.NewFromString(r.AveragePrice)
		if err != nil {
			avg = decimal.Zero
		}
		out = append(out, models.BrokerOrder{
			OrderID:        r.OrderID,
			Symbol:         r.Symbol,
			Status:         models.BrokerOrderStatus(r.OrderStatus),
			FilledQuantity: qty,
			AveragePrice:   avg,
			RejectedReason: r.RejectedReason,
		})
	}
	return out
}

func (b *Broker) Positionbook(ctx context.Context) ([]models.BrokerPosition, error) {
	var rows []struct {
		Symbol        string `json:"symbol"`
		Quantity      string `json:"quantity"`
		AveragePrice  string `json:"averageprice"`
		Product       string `json:"product"`
	}
	if err := b.post(ctx, "/positionbook", map[string]string{}, &rows); err != nil {
		return nil, fmt.Errorf("positionbook: %w", err)
	}
	out := make([]models.BrokerPosition, 0, len(rows))
	for _, r := range rows {
		qty, _ := strconv.ParseInt(r.Quantity, 10, 64)
		avg, err := decimal.NewFromString(r.AveragePrice)
		if err != nil {
			avg = decimal.Zero
		}
		out = append(out, models.BrokerPosition{
			Symbol:       r.Symbol,
			Quantity:     qty,
			AveragePrice: avg,
			Product:      r.Product,
		})
	}
	return out, nil
}

func (b *Broker) History(ctx context.Context, symbol, exchange, interval string, start, end time.Time) ([]broker.HistoryRow, error) {
	var rows []struct {
		Time   int64   `json:"time"`
		Open   string  `json:"open"`
		High   string  `json:"high"`
		Low    string  `json:"low"`
		Close  string  `json:"close"`
		Volume int64   `json:"volume"`
	}
	payload := map[string]any{
		"symbol":     symbol,
		"exchange":   exchange,
		"interval":   interval,
		"start_date": start.Format("2006-01-02 15:04:05"),
		"end_date":   end.Format("2006-01-02 15:04:05"),
	}
	if err := b.post(ctx, "/history", payload, &rows); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	out := make([]broker.HistoryRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, broker.HistoryRow{
			Time:   time.Unix(r.Time, 0),
			Open:   parseDecimal(r.Open),
			High:   parseDecimal(r.High),
			Low:    parseDecimal(r.Low),
			Close:  parseDecimal(r.Close),
			Volume: r.Volume,
		})
	}
	return out, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (b *Broker) AccountDetails(ctx context.Context) (models.Account, error) {
	var out struct {
		AvailableCash string `json:"availablecash"`
	}
	if err := b.post(ctx, "/funds", map[string]string{}, &out); err != nil {
		return models.Account{}, fmt.Errorf("account details: %w", err)
	}
	cash, err := decimal.NewFromString(out.AvailableCash)
	if err != nil {
		cash = decimal.Zero
	}
	return models.Account{AvailableCash: cash}, nil
}
