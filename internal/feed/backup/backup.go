// Package backup implements feed.Feed over github.com/gorilla/websocket for
// the backup ("B") data source, which sits connected-but-silent until the
// pipeline's failover policy promotes it to active.
package backup

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"swingshort/internal/feed"
	"swingshort/internal/models"
)

// Feed is the backup feed's gorilla/websocket client.
type Feed struct {
	url string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

var _ feed.Feed = (*Feed)(nil)

// New returns an unconnected backup feed for the given WebSocket URL.
func New(url string) *Feed {
	return &Feed{url: url}
}

func (f *Feed) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	f.connected.Store(true)
	return nil
}

func (f *Feed) Connected() bool { return f.connected.Load() }

func (f *Feed) Disconnect() error {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	f.connected.Store(false)
	if conn == nil {
		return nil
	}
	return conn.Close()
}

type tickFrame struct {
	Symbol string `json:"symbol"`
	Data   struct {
		LTP          string `json:"ltp"`
		Volume       int64  `json:"volume"`
		AveragePrice string `json:"average_price"`
		Timestamp    int64  `json:"timestamp"`
	} `json:"data"`
}

// SubscribeQuote sends the subscription request and reads frames until the
// socket closes or ctx is cancelled.
func (f *Feed) SubscribeQuote(ctx context.Context, symbols []string, on feed.Handler) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return context.Canceled
	}
	if err := conn.WriteJSON(map[string]any{"action": "subscribe", "symbols": symbols}); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			f.connected.Store(false)
			return err
		}
		var frame tickFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		ltp, _ := decimal.NewFromString(frame.Data.LTP)
		atp, _ := decimal.NewFromString(frame.Data.AveragePrice)
		on(models.Tick{
			Symbol:    frame.Symbol,
			LTP:       ltp,
			Volume:    frame.Data.Volume,
			ATP:       atp,
			Timestamp: time.UnixMilli(frame.Data.Timestamp),
		})
	}
}
