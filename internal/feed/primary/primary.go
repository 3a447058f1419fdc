// Package primary implements feed.Feed over github.com/coder/websocket for
// the primary ("P") data source.
package primary

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/shopspring/decimal"

	"swingshort/internal/feed"
	"swingshort/internal/models"
)

// Feed is the primary feed's coder/websocket client, with a manual
// reconnect loop using exponential backoff capped at 1s→60s.
type Feed struct {
	url string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

var _ feed.Feed = (*Feed)(nil)

// New returns an unconnected primary feed for the given WebSocket URL.
func New(url string) *Feed {
	return &Feed{url: url}
}

func (f *Feed) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.url, nil)
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
	return conn.Close(websocket.StatusNormalClosure, "disconnect")
}

type tickFrame struct {
	Symbol string `json:"symbol"`
	Data   struct {
		LTP           string `json:"ltp"`
		Volume        int64  `json:"volume"`
		AveragePrice  string `json:"average_price"`
		Timestamp     int64  `json:"timestamp"`
	} `json:"data"`
}

// SubscribeQuote sends the subscription request and runs the read loop on
// the caller's goroutine until ctx is cancelled or the socket errs, at which
// point it marks the feed disconnected and returns the read error. It does
// not reconnect; the pipeline's failover monitor calls ManualReconnectLoop.
func (f *Feed) SubscribeQuote(ctx context.Context, symbols []string, on feed.Handler) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return context.Canceled
	}
	sub := map[string]any{"action": "subscribe", "symbols": symbols}
	if err := wsjson.Write(ctx, conn, sub); err != nil {
		return err
	}
	for {
		var frame tickFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			f.connected.Store(false)
			return err
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

// ManualReconnectLoop retries Connect with exponential backoff starting at
// 1s and capped at 60s, stopping once ctx is done or maxAttempts is reached
// (0 means unbounded).
func (f *Feed) ManualReconnectLoop(ctx context.Context, maxAttempts int) error {
	backoff := time.Second
	const cap = 60 * time.Second
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		if err := f.Connect(ctx); err == nil {
			return nil
		} else {
			log.Printf("primary feed reconnect attempt %d failed: %v", attempt, err)
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > cap {
			backoff = cap
		}
	}
}
