// Package feed defines the WebSocket tick-streaming capability the data
// pipeline consumes. Two independent implementations (primary, backup)
// satisfy Feed so the pipeline's failover logic never depends on which
// vendor is behind either slot.
package feed

import (
	"context"

	"swingshort/internal/models"
)

// Handler receives one decoded tick.
type Handler func(models.Tick)

// Feed is one broker WebSocket connection subscribed to a symbol list.
type Feed interface {
	// Connect dials and authenticates, returning once the session is
	// ready to subscribe (or an error on failure).
	Connect(ctx context.Context) error
	// SubscribeQuote subscribes to the given instruments; on_data_received
	// is realized as Handler, invoked once per tick on the feed's own
	// goroutine.
	SubscribeQuote(ctx context.Context, symbols []string, on Handler) error
	// Connected reports whether the underlying socket is currently live.
	Connected() bool
	Disconnect() error
}
