// Package notify implements the Telegram-style notification subsystem: a
// fire-and-forget sender with typed helpers for trading events, day-scoped
// alert throttling for reconciliation discrepancies, and a command listener
// for operator control, built around a Client carrying its own transport,
// instance tag, and disable flag rather than top-level package functions.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/hashicorp/go-retryablehttp"

	"swingshort/internal/models"
)

const defaultBaseURL = "https://api.telegram.org"

// Client sends notifications to a single Telegram chat on behalf of one
// running instance.
type Client struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	token       string
	chatID      string
	instanceTag string
	disabled    bool

	mu              sync.Mutex
	orphanAlerted   map[string]bool
	mismatchAlerted map[string]bool
}

// New returns a Client. instanceTag is prefixed to every outbound message
// (e.g. "[LOCAL]", "[EC2]") so multiple running instances stay
// disambiguated in a shared chat. disabled short-circuits every send to a
// no-op, for dry runs and tests.
func New(token, chatID, instanceTag string, disabled bool) *Client {
	hc := retryablehttp.NewClient()
	hc.Logger = nil
	return &Client{
		httpClient:      hc,
		baseURL:         defaultBaseURL,
		token:           token,
		chatID:          chatID,
		instanceTag:     instanceTag,
		disabled:        disabled,
		orphanAlerted:   make(map[string]bool),
		mismatchAlerted: make(map[string]bool),
	}
}

// ResetForNewDay clears both throttle sets, per the once-per-day alert rule.
func (c *Client) ResetForNewDay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orphanAlerted = make(map[string]bool)
	c.mismatchAlerted = make(map[string]bool)
}

// Send fires text to the configured chat in a background goroutine. Errors
// are logged, never returned — notification delivery must never block or
// fail the caller's tick.
func (c *Client) Send(text string) {
	if c.disabled {
		return
	}
	tagged := fmt.Sprintf("%s %s", c.instanceTag, text)
	go c.post(tagged)
}

func (c *Client) post(text string) {
	if c.token == "" || c.chatID == "" {
		log.Println("notify: credentials missing, skipping notification")
		return
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	payload := map[string]string{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("notify: marshal failed: %v", err)
		return
	}
	resp, err := c.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("notify: send failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("notify: telegram returned status %s", resp.Status)
	}
}

// --- Typed helpers ----------------------------------------------------------

// TradeEntry announces a new position.
func (c *Client) TradeEntry(p models.Position) {
	c.Send(fmt.Sprintf("🔻 ENTRY %s qty=%d entry=%s sl=%s", p.Symbol, p.Quantity, p.EntryPrice, p.SLPrice))
}

// TradeExit announces a closed position.
func (c *Client) TradeExit(p models.Position) {
	c.Send(fmt.Sprintf("✅ EXIT %s reason=%s exit=%s realizedR=%s", p.Symbol, p.ExitReason, p.ExitPrice, p.RealizedR))
}

// DailyTarget announces the ±5R daily exit firing.
func (c *Client) DailyTarget(reason string, cumulativeR string) {
	c.Send(fmt.Sprintf("🎯 DAILY EXIT reason=%s cumulativeR=%s", reason, cumulativeR))
}

// DailySummary sends the end-of-day recap.
func (c *Client) DailySummary(summary models.PositionSummary) {
	c.Send(fmt.Sprintf("📊 DAILY SUMMARY closed=%d cumulativeR=%s totalPL=%s", summary.ClosedCount, summary.CumulativeR, summary.TotalPL))
}

// BestStrikeChange announces a new best CE or PE candidate.
func (c *Client) BestStrikeChange(optType models.OptionType, symbol string) {
	c.Send(fmt.Sprintf("⭐ BEST %s -> %s", optType, symbol))
}

// SwingDetected announces a newly confirmed swing.
func (c *Client) SwingDetected(sw models.Swing) {
	c.Send(fmt.Sprintf("〰️ SWING %s %s price=%s", sw.Symbol, sw.Type, sw.Price))
}

// Error announces an operational error.
func (c *Client) Error(context string, err error) {
	c.Send(fmt.Sprintf("🚨 ERROR [%s] %v", context, err))
}

// PositionUpdate sends an ad hoc position status line.
func (c *Client) PositionUpdate(text string) {
	c.Send(fmt.Sprintf("ℹ️ %s", text))
}

// OrphanAlert fires at most once per symbol per day for a broker position
// with no local tracking record.
func (c *Client) OrphanAlert(symbol string, quantity int64) {
	c.mu.Lock()
	if c.orphanAlerted[symbol] {
		c.mu.Unlock()
		return
	}
	c.orphanAlerted[symbol] = true
	c.mu.Unlock()
	c.Send(fmt.Sprintf("⚠️ ORPHAN POSITION %s qty=%d (not tracked locally)", symbol, quantity))
}

// MismatchAlert fires at most once per distinct (symbol, local, broker)
// triple per day.
func (c *Client) MismatchAlert(symbol string, localQty, brokerQty int64) {
	key := fmt.Sprintf("%s|%d|%d", symbol, localQty, brokerQty)
	c.mu.Lock()
	if c.mismatchAlerted[key] {
		c.mu.Unlock()
		return
	}
	c.mismatchAlerted[key] = true
	c.mu.Unlock()
	c.Send(fmt.Sprintf("⚠️ QTY MISMATCH %s local=%d broker=%d", symbol, localQty, brokerQty))
}
