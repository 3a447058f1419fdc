package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"swingshort/internal/storage"
)

// update is a partial Telegram Update object — only the fields the command
// listener needs.
type update struct {
	UpdateID int `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type updateResponse struct {
	Ok          bool     `json:"ok"`
	Result      []update `json:"result"`
	Description string   `json:"description"`
	ErrorCode   int      `json:"error_code"`
}

// StatusFunc returns the orchestrator's current status line for /status.
type StatusFunc func() string

// MenuFunc returns the command menu text for /menu.
type MenuFunc func() string

// Listener long-polls getUpdates and maps /kill /pause /resume /status
// /menu to sentinel-file mutations and orchestrator callbacks.
type Listener struct {
	client     *Client
	httpClient *http.Client
	sentinels  *storage.Sentinels
	authChatID int64

	status StatusFunc
	menu   MenuFunc
}

// NewListener returns a Listener bound to the given chat ID ACL.
func NewListener(client *Client, sentinels *storage.Sentinels, authChatID int64, status StatusFunc, menu MenuFunc) *Listener {
	return &Listener{
		client:     client,
		httpClient: &http.Client{Timeout: 65 * time.Second},
		sentinels:  sentinels,
		authChatID: authChatID,
		status:     status,
		menu:       menu,
	}
}

// Run long-polls until ctx is cancelled. On startup it flushes any updates
// already queued at Telegram so stale commands issued before this process
// started never fire against a freshly (re)started orchestrator.
func (l *Listener) Run(ctx context.Context) {
	if l.client.token == "" || l.client.chatID == "" {
		log.Println("notify: listener disabled, credentials missing")
		return
	}

	offset, err := l.flushPending(ctx)
	if err != nil {
		log.Printf("notify: listener flush failed: %v", err)
	}

	log.Println("notify: command listener started")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := l.poll(ctx, offset, 60)
		if err != nil {
			log.Printf("notify: listener poll error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}
		for _, u := range result.Result {
			offset = u.UpdateID + 1
			l.handle(u)
		}
	}
}

// flushPending drains any updates queued before this process started,
// using a zero timeout so it returns immediately, and returns the offset
// to resume from.
func (l *Listener) flushPending(ctx context.Context) (int, error) {
	result, err := l.poll(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	offset := 0
	for _, u := range result.Result {
		offset = u.UpdateID + 1
	}
	if len(result.Result) > 0 {
		log.Printf("notify: flushed %d stale update(s) on startup", len(result.Result))
	}
	return offset, nil
}

func (l *Listener) poll(ctx context.Context, offset, timeout int) (updateResponse, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=%d", l.client.baseURL, l.client.token, offset, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return updateResponse{}, err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return updateResponse{}, err
	}
	defer resp.Body.Close()

	var result updateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return updateResponse{}, fmt.Errorf("decode updates: %w", err)
	}
	if !result.Ok {
		return updateResponse{}, fmt.Errorf("telegram error %d: %s", result.ErrorCode, result.Description)
	}
	return result, nil
}

func (l *Listener) handle(u update) {
	chatID := u.Message.Chat.ID
	if chatID == 0 {
		return
	}
	if chatID != l.authChatID {
		log.Printf("notify: unauthorized command attempt from chat %d", chatID)
		return
	}

	text := strings.TrimSpace(u.Message.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	switch text {
	case "/kill":
		if err := l.sentinels.CreateKillSwitch(); err != nil {
			l.client.Send(fmt.Sprintf("failed to set kill switch: %v", err))
			return
		}
		l.client.Send("kill switch set — shutting down")
	case "/pause":
		if err := l.sentinels.CreatePauseSwitch(); err != nil {
			l.client.Send(fmt.Sprintf("failed to set pause switch: %v", err))
			return
		}
		l.client.Send("pause switch set — order placement suspended")
	case "/resume":
		if err := l.sentinels.RemovePauseSwitch(); err != nil {
			l.client.Send(fmt.Sprintf("failed to clear pause switch: %v", err))
			return
		}
		l.client.Send("pause switch cleared — resuming")
	case "/status":
		if l.status != nil {
			l.client.Send(l.status())
		}
	case "/menu":
		if l.menu != nil {
			l.client.Send(l.menu())
		} else {
			l.client.Send("/kill /pause /resume /status /menu")
		}
	default:
		log.Printf("notify: unrecognized command %q", text)
	}
}

// parseChatID is a small helper for callers loading TELEGRAM_CHAT_ID from
// the environment; an unparseable value falls back to 0 rather than erroring.
func parseChatID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}
