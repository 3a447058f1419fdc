package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"swingshort/internal/storage"
)

func newTestListener(t *testing.T, updates []update) (*Listener, *storage.Sentinels, *httptest.Server) {
	t.Helper()
	served := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := updateResponse{Ok: true}
		if !served {
			resp.Result = updates
			served = true
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	client := New("tok", "999", "[TEST]", true)
	client.baseURL = srv.URL

	sentinels := storage.NewSentinels(t.TempDir())
	listener := NewListener(client, sentinels, 999, func() string { return "status-ok" }, nil)
	listener.httpClient = srv.Client()
	return listener, sentinels, srv
}

func TestListenerHandleKillCreatesSentinel(t *testing.T) {
	l, sentinels, _ := newTestListener(t, nil)

	u := update{}
	u.Message.Chat.ID = 999
	u.Message.Text = "/kill"
	l.handle(u)

	if !sentinels.KillRequested() {
		t.Fatalf("expected kill switch created")
	}
}

func TestListenerHandleIgnoresUnauthorizedChat(t *testing.T) {
	l, sentinels, _ := newTestListener(t, nil)

	u := update{}
	u.Message.Chat.ID = 111 // not the configured authChatID
	u.Message.Text = "/kill"
	l.handle(u)

	if sentinels.KillRequested() {
		t.Fatalf("expected unauthorized command to be ignored")
	}
}

func TestListenerPauseThenResume(t *testing.T) {
	l, sentinels, _ := newTestListener(t, nil)

	u := update{}
	u.Message.Chat.ID = 999
	u.Message.Text = "/pause"
	l.handle(u)
	if !sentinels.PauseRequested() {
		t.Fatalf("expected pause switch created")
	}

	u.Message.Text = "/resume"
	l.handle(u)
	if sentinels.PauseRequested() {
		t.Fatalf("expected pause switch cleared")
	}
}

func TestListenerFlushPendingDrainsQueuedUpdates(t *testing.T) {
	stale := update{UpdateID: 5}
	stale.Message.Chat.ID = 999
	stale.Message.Text = "/kill"

	l, sentinels, _ := newTestListener(t, []update{stale})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	offset, err := l.flushPending(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if offset != 6 {
		t.Fatalf("expected offset advanced past stale update, got %d", offset)
	}
	if sentinels.KillRequested() {
		t.Fatalf("flushPending must not execute commands, only drain the queue")
	}
}
