package notify

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"swingshort/internal/models"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := New("tok", "123", "[TEST]", false)
	c.baseURL = srv.URL
	c.httpClient.HTTPClient = srv.Client()
	return c, srv
}

func TestSendSkipsWhenDisabled(t *testing.T) {
	var called bool
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()
	c.disabled = true

	c.Send("hello")
	time.Sleep(20 * time.Millisecond)

	if called {
		t.Fatalf("expected no HTTP call when client disabled")
	}
}

func TestSendSkipsWhenCredentialsMissing(t *testing.T) {
	c := New("", "", "[TEST]", false)
	// post() logs and returns without panicking; exercised directly since
	// Send always dispatches through post() on its own goroutine.
	c.post("hello")
}

func TestSendPostsToConfiguredEndpoint(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	c.Send("hello")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		p := gotPath
		mu.Unlock()
		if p != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/bottok/sendMessage" {
		t.Fatalf("expected sendMessage path, got %q", gotPath)
	}
}

func TestOrphanAlertThrottledOncePerSymbolPerDay(t *testing.T) {
	var mu sync.Mutex
	count := 0
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	c.OrphanAlert("NIFTY25000CE", 75)
	c.OrphanAlert("NIFTY25000CE", 75)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one HTTP send for a repeated orphan alert, got %d", count)
	}
}

func TestResetForNewDayClearsThrottleSets(t *testing.T) {
	c := New("tok", "123", "[TEST]", true)
	c.mismatchAlerted["NIFTY25000CE|75|50"] = true
	c.orphanAlerted["NIFTY25000CE"] = true

	c.ResetForNewDay()

	if len(c.mismatchAlerted) != 0 || len(c.orphanAlerted) != 0 {
		t.Fatalf("expected throttle sets cleared after ResetForNewDay")
	}
}

func TestTradeEntryDoesNotPanicOnZeroDecimals(t *testing.T) {
	c := New("tok", "123", "[TEST]", true)
	c.TradeEntry(models.Position{Symbol: "NIFTY25000CE", Quantity: 75})
}
