package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrel-auth/kestrel/internal/infrastructure/config"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"type":"token_rotated","user_id":"usr-001"}`))
	if err != nil {
		t.Fatalf("decodeEvent() error = %v", err)
	}
	if ev.Type != TypeTokenRotated || ev.UserID != "usr-001" {
		t.Errorf("decodeEvent() = %+v", ev)
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	for _, payload := range []string{`{not json`, `{}`, `{"user_id":"usr-001"}`} {
		if _, err := decodeEvent([]byte(payload)); err == nil {
			t.Errorf("decodeEvent(%q) should fail", payload)
		}
	}
}

func TestNew_SelectsTransport(t *testing.T) {
	cfg := config.EventsConfig{Transport: "websocket"}
	feed, err := New(cfg, func(Event) {}, testLogger())
	if err != nil {
		t.Fatalf("New(websocket) error = %v", err)
	}
	if _, ok := feed.(*WebSocketFeed); !ok {
		t.Errorf("New(websocket) = %T, want *WebSocketFeed", feed)
	}

	cfg.Transport = "none"
	feed, err = New(cfg, func(Event) {}, testLogger())
	if err != nil {
		t.Fatalf("New(none) error = %v", err)
	}
	if feed != nil {
		t.Errorf("New(none) = %T, want nil feed", feed)
	}

	cfg.Transport = "carrier-pigeon"
	if _, err := New(cfg, func(Event) {}, testLogger()); err == nil {
		t.Error("New(carrier-pigeon) should fail")
	}
}

func TestBackoff(t *testing.T) {
	cfg := config.ReconnectConfig{InitialDelay: 1, MaxDelay: 8}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 8 * time.Second}, // capped
	}
	for _, tt := range tests {
		if got := backoff(cfg, tt.attempt); got != tt.want {
			t.Errorf("backoff(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// wsTestServer upgrades connections and pushes the given payloads.
func wsTestServer(t *testing.T, payloads ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for _, p := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketFeed_DeliversEvents(t *testing.T) {
	srv := wsTestServer(t,
		`{"type":"token_rotated","user_id":"usr-001"}`,
		`not json at all`,
		`{"type":"signed_out","user_id":"usr-001"}`,
	)
	defer srv.Close()

	var mu sync.Mutex
	var got []Event
	received := make(chan struct{}, 8)

	feed := NewWebSocketFeed(config.WSFeedConfig{
		URL:          wsURL(srv),
		PingInterval: 30,
		PongTimeout:  10,
	}, func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		received <- struct{}{}
	}, testLogger())
	defer feed.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = feed.Start(ctx)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for feed events")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivered %d events, want 2 (malformed payload dropped)", len(got))
	}
	if got[0].Type != TypeTokenRotated || got[1].Type != TypeSignedOut {
		t.Errorf("events = %+v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestWebSocketFeed_CloseStopsStart(t *testing.T) {
	srv := wsTestServer(t)
	defer srv.Close()

	feed := NewWebSocketFeed(config.WSFeedConfig{
		URL:          wsURL(srv),
		PingInterval: 30,
		PongTimeout:  10,
	}, func(Event) {}, testLogger())

	done := make(chan error, 1)
	go func() { done <- feed.Start(context.Background()) }()

	// Give the dial a moment, then close.
	time.Sleep(100 * time.Millisecond)
	if err := feed.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Close")
	}

	// Second close is a no-op.
	if err := feed.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWebSocketFeed_ReconnectBudget(t *testing.T) {
	feed := NewWebSocketFeed(config.WSFeedConfig{
		URL: "ws://127.0.0.1:1", // nothing listens here
		Reconnect: config.ReconnectConfig{
			InitialDelay: 0, // floor of 1s applies; keep attempts tiny
			MaxAttempts:  1,
		},
	}, func(Event) {}, testLogger())

	err := feed.Start(context.Background())
	if err == nil {
		t.Fatal("Start() should fail when the reconnect budget is exhausted")
	}
}
