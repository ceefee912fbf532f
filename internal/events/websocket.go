package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kestrel-auth/kestrel/internal/infrastructure/config"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
)

// wsDialTimeout bounds each connection attempt.
const wsDialTimeout = 10 * time.Second

// WebSocketFeed consumes session events over a WebSocket connection.
//
// The feed owns its reconnect loop: a dropped connection is retried
// with exponential backoff up to the configured attempt budget. Liveness
// is maintained with protocol-level pings; a missed pong closes the
// connection and triggers a reconnect.
type WebSocketFeed struct {
	cfg     config.WSFeedConfig
	handler Handler
	log     *logging.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketFeed creates the feed. Call Start to connect.
func NewWebSocketFeed(cfg config.WSFeedConfig, handler Handler, log *logging.Logger) *WebSocketFeed {
	return &WebSocketFeed{
		cfg:     cfg,
		handler: handler,
		log:     log.With("component", "events", "transport", "websocket"),
	}
}

// Start connects and pumps events until ctx is cancelled, Close is
// called, or the reconnect budget runs out.
func (f *WebSocketFeed) Start(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.isClosed() {
			return ErrFeedClosed
		}

		err := f.runOnce(ctx)
		if err == nil || ctx.Err() != nil || f.isClosed() {
			return ctx.Err()
		}

		attempt++
		if limit := f.cfg.Reconnect.MaxAttempts; limit > 0 && attempt >= limit {
			return fmt.Errorf("%w: giving up after %d attempts: %w", ErrConnectionFailed, attempt, err)
		}

		delay := backoff(f.cfg.Reconnect, attempt)
		f.log.Warn("event feed disconnected, reconnecting", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce dials and reads until the connection drops. A nil return
// means the feed was shut down deliberately.
func (f *WebSocketFeed) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	conn, resp, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: dial %s: status %d: %w", ErrConnectionFailed, f.cfg.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, f.cfg.URL, err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return nil
	}
	f.conn = conn
	f.mu.Unlock()

	f.log.Info("event feed connected", "url", f.cfg.URL)

	pingInterval := time.Duration(f.cfg.PingInterval) * time.Second
	pongWait := time.Duration(f.cfg.PongTimeout) * time.Second
	if f.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(f.cfg.MaxMessageSize))
	}
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go f.pingLoop(ctx, conn, pingInterval, pongWait, done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if f.isClosed() || ctx.Err() != nil {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("event feed read: %w", err)
			}
			return fmt.Errorf("event feed closed: %w", err)
		}
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		f.dispatch(payload)
	}
}

// pingLoop keeps the connection alive until the read loop exits.
func (f *WebSocketFeed) pingLoop(ctx context.Context, conn *websocket.Conn, interval, wait time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			conn.SetWriteDeadline(time.Now().Add(wait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// dispatch decodes and delivers a payload. Malformed payloads are
// logged and dropped; they must not kill the feed.
func (f *WebSocketFeed) dispatch(payload []byte) {
	ev, err := decodeEvent(payload)
	if err != nil {
		f.log.Warn("dropping malformed feed event", "error", err)
		return
	}
	f.handler(ev)
}

func (f *WebSocketFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close shuts the feed down. Safe to call more than once.
func (f *WebSocketFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
