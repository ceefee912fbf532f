package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kestrel-auth/kestrel/internal/infrastructure/config"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
)

// Event types carried by the out-of-band session feed.
const (
	// TypeSignedOut reports that the session was terminated elsewhere:
	// another device signed out or the provider revoked it.
	TypeSignedOut = "signed_out"

	// TypeTokenRotated reports that the provider rotated the session
	// tokens; the local copy is stale and should be refreshed.
	TypeTokenRotated = "token_rotated"
)

// Sentinel errors for feed operations.
var (
	// ErrFeedClosed is returned by Start after Close has been called.
	ErrFeedClosed = errors.New("events: feed closed")

	// ErrConnectionFailed is returned when the initial connection fails.
	ErrConnectionFailed = errors.New("events: connection failed")
)

// Event is a session lifecycle notification delivered out-of-band.
type Event struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Handler receives decoded feed events. Handlers run on the feed's
// read goroutine and must not block for extended periods.
type Handler func(Event)

// Feed is a live subscription to session events.
type Feed interface {
	// Start connects and delivers events until the context is
	// cancelled or Close is called. Reconnection is handled
	// internally; Start returns only on shutdown or when the
	// reconnect budget is exhausted.
	Start(ctx context.Context) error

	// Close tears the feed down.
	Close() error
}

// New builds the feed selected by config. Transport "none" returns a
// nil Feed: the client runs without out-of-band events and relies on
// the request guard to notice revocation.
func New(cfg config.EventsConfig, handler Handler, log *logging.Logger) (Feed, error) {
	switch cfg.Transport {
	case "websocket":
		return NewWebSocketFeed(cfg.WebSocket, handler, log), nil
	case "mqtt":
		return NewMQTTFeed(cfg.MQTT, handler, log), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("events: unknown transport %q", cfg.Transport)
	}
}

// decodeEvent parses a raw feed payload. Unknown fields are ignored so
// provider-side schema additions do not break older clients.
func decodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("events: decoding payload: %w", err)
	}
	if ev.Type == "" {
		return Event{}, errors.New("events: payload missing type")
	}
	return ev, nil
}

// backoff computes the reconnect delay for the given attempt using the
// shared reconnect settings. Attempt counts from 1.
func backoff(cfg config.ReconnectConfig, attempt int) time.Duration {
	initial := cfg.InitialDelay
	if initial <= 0 {
		initial = 1
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	return time.Duration(delay) * time.Second
}
