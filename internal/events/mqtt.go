package events

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kestrel-auth/kestrel/internal/infrastructure/config"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
)

// MQTT connection constants.
const (
	mqttConnectTimeout    = 10 * time.Second
	mqttSubscribeTimeout  = 5 * time.Second
	mqttDisconnectQuiesce = 1000 // milliseconds
	mqttKeepAlive         = 60 * time.Second
	mqttTLSMinVersion     = tls.VersionTLS12
)

// MQTTFeed consumes session events from an MQTT broker.
//
// Deployments that already run a broker publish session events to
// <topic_root>/auth/events; the feed subscribes there and lets paho
// handle reconnection and re-subscription.
type MQTTFeed struct {
	cfg     config.MQTTFeedConfig
	handler Handler
	log     *logging.Logger

	mu        sync.Mutex
	client    pahomqtt.Client
	connected bool
	closed    bool
}

// NewMQTTFeed creates the feed. Call Start to connect.
func NewMQTTFeed(cfg config.MQTTFeedConfig, handler Handler, log *logging.Logger) *MQTTFeed {
	return &MQTTFeed{
		cfg:     cfg,
		handler: handler,
		log:     log.With("component", "events", "transport", "mqtt"),
	}
}

// topic returns the session event topic under the configured root.
func (f *MQTTFeed) topic() string {
	root := f.cfg.TopicRoot
	if root == "" {
		root = "kestrel"
	}
	return root + "/auth/events"
}

// Start connects, subscribes, and blocks until ctx is cancelled or
// Close is called. Reconnection and re-subscription are handled by the
// paho client.
func (f *MQTTFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFeedClosed
	}
	f.mu.Unlock()

	opts := f.buildOptions()
	client := pahomqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	f.mu.Lock()
	f.client = client
	f.connected = true
	f.mu.Unlock()

	if err := f.subscribe(client); err != nil {
		client.Disconnect(mqttDisconnectQuiesce)
		return err
	}

	f.log.Info("event feed connected", "topic", f.topic())

	<-ctx.Done()
	f.Close()
	return ctx.Err()
}

// buildOptions creates paho options from feed config: broker URL with
// scheme by TLS setting, credentials if provided, auto-reconnect with
// backoff, and a re-subscribe hook on every (re)connect.
func (f *MQTTFeed) buildOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if f.cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, f.cfg.Host, f.cfg.Port))
	opts.SetClientID(f.cfg.ClientID)

	if f.cfg.Username != "" {
		opts.SetUsername(f.cfg.Username)
		opts.SetPassword(f.cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(f.cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(f.cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)

	if f.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: mqttTLSMinVersion})
	}

	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		f.mu.Lock()
		already := f.connected
		f.connected = true
		f.mu.Unlock()
		if already {
			return
		}
		// Restore the subscription after a reconnect. The initial
		// connect subscribes from Start; a duplicate here is absorbed
		// by the broker.
		if err := f.subscribe(client); err != nil {
			f.log.Warn("resubscribe after reconnect failed", "error", err)
		}
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		f.mu.Lock()
		f.connected = false
		f.mu.Unlock()
		f.log.Warn("event feed disconnected", "error", err)
	})

	return opts
}

// subscribe registers the message handler with panic recovery.
func (f *MQTTFeed) subscribe(client pahomqtt.Client) error {
	qos := byte(f.cfg.QoS) // #nosec G115 -- config validation bounds QoS to 0..2
	token := client.Subscribe(f.topic(), qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				f.log.Error("event handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		ev, err := decodeEvent(msg.Payload())
		if err != nil {
			f.log.Warn("dropping malformed feed event", "error", err)
			return
		}
		f.handler(ev)
	})

	if !token.WaitTimeout(mqttSubscribeTimeout) {
		return fmt.Errorf("events: subscribe timeout after %v", mqttSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("events: subscribe failed: %w", err)
	}
	return nil
}

// IsConnected returns the last known connection state.
func (f *MQTTFeed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected && f.client != nil && f.client.IsConnected()
}

// Close disconnects from the broker. Safe to call more than once.
func (f *MQTTFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.connected = false
	if f.client != nil {
		f.client.Disconnect(mqttDisconnectQuiesce)
	}
	return nil
}
