package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kestrel-auth/kestrel/internal/infrastructure/config"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// millisecondsPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisecondsPerSecond = 1000
)

// Sentinel errors for telemetry operations.
var (
	// ErrDisabled indicates telemetry is disabled in config.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrNotConnected indicates the reporter is not connected.
	ErrNotConnected = errors.New("telemetry: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("telemetry: connection failed")
)

// Reporter records auth lifecycle events to InfluxDB.
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched; a reporter that loses its connection drops points rather
// than stalling the auth flow.
type Reporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.TelemetryConfig
	log      *logging.Logger

	connected bool
	mu        sync.RWMutex
}

// Connect establishes a connection to the telemetry backend.
//
// It creates the client with token authentication, verifies
// connectivity with a ping, and configures the non-blocking write API
// with batching. Async write failures are logged, never surfaced to
// callers.
//
// Returns ErrDisabled when telemetry is switched off in config; the
// caller wires a nil Recorder in that case.
func Connect(cfg config.TelemetryConfig, log *logging.Logger) (*Reporter, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	r := &Reporter{
		client:    client,
		writeAPI:  writeAPI,
		cfg:       cfg,
		log:       log.With("component", "telemetry"),
		connected: true,
	}

	go r.handleWriteErrors(writeAPI.Errors())

	return r, nil
}

// handleWriteErrors drains async write errors from the WriteAPI.
func (r *Reporter) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		r.log.Warn("telemetry write failed", "error", err)
	}
}

// RecordSignIn records a sign-in attempt and its outcome.
// Method is the credential flow used ("password", "oauth_google");
// outcome is "ok" or the failure's error kind.
func (r *Reporter) RecordSignIn(method, outcome string) {
	r.writePoint("auth_signin",
		map[string]string{"method": method, "outcome": outcome},
		map[string]interface{}{"count": 1})
}

// RecordRefresh records a session refresh cycle and how long it took.
func (r *Reporter) RecordRefresh(duration time.Duration, outcome string) {
	r.writePoint("auth_refresh",
		map[string]string{"outcome": outcome},
		map[string]interface{}{"duration_ms": float64(duration.Milliseconds())})
}

// RecordForcedLogout records a forced local sign-out after an
// unrecoverable authorisation failure.
func (r *Reporter) RecordForcedLogout() {
	r.writePoint("auth_forced_logout",
		nil,
		map[string]interface{}{"count": 1})
}

func (r *Reporter) writePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !r.IsConnected() {
		return
	}
	r.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// HealthCheck verifies the telemetry connection with an active ping.
func (r *Reporter) HealthCheck(ctx context.Context) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := r.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("telemetry health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("telemetry health check failed: server not healthy")
	}

	return nil
}

// IsConnected returns the last known connection state.
func (r *Reporter) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Flush forces all pending writes out. Blocks until the buffer is
// drained; safe to call after Close (no-op).
func (r *Reporter) Flush() {
	if r.writeAPI == nil || !r.IsConnected() {
		return
	}
	r.writeAPI.Flush()
}

// Close flushes pending writes and shuts the client down.
func (r *Reporter) Close() error {
	if r.client == nil {
		return nil
	}

	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()

	r.writeAPI.Flush()
	r.client.Close()

	return nil
}
