// Package telemetry records auth lifecycle events to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library behind the small
// Recorder surface the auth orchestrator consumes: sign-in attempts,
// refresh cycles, and forced logouts.
//
// # Usage
//
//	rep, err := telemetry.Connect(cfg.Telemetry, log)
//	if errors.Is(err, telemetry.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer rep.Close()
//
//	rep.RecordSignIn("password", "success")
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to config (batch_size, flush_interval); async write
// failures are logged, never returned to the auth flow.
package telemetry
