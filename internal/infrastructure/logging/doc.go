// Package logging provides structured logging for Kestrel.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Security
//
// Never log access tokens, refresh tokens, passwords, or API keys.
// Use field redaction for sensitive data:
//
//	logger.Info("token rotated", "token_prefix", token[:8]+"...")
package logging
