// Package events delivers out-of-band session notifications.
//
// A session can end or change without this client doing anything: a
// sign-out on another device, a provider-side revocation, a token
// rotation. The feed subscribes to those notifications and hands them
// to the auth orchestrator, which folds them into local state through
// the same path as provider callbacks.
//
// Two transports are supported, selected by config: a WebSocket
// connection straight to the provider's realtime endpoint, or an MQTT
// broker for deployments that already run one. Both reconnect on their
// own; a feed is optional and the client degrades to guard-driven
// revocation detection without one.
package events
