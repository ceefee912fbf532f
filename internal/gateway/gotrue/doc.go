// Package gotrue adapts a GoTrue-compatible hosted identity provider
// to the gateway surface.
//
// The client speaks the provider's REST API: password and OAuth
// sign-in, signup, sign-out, password recovery, and refresh-token
// rotation. It holds the current session in memory, seeded from the
// credential store, and rotates it when the access token nears expiry;
// every change is broadcast through OnAuthStateChange.
//
// Provider errors are classified into the gateway error taxonomy
// before they cross into the orchestrator. Raw provider messages stay
// inside wrapped causes and never reach the UI.
package gotrue
