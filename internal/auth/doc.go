// Package auth orchestrates the authentication lifecycle over the
// identity gateway and the session state.
//
// The Service bootstraps from local storage, validates against the
// provider, subscribes once to out-of-band auth state changes, exposes
// the user-facing actions (sign up, sign in, sign out, password
// recovery), and performs silent session refresh for the outbound
// request guard.
//
// It depends only on the gateway capability interface, never on a
// concrete provider adapter, so every behaviour here is testable with
// a fake gateway.
package auth
