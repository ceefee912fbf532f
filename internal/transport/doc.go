// Package transport guards outbound HTTP requests with the current
// bearer credentials.
//
// The Guard wraps an http.RoundTripper: it attaches the access token
// before dispatch and, when a request comes back 401, coordinates a
// single session refresh shared by every concurrently failing request.
// All waiters observe the same outcome — one refreshed token, or one
// failure that forces a local sign-out exactly once.
//
// The refresh coordination state is process-wide by construction:
// wire one Guard and give every client the same instance.
package transport
