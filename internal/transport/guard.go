package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kestrel-auth/kestrel/internal/gateway"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
)

// refreshKey is the singleflight key for the session refresh cycle.
// One key: refresh coordination spans every outbound request in the
// process.
const refreshKey = "session-refresh"

// TokenSource supplies the current access token. The session store
// satisfies it.
type TokenSource interface {
	AccessToken() string
}

// Refresher performs the coalesced session refresh and the forced
// sign-out escalation. The auth orchestrator satisfies it.
type Refresher interface {
	RefreshSession(ctx context.Context) (*gateway.Session, error)
	HandleUnauthorized()
}

// Guard is an http.RoundTripper that attaches bearer credentials to
// every outbound request and transparently recovers from expired
// tokens.
//
// On a 401 it coordinates exactly one session refresh shared by all
// concurrently failing requests: the first failure starts the refresh,
// the rest suspend until its outcome is broadcast, and every request
// retries exactly once with the single refreshed token. A failed
// refresh escalates to HandleUnauthorized exactly once and propagates
// the refresh failure (not the original 401) to every waiter. A
// request that fails even after its retry never triggers a second
// refresh cycle.
//
// Construct one Guard per process and share it: the refresh
// coordination state is only meaningful when every request flows
// through the same instance.
type Guard struct {
	base      http.RoundTripper
	tokens    TokenSource
	refresher Refresher
	log       *logging.Logger

	group singleflight.Group
}

// NewGuard creates the outbound request guard. A nil base uses
// http.DefaultTransport.
func NewGuard(base http.RoundTripper, tokens TokenSource, refresher Refresher, log *logging.Logger) *Guard {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Guard{
		base:      base,
		tokens:    tokens,
		refresher: refresher,
		log:       log.With("component", "transport"),
	}
}

// Client returns an http.Client that routes through the guard.
func (g *Guard) Client(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: g,
		Timeout:   timeout,
	}
}

// RoundTrip implements http.RoundTripper.
func (g *Guard) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := g.send(req, g.tokens.AccessToken(), false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		// Any other failure status passes through unmodified.
		return resp, nil
	}

	// A request whose body cannot be replayed cannot be retried;
	// surface the 401 untouched rather than consuming a refresh slot
	// it cannot use.
	if req.Body != nil && req.GetBody == nil {
		g.log.Warn("unauthorized response on non-replayable request", "url", req.URL.Path)
		return resp, nil
	}

	drain(resp)

	token, err := g.refresh(req.Context())
	if err != nil {
		return nil, fmt.Errorf("request unauthorized and refresh failed: %w", err)
	}

	// Exactly one retry with the refreshed token. Whatever comes back
	// is the final answer; a second 401 here must not loop.
	return g.send(req, token, true)
}

// refresh runs the coalesced refresh cycle and returns the broadcast
// token. Concurrent callers share a single RefreshSession call and a
// single outcome; on failure the forced sign-out handler runs exactly
// once, inside the winning call.
func (g *Guard) refresh(ctx context.Context) (string, error) {
	v, err, shared := g.group.Do(refreshKey, func() (any, error) {
		sess, err := g.refresher.RefreshSession(ctx)
		if err != nil {
			g.refresher.HandleUnauthorized()
			return nil, err
		}
		return sess.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		g.log.Debug("joined in-flight session refresh")
	}
	token, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected refresh result %T", v)
	}
	return token, nil
}

// send dispatches a clone of req with the given bearer token attached.
// The original request is never mutated, per the RoundTripper contract.
// The retry pass rebuilds the body from GetBody, since the first pass
// consumed it.
func (g *Guard) send(req *http.Request, token string, replay bool) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if replay && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replaying request body: %w", err)
		}
		clone.Body = body
	}
	if token != "" {
		clone.Header.Set("Authorization", "Bearer "+token)
	}
	return g.base.RoundTrip(clone)
}

// drain discards and closes a response body so the underlying
// connection can be reused before the retry.
func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // Best effort drain
	_ = resp.Body.Close()                                       //nolint:errcheck // Best effort close
}
