package gotrue

import (
	"context"
	"time"
)

// autoRefreshTick is how often the scheduler re-checks the session.
// Expiry is minutes away in practice; a coarse tick is enough and
// keeps the client quiet when signed out.
const autoRefreshTick = 30 * time.Second

// StartAutoRefresh runs a background scheduler that rotates the
// session before the access token expires. Rotations flow through the
// normal GetSession path, so every rotation is broadcast to
// OnAuthStateChange handlers.
//
// The scheduler stops when ctx is cancelled. Call at most once.
func (c *Client) StartAutoRefresh(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(autoRefreshTick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.refreshIfNeeded(ctx)
			}
		}
	}()
}

// refreshIfNeeded rotates the session when the token is inside the
// refresh margin. Failures are logged and retried on the next tick;
// a rejected refresh token already broadcast the signed-out change.
func (c *Client) refreshIfNeeded(ctx context.Context) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if !sess.Valid() || !c.nearExpiry(sess) {
		return
	}

	if _, err := c.GetSession(ctx); err != nil {
		c.log.Warn("background session refresh failed", "error", err)
	}
}
