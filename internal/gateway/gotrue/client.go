package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kestrel-auth/kestrel/internal/credstore"
	"github.com/kestrel-auth/kestrel/internal/gateway"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/config"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultRefreshMargin  = 60 * time.Second

	// maxErrorBody bounds how much of an error response is read for
	// classification.
	maxErrorBody = 8192
)

// Client adapts a GoTrue-compatible identity provider to the gateway
// surface. It holds the current session in memory, seeds it from the
// credential store on first use, and rotates it with the provider when
// the access token nears expiry.
//
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	creds   credstore.Store
	log     *logging.Logger

	oauth         config.OAuthConfig
	refreshMargin time.Duration

	mu       sync.Mutex
	session  *gateway.Session
	seeded   bool
	handlers []gateway.ChangeHandler
}

// New creates the provider adapter. The credential store seeds the
// in-memory session on first read and may be nil.
func New(cfg config.ProviderConfig, creds credstore.Store, log *logging.Logger) *Client {
	timeout := defaultRequestTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	margin := defaultRefreshMargin
	if cfg.RefreshMarginSeconds > 0 {
		margin = time.Duration(cfg.RefreshMarginSeconds) * time.Second
	}

	return &Client{
		baseURL:       cfg.URL,
		apiKey:        cfg.APIKey,
		http:          &http.Client{Timeout: timeout},
		creds:         creds,
		log:           log.With("component", "gotrue"),
		oauth:         cfg.OAuth,
		refreshMargin: margin,
	}
}

// OnAuthStateChange registers a handler for session changes. Handlers
// are invoked for sign-ins, token rotations, and sign-outs, in
// registration order, outside the client's lock.
func (c *Client) OnAuthStateChange(handler gateway.ChangeHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, handler)
	c.mu.Unlock()
}

// GetSession returns the current session, rotating it with the
// provider when the access token is inside the refresh margin.
// Returns (nil, nil) when signed out, including when the provider
// rejects the refresh token.
func (c *Client) GetSession(ctx context.Context) (*gateway.Session, error) {
	sess := c.loadSession()
	if !sess.Valid() {
		return nil, nil
	}

	if !c.nearExpiry(sess) {
		return sess, nil
	}

	return c.refresh(ctx, sess.RefreshToken)
}

// GetCurrentUser fetches the user owning the current session.
// Returns (nil, nil) when signed out.
func (c *Client) GetCurrentUser(ctx context.Context) (*gateway.User, error) {
	sess, err := c.GetSession(ctx)
	if err != nil || !sess.Valid() {
		return nil, err
	}

	var user gateway.User
	if err := c.do(ctx, http.MethodGet, "/user", nil, sess.AccessToken, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignUp registers a new account. Providers with auto-confirm enabled
// return a live session, which is applied and broadcast; otherwise the
// account waits for email verification and no state changes.
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	var resp gateway.Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/signup", body, "", &resp); err != nil {
		return err
	}

	if resp.Valid() {
		c.applySession(&resp)
	}
	return nil
}

// SignInWithEmail performs a password sign-in. The resulting session
// is broadcast through OnAuthStateChange.
func (c *Client) SignInWithEmail(ctx context.Context, email, password string) error {
	var resp gateway.Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", body, "", &resp); err != nil {
		return err
	}
	if !resp.Valid() {
		return gateway.NewError(gateway.KindUnknown, "provider returned no session", nil)
	}

	c.applySession(&resp)
	return nil
}

// SignOut revokes the session with the provider. The in-memory session
// is dropped and a signed-out change broadcast even when the remote
// call fails; local trust ends here either way.
func (c *Client) SignOut(ctx context.Context) error {
	sess := c.loadSession()

	var err error
	if sess.Valid() {
		err = c.do(ctx, http.MethodPost, "/logout", nil, sess.AccessToken, nil)
	}

	c.applySession(nil)
	return err
}

// ResetPasswordForEmail sends a password recovery email.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, http.MethodPost, "/recover", body, "", nil)
}

// UpdatePassword sets a new password for the signed-in user.
func (c *Client) UpdatePassword(ctx context.Context, password string) error {
	sess := c.loadSession()
	if !sess.Valid() {
		return gateway.NewError(gateway.KindUnknown, "no session", gateway.ErrNoSession)
	}

	var user gateway.User
	body := map[string]string{"password": password}
	if err := c.do(ctx, http.MethodPut, "/user", body, sess.AccessToken, &user); err != nil {
		return err
	}

	// The session survives a password change; only the user payload is
	// refreshed.
	c.mu.Lock()
	if c.session != nil {
		updated := *c.session
		updated.User = &user
		c.session = &updated
	}
	c.mu.Unlock()
	return nil
}

// refresh exchanges the refresh token for a new session. A provider
// rejection (revoked or expired refresh token) reports signed out; a
// transport failure propagates as an error.
func (c *Client) refresh(ctx context.Context, refreshToken string) (*gateway.Session, error) {
	var resp gateway.Session
	body := map[string]string{"refresh_token": refreshToken}
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", body, "", &resp)
	if err != nil {
		if rejected(err) {
			c.log.Info("refresh token rejected, treating as signed out")
			c.applySession(nil)
			return nil, nil
		}
		return nil, err
	}
	if !resp.Valid() {
		c.applySession(nil)
		return nil, nil
	}

	c.log.Debug("session rotated")
	c.applySession(&resp)
	return &resp, nil
}

// loadSession returns the in-memory session, seeding it from the
// credential store exactly once. After a sign-out or rejected refresh
// the stored copy is stale at best; it is never re-read.
func (c *Client) loadSession() *gateway.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seeded || c.creds == nil {
		return c.session
	}
	c.seeded = true

	stored, err := c.creds.Load()
	if err != nil {
		c.log.Warn("loading stored session failed", "error", err)
		return nil
	}
	if stored.Valid() {
		c.session = stored
	}
	return c.session
}

// applySession replaces the current session and broadcasts the change.
// Handlers run outside the lock.
func (c *Client) applySession(sess *gateway.Session) {
	c.mu.Lock()
	c.session = sess
	c.seeded = true
	handlers := make([]gateway.ChangeHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	var user *gateway.User
	if sess != nil {
		user = sess.User
	}
	for _, h := range handlers {
		h(user, sess)
	}
}

// nearExpiry reports whether the access token is inside the refresh
// margin. A token whose expiry cannot be read is treated as expiring:
// better one redundant refresh than trusting an unreadable credential.
func (c *Client) nearExpiry(sess *gateway.Session) bool {
	expiry, err := tokenExpiry(sess.AccessToken)
	if err != nil {
		c.log.Debug("cannot read token expiry, forcing refresh", "error", err)
		return true
	}
	return time.Until(expiry) <= c.refreshMargin
}

// do performs a provider API request. The bearer defaults to the API
// key for anonymous endpoints. Failures are classified into
// *gateway.Error before returning.
func (c *Client) do(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return gateway.NewError(gateway.KindUnknown, "encoding request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gateway.NewError(gateway.KindUnknown, "building request", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gateway.NewError(gateway.KindNetworkError, "provider unreachable", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort close

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // Classification is best effort
		return mapHTTPError(resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return gateway.NewError(gateway.KindUnknown, "decoding response", err)
		}
	}
	return nil
}

// rejected reports whether a classified error is a provider-side
// rejection of the presented credentials rather than a transport or
// server failure.
func rejected(err error) bool {
	var ge *gateway.Error
	if !errors.As(err, &ge) {
		return false
	}
	switch ge.Status {
	case http.StatusBadRequest, http.StatusUnauthorized,
		http.StatusForbidden, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
