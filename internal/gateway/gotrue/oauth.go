package gotrue

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kestrel-auth/kestrel/internal/gateway"
)

const defaultOAuthTimeout = 5 * time.Minute

// callbackPage bounces the token fragment back to the loopback server.
// The provider delivers tokens in the URL fragment, which never reaches
// a server on its own; this page re-sends it as a query string.
const callbackPage = `<!DOCTYPE html>
<html><head><title>Signing in</title></head><body>
<p>Completing sign-in&hellip;</p>
<script>
  var h = window.location.hash.replace(/^#/, "");
  window.location = "/complete?" + h;
</script>
</body></html>`

const donePage = `<!DOCTYPE html>
<html><head><title>Signed in</title></head><body>
<p>Signed in. You can close this window.</p>
</body></html>`

// SignInWithGoogle runs the browser OAuth flow: it starts a loopback
// callback server, opens the provider's authorize URL in the system
// browser, and waits for the redirect to deliver a session. The
// resulting session is broadcast through OnAuthStateChange.
func (c *Client) SignInWithGoogle(ctx context.Context) error {
	host := c.oauth.CallbackHost
	if host == "" {
		host = "127.0.0.1"
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(c.oauth.CallbackPort)))
	if err != nil {
		return gateway.NewError(gateway.KindUnknown, "starting oauth callback server", err)
	}
	defer ln.Close() //nolint:errcheck // Best effort close

	state := uuid.NewString()
	redirect := fmt.Sprintf("http://%s/callback", ln.Addr().String())
	result := make(chan error, 1)

	r := chi.NewRouter()
	r.Get("/callback", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, callbackPage) //nolint:errcheck // Best effort response
	})
	r.Get("/complete", func(w http.ResponseWriter, req *http.Request) {
		err := c.completeOAuth(req, state)
		if err != nil {
			http.Error(w, "Sign-in failed. Return to the terminal.", http.StatusBadRequest)
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, donePage) //nolint:errcheck // Best effort response
		}
		select {
		case result <- err:
		default:
		}
	})

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go srv.Serve(ln) //nolint:errcheck // Serve returns on shutdown
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck // Best effort shutdown
	}()

	authorize := fmt.Sprintf("%s/authorize?provider=google&redirect_to=%s&state=%s",
		c.baseURL, url.QueryEscape(redirect), url.QueryEscape(state))

	c.log.Info("opening browser for sign-in", "redirect", redirect)
	if err := openBrowser(authorize); err != nil {
		// The URL still works pasted by hand; tell the user where.
		c.log.Warn("could not open browser, visit the URL manually", "url", authorize, "error", err)
	}

	timeout := defaultOAuthTimeout
	if c.oauth.TimeoutSeconds > 0 {
		timeout = time.Duration(c.oauth.TimeoutSeconds) * time.Second
	}

	select {
	case err := <-result:
		return err
	case <-time.After(timeout):
		return gateway.NewError(gateway.KindUnknown, "sign-in timed out waiting for browser", nil)
	case <-ctx.Done():
		return gateway.NewError(gateway.KindUnknown, "sign-in cancelled", ctx.Err())
	}
}

// completeOAuth validates the redirected token parameters and converts
// them into an applied session.
func (c *Client) completeOAuth(req *http.Request, wantState string) error {
	q := req.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		return gateway.NewError(gateway.KindUnknown,
			fmt.Sprintf("provider denied sign-in: %s", q.Get("error_description")), nil)
	}
	if q.Get("state") != wantState {
		return gateway.NewError(gateway.KindUnknown, "state mismatch in oauth redirect", nil)
	}

	accessToken := q.Get("access_token")
	refreshToken := q.Get("refresh_token")
	if accessToken == "" || refreshToken == "" {
		return gateway.NewError(gateway.KindUnknown, "oauth redirect missing tokens", nil)
	}
	expiresIn, _ := strconv.Atoi(q.Get("expires_in")) //nolint:errcheck // Zero is acceptable; expiry comes from the token

	// The fragment carries no user payload; fetch it with the new token.
	var user gateway.User
	if err := c.do(req.Context(), http.MethodGet, "/user", nil, accessToken, &user); err != nil {
		return err
	}

	sess := &gateway.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
		TokenType:    "bearer",
		User:         &user,
	}
	if !sess.Valid() {
		return gateway.NewError(gateway.KindUnknown, "provider returned an incomplete session", nil)
	}

	c.applySession(sess)
	return nil
}

// openBrowser launches the system browser at the given URL.
func openBrowser(u string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", u).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", u).Start()
	default:
		return exec.Command("xdg-open", u).Start()
	}
}
