package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kestrel-auth/kestrel/internal/credstore"
	"github.com/kestrel-auth/kestrel/internal/gateway"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/config"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

// signedToken mints an HS256 token expiring at the given time. Only
// the expiry claim matters; the client never verifies signatures.
func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "usr-001",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func providerSession(t *testing.T, exp time.Time) *gateway.Session {
	t.Helper()
	return &gateway.Session{
		AccessToken:  signedToken(t, exp),
		RefreshToken: "refresh-001",
		ExpiresIn:    int(time.Until(exp).Seconds()),
		TokenType:    "bearer",
		User:         &gateway.User{ID: "usr-001", Email: "usr-001@example.test"},
	}
}

// fakeProvider emulates the provider's auth endpoints.
type fakeProvider struct {
	mu sync.Mutex

	passwordSession *gateway.Session
	passwordStatus  int
	passwordBody    string

	refreshSession *gateway.Session
	refreshStatus  int
	refreshCalls   atomic.Int64

	signupStatus int
	signupBody   string

	logoutCalls atomic.Int64
}

func (p *fakeProvider) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		switch r.URL.Query().Get("grant_type") {
		case "password":
			if p.passwordStatus >= 400 {
				w.WriteHeader(p.passwordStatus)
				w.Write([]byte(p.passwordBody)) //nolint:errcheck // test handler
				return
			}
			json.NewEncoder(w).Encode(p.passwordSession) //nolint:errcheck // test handler
		case "refresh_token":
			p.refreshCalls.Add(1)
			if p.refreshStatus >= 400 {
				w.WriteHeader(p.refreshStatus)
				w.Write([]byte(`{"error_description":"Invalid Refresh Token"}`)) //nolint:errcheck // test handler
				return
			}
			json.NewEncoder(w).Encode(p.refreshSession) //nolint:errcheck // test handler
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	mux.HandleFunc("/signup", func(w http.ResponseWriter, _ *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.signupStatus >= 400 {
			w.WriteHeader(p.signupStatus)
			w.Write([]byte(p.signupBody)) //nolint:errcheck // test handler
			return
		}
		w.Write([]byte(`{"id":"usr-new","email":"new@example.test"}`)) //nolint:errcheck // test handler
	})

	mux.HandleFunc("/logout", func(w http.ResponseWriter, _ *http.Request) {
		p.logoutCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/recover", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`)) //nolint:errcheck // test handler
	})

	return httptest.NewServer(mux)
}

func newClient(t *testing.T, srv *httptest.Server, creds credstore.Store) *Client {
	t.Helper()
	return New(config.ProviderConfig{
		URL:                  srv.URL,
		APIKey:               "anon-key",
		TimeoutSeconds:       5,
		RefreshMarginSeconds: 60,
	}, creds, testLogger())
}

// changeRecorder captures OnAuthStateChange invocations.
type changeRecorder struct {
	mu       sync.Mutex
	sessions []*gateway.Session
}

func (r *changeRecorder) handler() gateway.ChangeHandler {
	return func(_ *gateway.User, sess *gateway.Session) {
		r.mu.Lock()
		r.sessions = append(r.sessions, sess)
		r.mu.Unlock()
	}
}

func (r *changeRecorder) last() (*gateway.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) == 0 {
		return nil, false
	}
	return r.sessions[len(r.sessions)-1], true
}

func TestSignInWithEmail_AppliesSession(t *testing.T) {
	provider := &fakeProvider{passwordSession: providerSession(t, time.Now().Add(time.Hour))}
	srv := provider.server(t)
	defer srv.Close()

	client := newClient(t, srv, nil)
	rec := &changeRecorder{}
	client.OnAuthStateChange(rec.handler())

	if err := client.SignInWithEmail(context.Background(), "usr-001@example.test", "Secret1!"); err != nil {
		t.Fatalf("SignInWithEmail() error = %v", err)
	}

	emitted, ok := rec.last()
	if !ok || !emitted.Valid() {
		t.Fatalf("expected a valid session broadcast, got %+v", emitted)
	}
	if emitted.User.ID != "usr-001" {
		t.Errorf("broadcast user = %q, want usr-001", emitted.User.ID)
	}

	sess, err := client.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if !sess.Valid() {
		t.Fatal("GetSession() should return the applied session")
	}
	if got := provider.refreshCalls.Load(); got != 0 {
		t.Errorf("refresh calls = %d, want 0 for a fresh token", got)
	}
}

func TestSignInWithEmail_InvalidCredentials(t *testing.T) {
	provider := &fakeProvider{
		passwordStatus: http.StatusBadRequest,
		passwordBody:   `{"error_description":"Invalid login credentials"}`,
	}
	srv := provider.server(t)
	defer srv.Close()

	client := newClient(t, srv, nil)

	err := client.SignInWithEmail(context.Background(), "usr-001@example.test", "wrong")
	if err == nil {
		t.Fatal("SignInWithEmail() should fail")
	}
	if gateway.KindOf(err) != gateway.KindInvalidCredentials {
		t.Errorf("KindOf(err) = %q, want invalid_credentials", gateway.KindOf(err))
	}
}

func TestSignUp_AlreadyRegistered(t *testing.T) {
	provider := &fakeProvider{
		signupStatus: http.StatusUnprocessableEntity,
		signupBody:   `{"msg":"User already registered"}`,
	}
	srv := provider.server(t)
	defer srv.Close()

	client := newClient(t, srv, nil)

	err := client.SignUp(context.Background(), "usr-001@example.test", "Secret1!")
	if err == nil {
		t.Fatal("SignUp() should fail")
	}
	if gateway.KindOf(err) != gateway.KindUserAlreadyRegistered {
		t.Errorf("KindOf(err) = %q, want user_already_registered", gateway.KindOf(err))
	}
}

func TestSignUp_PendingConfirmationEmitsNothing(t *testing.T) {
	provider := &fakeProvider{}
	srv := provider.server(t)
	defer srv.Close()

	client := newClient(t, srv, nil)
	rec := &changeRecorder{}
	client.OnAuthStateChange(rec.handler())

	if err := client.SignUp(context.Background(), "new@example.test", "Secret1!"); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if _, ok := rec.last(); ok {
		t.Error("signup without a session must not broadcast a change")
	}
}

func TestGetSession_SignedOut(t *testing.T) {
	provider := &fakeProvider{}
	srv := provider.server(t)
	defer srv.Close()

	client := newClient(t, srv, credstore.NewMemoryStore())

	sess, err := client.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess != nil {
		t.Errorf("GetSession() = %+v, want nil when signed out", sess)
	}
}

func TestGetSession_SeedsFromStore(t *testing.T) {
	provider := &fakeProvider{}
	srv := provider.server(t)
	defer srv.Close()

	creds := credstore.NewMemoryStore()
	stored := providerSession(t, time.Now().Add(time.Hour))
	if err := creds.Save(stored); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	client := newClient(t, srv, creds)

	sess, err := client.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if !sess.Valid() || sess.AccessToken != stored.AccessToken {
		t.Error("GetSession() should return the stored session unchanged")
	}
	if got := provider.refreshCalls.Load(); got != 0 {
		t.Errorf("refresh calls = %d, want 0 for a fresh token", got)
	}
}

func TestGetSession_RefreshesNearExpiry(t *testing.T) {
	rotated := providerSession(t, time.Now().Add(time.Hour))
	rotated.RefreshToken = "refresh-002"
	provider := &fakeProvider{refreshSession: rotated}
	srv := provider.server(t)
	defer srv.Close()

	creds := credstore.NewMemoryStore()
	// Inside the 60s margin: must rotate.
	if err := creds.Save(providerSession(t, time.Now().Add(10*time.Second))); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	client := newClient(t, srv, creds)
	rec := &changeRecorder{}
	client.OnAuthStateChange(rec.handler())

	sess, err := client.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if !sess.Valid() || sess.RefreshToken != "refresh-002" {
		t.Errorf("GetSession() = %+v, want rotated session", sess)
	}
	if got := provider.refreshCalls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if emitted, ok := rec.last(); !ok || !emitted.Valid() {
		t.Error("rotation must broadcast the new session")
	}
}

func TestGetSession_RefreshRejectedReportsSignedOut(t *testing.T) {
	provider := &fakeProvider{refreshStatus: http.StatusBadRequest}
	srv := provider.server(t)
	defer srv.Close()

	creds := credstore.NewMemoryStore()
	if err := creds.Save(providerSession(t, time.Now().Add(10*time.Second))); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	client := newClient(t, srv, creds)
	rec := &changeRecorder{}
	client.OnAuthStateChange(rec.handler())

	sess, err := client.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession() error = %v, rejection is not a transport failure", err)
	}
	if sess != nil {
		t.Errorf("GetSession() = %+v, want nil after rejected refresh", sess)
	}
	if emitted, ok := rec.last(); !ok || emitted != nil {
		t.Error("rejected refresh must broadcast signed-out")
	}
}

func TestGetSession_TransportFailurePropagates(t *testing.T) {
	srv := (&fakeProvider{}).server(t)
	creds := credstore.NewMemoryStore()
	if err := creds.Save(providerSession(t, time.Now().Add(10*time.Second))); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
	client := newClient(t, srv, creds)
	srv.Close() // provider is now unreachable

	_, err := client.GetSession(context.Background())
	if err == nil {
		t.Fatal("GetSession() should propagate transport failures")
	}
	if gateway.KindOf(err) != gateway.KindNetworkError {
		t.Errorf("KindOf(err) = %q, want network_error", gateway.KindOf(err))
	}
}

func TestSignOut_AlwaysDropsLocalSession(t *testing.T) {
	provider := &fakeProvider{}
	srv := provider.server(t)
	defer srv.Close()

	creds := credstore.NewMemoryStore()
	if err := creds.Save(providerSession(t, time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	client := newClient(t, srv, creds)
	rec := &changeRecorder{}
	client.OnAuthStateChange(rec.handler())

	if err := client.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if got := provider.logoutCalls.Load(); got != 1 {
		t.Errorf("logout calls = %d, want 1", got)
	}
	if emitted, ok := rec.last(); !ok || emitted != nil {
		t.Error("sign-out must broadcast a nil session")
	}

	// Nil the credential seed path: the in-memory session is gone and
	// the store is owned by the session layer, not re-read here.
	sess, err := client.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.Valid() {
		t.Error("GetSession() after sign-out should not return a live session")
	}
}

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   gateway.Kind
	}{
		{"email not confirmed", 400, `{"msg":"Email not confirmed"}`, gateway.KindEmailNotConfirmed},
		{"invalid credentials", 400, `{"error_description":"Invalid login credentials"}`, gateway.KindInvalidCredentials},
		{"already registered", 422, `{"msg":"User already registered"}`, gateway.KindUserAlreadyRegistered},
		{"unclassified 400", 400, `{"msg":"something else"}`, gateway.KindUnknown},
		{"server error", 500, `{"msg":"Invalid login credentials"}`, gateway.KindUnknown},
		{"unparseable body", 400, `<html>bad gateway</html>`, gateway.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapHTTPError(tt.status, []byte(tt.body))
			if gateway.KindOf(err) != tt.want {
				t.Errorf("KindOf = %q, want %q", gateway.KindOf(err), tt.want)
			}
			var ge *gateway.Error
			if !errors.As(err, &ge) || ge.Status != tt.status {
				t.Errorf("Status = %d, want %d", ge.Status, tt.status)
			}
		})
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, err := tokenExpiry(signedToken(t, exp))
	if err != nil {
		t.Fatalf("tokenExpiry() error = %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("tokenExpiry() = %v, want %v", got, exp)
	}

	if _, err := tokenExpiry("not-a-jwt"); err == nil {
		t.Error("tokenExpiry() should fail on garbage")
	}
}
