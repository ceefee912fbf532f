package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrel-auth/kestrel/internal/gateway"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/config"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
	"github.com/kestrel-auth/kestrel/internal/session"
)

// Navigator is the navigation capability the orchestrator drives on
// sign-out and forced logout. The route package provides the concrete
// implementation; tests substitute a recorder.
type Navigator interface {
	NavigateTo(route string)
}

// Recorder receives auth lifecycle telemetry. The telemetry package
// satisfies it; a nil Recorder disables recording.
type Recorder interface {
	RecordSignIn(method, outcome string)
	RecordRefresh(duration time.Duration, outcome string)
	RecordForcedLogout()
}

// Service owns the authentication lifecycle: it bootstraps state from
// storage, validates it against the identity gateway, holds the single
// process-lifetime subscription to out-of-band state changes, exposes
// the user-facing auth actions, and performs session refresh.
//
// State machine: Uninitialized -> Bootstrapping (Init running) ->
// Ready(Authenticated) | Ready(Anonymous). Ready is reached exactly
// once, when Init's gateway check resolves.
type Service struct {
	gw      gateway.Gateway
	state   *session.Store
	nav     Navigator
	routes  config.RoutesConfig
	metrics Recorder
	log     *logging.Logger
}

// New creates the orchestrator and registers its subscription with the
// gateway. Exactly one subscription exists per Service instance; it
// stays registered for the life of the process so multi-device logout
// and provider-driven token rotation propagate into local state.
func New(gw gateway.Gateway, state *session.Store, nav Navigator, routes config.RoutesConfig, metrics Recorder, log *logging.Logger) *Service {
	s := &Service{
		gw:      gw,
		state:   state,
		nav:     nav,
		routes:  routes,
		metrics: metrics,
		log:     log.With("component", "auth"),
	}

	// Out-of-band changes flow straight into state. This callback is
	// independent of the refresh path and can interleave with it; both
	// sides write whole sessions atomically, so the store is
	// last-write-wins (see DESIGN.md, open questions).
	s.gw.OnAuthStateChange(func(_ *gateway.User, sess *gateway.Session) {
		s.state.SetSession(sess)
	})

	return s
}

// Init bootstraps the authentication state. It hydrates optimistically
// from storage for instant UI, then validates against the gateway:
// a live session confirms or corrects the optimistic state, an empty
// or failed check clears it (fail closed). The bootstrap window is
// closed on every path, and this is the only place that closes it.
func (s *Service) Init(ctx context.Context) {
	defer s.state.SetLoading(false)

	if s.state.LoadFromStorage() {
		s.log.Debug("hydrated session from storage")
	}

	sess, err := s.gw.GetSession(ctx)
	if err != nil {
		s.log.Warn("session validation failed, treating as signed out", "error", err)
		s.state.Clear()
		return
	}

	if sess.Valid() {
		s.state.SetSession(sess)
		return
	}

	// Storage said signed in, the provider says otherwise.
	if s.state.IsAuthenticated() {
		s.state.Clear()
	}
}

// SignUp registers a new account. Any resulting state change arrives
// asynchronously through the gateway subscription, not from this call.
func (s *Service) SignUp(ctx context.Context, email, password string) error {
	if err := s.gw.SignUp(ctx, email, password); err != nil {
		return fmt.Errorf("signing up: %w", err)
	}
	return nil
}

// SignInWithEmail performs a password sign-in. Callers must not assume
// state is updated when this returns; it arrives via the subscription.
func (s *Service) SignInWithEmail(ctx context.Context, email, password string) error {
	err := s.gw.SignInWithEmail(ctx, email, password)
	s.recordSignIn("password", err)
	if err != nil {
		return fmt.Errorf("signing in: %w", err)
	}
	return nil
}

// SignInWithGoogle starts the browser OAuth flow. State arrives via
// the subscription once the external redirect completes.
func (s *Service) SignInWithGoogle(ctx context.Context) error {
	err := s.gw.SignInWithGoogle(ctx)
	s.recordSignIn("google", err)
	if err != nil {
		return fmt.Errorf("signing in with google: %w", err)
	}
	return nil
}

// ResetPassword sends a password recovery email.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	if err := s.gw.ResetPasswordForEmail(ctx, email); err != nil {
		return fmt.Errorf("requesting password reset: %w", err)
	}
	return nil
}

// UpdatePassword sets a new password for the signed-in user.
func (s *Service) UpdatePassword(ctx context.Context, password string) error {
	if err := s.gw.UpdatePassword(ctx, password); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return nil
}

// SignOut terminates the session. Local credentials are cleared and
// navigation goes to the sign-in entry even when the gateway call
// fails: the security requirement is to stop trusting local
// credentials, not to guarantee the remote session died.
func (s *Service) SignOut(ctx context.Context) error {
	err := s.gw.SignOut(ctx)
	if err != nil {
		s.log.Warn("gateway sign-out failed, clearing local state anyway", "error", err)
	}

	s.state.Clear()
	s.nav.NavigateTo(s.routes.SignIn)
	return err
}

// RefreshSession exchanges the current credentials for fresh ones. On
// success the new session is applied and returned; on any failure —
// including the provider reporting no session — local state is cleared
// and the failure propagates. Fail closed: ambiguity about session
// validity means signed out.
//
// It never toggles the bootstrap loading flag, so a background silent
// refresh causes no app-wide loading flicker.
func (s *Service) RefreshSession(ctx context.Context) (*gateway.Session, error) {
	start := time.Now()

	sess, err := s.gw.GetSession(ctx)
	if err != nil {
		s.recordRefresh(start, "error")
		s.state.Clear()
		return nil, fmt.Errorf("refreshing session: %w", err)
	}
	if !sess.Valid() {
		s.recordRefresh(start, "expired")
		s.state.Clear()
		return nil, fmt.Errorf("refreshing session: %w", gateway.ErrNoSession)
	}

	s.recordRefresh(start, "ok")
	s.state.SetSession(sess)
	return sess, nil
}

// HandleUnauthorized forces a local logout and navigation to sign-in.
// The outbound request guard invokes it after exhausting its single
// refresh attempt.
func (s *Service) HandleUnauthorized() {
	s.log.Info("authorization exhausted, forcing sign-out")
	if s.metrics != nil {
		s.metrics.RecordForcedLogout()
	}
	s.state.Clear()
	s.nav.NavigateTo(s.routes.SignIn)
}

func (s *Service) recordSignIn(method string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(gateway.KindOf(err))
	}
	s.metrics.RecordSignIn(method, outcome)
}

func (s *Service) recordRefresh(start time.Time, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordRefresh(time.Since(start), outcome)
}
