package route

import (
	"context"
	"net/url"
	"sync"

	"github.com/kestrel-auth/kestrel/internal/infrastructure/config"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
	"github.com/kestrel-auth/kestrel/internal/session"
)

// Access is the access level a route requires.
type Access int

const (
	// AccessPublic routes are reachable regardless of auth state.
	AccessPublic Access = iota

	// AccessProtected routes require a signed-in user; anonymous
	// visitors are redirected to the sign-in entry.
	AccessProtected

	// AccessGuest routes are for anonymous visitors only; signed-in
	// users are redirected to the dashboard.
	AccessGuest
)

// Decision is the outcome of evaluating a guard.
type Decision struct {
	Allowed    bool
	RedirectTo string
}

// allow is the positive decision.
var allow = Decision{Allowed: true}

// Guard evaluates route access against the session state.
//
// Every evaluation first waits for the bootstrap window to close, so a
// navigation issued during startup resolves against validated state
// rather than the transient loading default.
type Guard struct {
	state  *session.Store
	routes config.RoutesConfig
}

// NewGuard creates a route guard over the session state.
func NewGuard(state *session.Store, routes config.RoutesConfig) *Guard {
	return &Guard{state: state, routes: routes}
}

// Resolve waits for bootstrap to finish, then decides whether the
// given access level is satisfied. Denials carry the fixed fallback:
// sign-in for protected routes, dashboard for guest-only routes.
func (g *Guard) Resolve(ctx context.Context, access Access) (Decision, error) {
	if err := g.state.WaitReady(ctx); err != nil {
		return Decision{}, err
	}

	authenticated := g.state.IsAuthenticated()

	switch access {
	case AccessProtected:
		if !authenticated {
			return Decision{RedirectTo: g.routes.SignIn}, nil
		}
	case AccessGuest:
		if authenticated {
			return Decision{RedirectTo: g.routes.Dashboard}, nil
		}
	case AccessPublic:
	}

	return allow, nil
}

// ResolveRecovery gates the update-password entry reached from a
// recovery link. The provider reports link problems in the URL
// fragment; an expired or denied link bounces back to the
// forgot-password entry with a reason, and reaching the page without a
// recovery session does the same.
func (g *Guard) ResolveRecovery(ctx context.Context, fragment string) (Decision, error) {
	params, err := url.ParseQuery(fragment)
	if err == nil {
		if params.Get("error") == "access_denied" || params.Get("error_code") == "otp_expired" {
			return Decision{RedirectTo: g.routes.ForgotPassword + "?error=token_expired"}, nil
		}
	}

	if err := g.state.WaitReady(ctx); err != nil {
		return Decision{}, err
	}

	if !g.state.IsAuthenticated() {
		return Decision{RedirectTo: g.routes.ForgotPassword + "?error=invalid_session"}, nil
	}

	return allow, nil
}

// Navigator tracks the current route. It satisfies the orchestrator's
// Navigator capability; in this client the "route" is the screen a
// command renders, not a browser location.
type Navigator struct {
	mu      sync.Mutex
	current string
	log     *logging.Logger
}

// NewNavigator creates a navigator starting at the given route.
func NewNavigator(start string, log *logging.Logger) *Navigator {
	return &Navigator{
		current: start,
		log:     log.With("component", "route"),
	}
}

// NavigateTo moves to the given route unconditionally. Guarded
// navigation goes through Router.Go; this is the escape hatch the
// orchestrator uses for sign-out and forced logout.
func (n *Navigator) NavigateTo(route string) {
	n.mu.Lock()
	n.current = route
	n.mu.Unlock()
	n.log.Debug("navigated", "route", route)
}

// Current returns the current route.
func (n *Navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Router combines a route table, the guard, and the navigator.
type Router struct {
	guard *Guard
	nav   *Navigator

	mu    sync.Mutex
	table map[string]Access
}

// NewRouter creates a router over the given guard and navigator.
func NewRouter(guard *Guard, nav *Navigator) *Router {
	return &Router{
		guard: guard,
		nav:   nav,
		table: make(map[string]Access),
	}
}

// Register declares a route and its required access level.
// Unregistered routes are treated as public.
func (r *Router) Register(route string, access Access) {
	r.mu.Lock()
	r.table[route] = access
	r.mu.Unlock()
}

// Go navigates to the route if its guard allows, following a denial's
// redirect instead. It returns the route actually reached.
func (r *Router) Go(ctx context.Context, route string) (string, error) {
	r.mu.Lock()
	access := r.table[route]
	r.mu.Unlock()

	decision, err := r.guard.Resolve(ctx, access)
	if err != nil {
		return "", err
	}

	target := route
	if !decision.Allowed {
		target = decision.RedirectTo
	}
	r.nav.NavigateTo(target)
	return target, nil
}
