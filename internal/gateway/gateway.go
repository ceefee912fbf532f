package gateway

import "context"

// ChangeHandler receives out-of-band authentication state changes:
// sign-ins, token rotations, and sign-outs, whether triggered locally,
// by the provider adapter's auto-refresh, or by another device through
// an event feed. A nil session means signed out.
type ChangeHandler func(user *User, session *Session)

// Gateway is the capability surface the auth orchestrator depends on.
// Implementations adapt a hosted identity provider; tests substitute a
// fake. All methods classify failures into *Error before returning.
type Gateway interface {
	// GetCurrentUser fetches the user owning the current session, or
	// nil when signed out.
	GetCurrentUser(ctx context.Context) (*User, error)

	// GetSession returns the current session, refreshing it with the
	// provider when the local copy has expired. Returns (nil, nil)
	// when signed out.
	GetSession(ctx context.Context) (*Session, error)

	// OnAuthStateChange registers the handler invoked for every
	// authentication state change. Implementations support a single
	// process-lifetime registration per consumer.
	OnAuthStateChange(handler ChangeHandler)

	// SignUp registers a new account. The resulting state change (if
	// the provider signs the user in immediately) arrives through
	// OnAuthStateChange, not the return value.
	SignUp(ctx context.Context, email, password string) error

	// SignInWithEmail performs a password sign-in. State arrives via
	// OnAuthStateChange.
	SignInWithEmail(ctx context.Context, email, password string) error

	// SignInWithGoogle starts the browser OAuth flow. State arrives
	// via OnAuthStateChange once the redirect completes.
	SignInWithGoogle(ctx context.Context) error

	// SignOut terminates the remote session.
	SignOut(ctx context.Context) error

	// ResetPasswordForEmail sends a password recovery email.
	ResetPasswordForEmail(ctx context.Context, email string) error

	// UpdatePassword sets a new password for the signed-in user.
	UpdatePassword(ctx context.Context, password string) error
}
