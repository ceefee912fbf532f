package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure at the domain level.
// Orchestration and UI layers branch only on Kind, never on the raw
// provider message.
type Kind string

const (
	// KindEmailNotConfirmed means the credentials are valid but the
	// account has not been verified yet.
	KindEmailNotConfirmed Kind = "email_not_confirmed"

	// KindInvalidCredentials means wrong email/password.
	KindInvalidCredentials Kind = "invalid_credentials"

	// KindUserAlreadyRegistered means a signup collision.
	KindUserAlreadyRegistered Kind = "user_already_registered"

	// KindNetworkError means a transport-level failure; no response
	// was received from the provider.
	KindNetworkError Kind = "network_error"

	// KindUnknown is an unclassified provider error. The original
	// message is preserved for diagnostics.
	KindUnknown Kind = "unknown"
)

// ErrNoSession is returned by session reads and refresh attempts when
// the provider reports no current session.
var ErrNoSession = errors.New("no active session")

// Error is a classified provider failure. The adapter converts every
// raw provider error into one of these before it crosses into the
// orchestrator.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Status is the provider's HTTP status code, 0 when the failure
	// never produced a response.
	Status int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying raw error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError constructs a classified Error wrapping the raw cause.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification from an error chain.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// UserMessage returns a user-facing message for a classified error.
// It never exposes raw provider text.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindEmailNotConfirmed:
		return "Email not confirmed. Check your inbox."
	case KindInvalidCredentials:
		return "Incorrect email or password."
	case KindUserAlreadyRegistered:
		return "This email is already in use."
	case KindNetworkError:
		return "Connection error. Check your network."
	default:
		return "An unexpected error occurred. Try again later."
	}
}
