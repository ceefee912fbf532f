package gotrue

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry reads the expiry claim from an access token without
// verifying the signature. The token is only inspected for scheduling;
// the provider remains the authority on validity.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parsing access token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading expiry claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, errors.New("access token has no expiry claim")
	}
	return exp.Time, nil
}
