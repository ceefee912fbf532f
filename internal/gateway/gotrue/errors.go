package gotrue

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kestrel-auth/kestrel/internal/gateway"
)

// apiError is the union of error payload shapes GoTrue deployments
// produce across versions.
type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorCode        string `json:"error_code"`
}

// message returns the first populated message field.
func (e apiError) message() string {
	for _, m := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if m != "" {
			return m
		}
	}
	return ""
}

// mapHTTPError classifies a provider error response into the domain
// taxonomy. Classification keys on status code plus message substring;
// raw provider text is preserved only inside the wrapped cause.
func mapHTTPError(status int, body []byte) error {
	var payload apiError
	_ = json.Unmarshal(body, &payload) //nolint:errcheck // Unparseable bodies classify as unknown
	message := payload.message()

	cause := fmt.Errorf("provider returned %d: %s", status, message)

	kind := gateway.KindUnknown
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		switch {
		case strings.Contains(message, "Email not confirmed"):
			kind = gateway.KindEmailNotConfirmed
		case strings.Contains(message, "Invalid login credentials"):
			kind = gateway.KindInvalidCredentials
		case strings.Contains(message, "already registered"):
			kind = gateway.KindUserAlreadyRegistered
		}
	}

	return &gateway.Error{
		Kind:    kind,
		Message: message,
		Err:     cause,
		Status:  status,
	}
}
