package credstore

import (
	"github.com/kestrel-auth/kestrel/internal/gateway"
)

// sessionKey is the fixed storage key the serialised session lives
// under. The credential store owns this key exclusively; no other
// component touches storage directly.
const sessionKey = "auth_session"

// Store persists the current session blob. Save(nil) is equivalent to
// Clear. Load tolerates and discards corrupted persisted data,
// returning nil rather than failing.
type Store interface {
	Load() (*gateway.Session, error)
	Save(session *gateway.Session) error
	Clear() error
}
