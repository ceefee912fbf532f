package credstore

import (
	"encoding/json"
	"sync"

	"github.com/kestrel-auth/kestrel/internal/gateway"
)

// MemoryStore is an in-memory Store used by tests and by the watch
// command when no durable storage is configured. It round-trips
// through JSON so callers observe the same serialisation behaviour as
// the SQLite store.
type MemoryStore struct {
	mu    sync.Mutex
	value []byte
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored session, or nil when absent or corrupt.
func (s *MemoryStore) Load() (*gateway.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value == nil {
		return nil, nil
	}

	var session gateway.Session
	if err := json.Unmarshal(s.value, &session); err != nil {
		s.value = nil
		return nil, nil
	}
	if !session.Valid() {
		s.value = nil
		return nil, nil
	}
	return &session, nil
}

// Save stores the session. Save(nil) clears.
func (s *MemoryStore) Save(session *gateway.Session) error {
	if session == nil {
		return s.Clear()
	}

	value, err := json.Marshal(session)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
	return nil
}

// Clear removes the stored session.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.value = nil
	s.mu.Unlock()
	return nil
}

// Corrupt overwrites the stored blob with unparseable text. Test hook.
func (s *MemoryStore) Corrupt() {
	s.mu.Lock()
	s.value = []byte("{not-json")
	s.mu.Unlock()
}
