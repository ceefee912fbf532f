package credstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kestrel-auth/kestrel/internal/gateway"
)

// SQLiteStore implements Store on the credentials table.
//
// One row, fixed key. Load discards corrupt rows (deleting them so the
// corruption does not survive a restart) and reports absence as nil.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed credential store.
// The credentials table must exist (see migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load retrieves the persisted session, or nil when absent.
//
// A row that fails to parse, or parses into a session without a user,
// is deleted and reported as absent — a broken blob must never block
// startup.
func (s *SQLiteStore) Load() (*gateway.Session, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM credentials WHERE key = ?`, sessionKey,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var session gateway.Session
	if err := json.Unmarshal([]byte(value), &session); err != nil {
		_ = s.Clear() //nolint:errcheck // Corrupt row removal is best effort
		return nil, nil
	}

	if !session.Valid() {
		_ = s.Clear() //nolint:errcheck // Invalid blob removal is best effort
		return nil, nil
	}

	return &session, nil
}

// Save persists the session. Save(nil) clears storage.
func (s *SQLiteStore) Save(session *gateway.Session) error {
	if session == nil {
		return s.Clear()
	}

	value, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("serialising session: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		sessionKey, string(value), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Clear removes the persisted session. Clearing an empty store is a no-op.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE key = ?`, sessionKey); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
