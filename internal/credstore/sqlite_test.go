package credstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kestrel-auth/kestrel/internal/gateway"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/database"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "credstore-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	_, err = db.Exec(`CREATE TABLE credentials (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("creating credentials table: %v", err)
	}
	return db.DB
}

func testSession() *gateway.Session {
	return &gateway.Session{
		AccessToken:  "access-token-abc",
		RefreshToken: "refresh-token-def",
		ExpiresIn:    3600,
		TokenType:    "bearer",
		User: &gateway.User{
			ID:        "usr-001",
			Email:     "a@b.com",
			Audience:  "authenticated",
			CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			UserMetadata: map[string]any{
				"display_name": "Ana",
			},
		},
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := NewSQLiteStore(openTestDB(t))
	want := testSession()

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got == nil {
		t.Fatal("Load() returned nil after Save()")
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestSQLiteStore_SaveNilClears(t *testing.T) {
	store := NewSQLiteStore(openTestDB(t))

	if err := store.Save(testSession()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(nil); err != nil {
		t.Fatalf("Save(nil) error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("Load() after Save(nil) = %+v, want nil", got)
	}
}

func TestSQLiteStore_LoadEmpty(t *testing.T) {
	store := NewSQLiteStore(openTestDB(t))

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("Load() on empty store = %+v, want nil", got)
	}
}

func TestSQLiteStore_LoadCorruptData(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLiteStore(db)

	_, err := db.Exec(
		`INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)`,
		"auth_session", "{this is not json", time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("inserting corrupt row: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() on corrupt data error = %v, want nil error", err)
	}
	if got != nil {
		t.Errorf("Load() on corrupt data = %+v, want nil", got)
	}

	// The corrupt row must not survive the load.
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM credentials`).Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 0 {
		t.Errorf("corrupt row still present, count = %d", count)
	}
}

func TestSQLiteStore_LoadSessionWithoutUser(t *testing.T) {
	store := NewSQLiteStore(openTestDB(t))

	orphan := testSession()
	orphan.User = nil

	// Save serialises whatever it is given; the validity gate is on load.
	if err := store.Save(orphan); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("Load() of user-less session = %+v, want nil", got)
	}
}

func TestSQLiteStore_ClearTwice(t *testing.T) {
	store := NewSQLiteStore(openTestDB(t))

	if err := store.Save(testSession()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("first Clear() error = %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	want := testSession()

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestMemoryStore_Corrupt(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Save(testSession()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	store.Corrupt()

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("Load() after Corrupt() = %+v, want nil", got)
	}
}
