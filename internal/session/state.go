package session

import (
	"context"
	"sync"

	"github.com/kestrel-auth/kestrel/internal/credstore"
	"github.com/kestrel-auth/kestrel/internal/gateway"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
)

// Snapshot is one consistent observation of the authentication state.
// Subscribers always receive a snapshot produced by a single complete
// write operation, never a partial update.
type Snapshot struct {
	User    *gateway.User
	Session *gateway.Session
	Loading bool
}

// Authenticated reports whether the snapshot carries a signed-in user.
func (s Snapshot) Authenticated() bool {
	return s.User != nil
}

// Store is the single source of truth for {currentUser, session,
// isLoading}.
//
// Invariant: the current user is non-nil iff the session is non-nil
// with a non-nil user. Sessions without a user are normalised to
// absent before they reach the state.
//
// Every mutation holds the lock for the full operation, including
// persistence through the credential store, so no reader or subscriber
// can observe a session paired with the wrong user. Writes from
// different call sites may interleave; each is atomic and the last
// writer wins.
//
// isLoading is true only during the bootstrap window between process
// start and the first resolved session check; once false it stays
// false for the life of the process.
type Store struct {
	mu      sync.Mutex
	user    *gateway.User
	session *gateway.Session
	loading bool

	creds credstore.Store
	log   *logging.Logger

	subs []func(Snapshot)

	readyOnce sync.Once
	ready     chan struct{}
}

// New creates a Store in the bootstrap state: loading, signed out.
func New(creds credstore.Store, log *logging.Logger) *Store {
	return &Store{
		loading: true,
		creds:   creds,
		log:     log.With("component", "session"),
		ready:   make(chan struct{}),
	}
}

// SetSession replaces the session, derives the current user from it,
// ends the bootstrap window, and persists the new value. This is the
// only path by which the user and session change together.
//
// A session without a user is treated as absent.
func (s *Store) SetSession(sess *gateway.Session) {
	if !sess.Valid() {
		sess = nil
	}

	s.mu.Lock()
	s.session = sess
	if sess != nil {
		s.user = sess.User
	} else {
		s.user = nil
	}
	s.loading = false
	if err := s.creds.Save(sess); err != nil {
		// State remains authoritative; a failed write only costs the
		// next process start its optimistic hydration.
		s.log.Error("persisting session failed", "error", err)
	}
	snap := s.snapshotLocked()
	subs := s.subs
	s.mu.Unlock()

	s.markReady()
	notify(subs, snap)
}

// SetLoading sets the bootstrap flag independently. It does not touch
// the session, the user, or storage.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	snap := s.snapshotLocked()
	subs := s.subs
	s.mu.Unlock()

	if !loading {
		s.markReady()
	}
	notify(subs, snap)
}

// Clear signs the state out: session and user become nil, the
// bootstrap window ends, and storage is explicitly removed. Calling
// Clear twice observes the same state as calling it once.
func (s *Store) Clear() {
	s.mu.Lock()
	s.session = nil
	s.user = nil
	s.loading = false
	if err := s.creds.Clear(); err != nil {
		s.log.Error("clearing persisted session failed", "error", err)
	}
	snap := s.snapshotLocked()
	subs := s.subs
	s.mu.Unlock()

	s.markReady()
	notify(subs, snap)
}

// LoadFromStorage attempts optimistic hydration from the credential
// store. It returns whether a session was found and applied.
//
// It deliberately leaves the loading flag untouched: the bootstrap
// window closes only once the caller's network revalidation resolves.
func (s *Store) LoadFromStorage() bool {
	sess, err := s.creds.Load()
	if err != nil {
		s.log.Warn("loading persisted session failed", "error", err)
		return false
	}
	if !sess.Valid() {
		return false
	}

	s.mu.Lock()
	s.session = sess
	s.user = sess.User
	snap := s.snapshotLocked()
	subs := s.subs
	s.mu.Unlock()

	notify(subs, snap)
	return true
}

// Subscribe registers a publish-on-write listener. The handler is
// invoked after every state mutation with the snapshot that mutation
// produced. Registration lasts for the life of the process.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Snapshot returns a consistent observation of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// CurrentUser returns the signed-in user, or nil.
func (s *Store) CurrentUser() *gateway.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// IsAuthenticated reports whether a user is signed in.
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil
}

// AccessToken returns the current bearer token, or "" when signed out.
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.AccessToken
}

// IsLoading reports whether the bootstrap window is still open.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Ready returns a channel closed once the bootstrap window has ended.
// Route guards block on this before evaluating access.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady blocks until the bootstrap window ends or the context is
// cancelled.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snapshotLocked builds a Snapshot. Caller holds s.mu.
func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		User:    s.user,
		Session: s.session,
		Loading: s.loading,
	}
}

// markReady closes the ready channel exactly once.
func (s *Store) markReady() {
	s.readyOnce.Do(func() {
		close(s.ready)
	})
}

// notify delivers a snapshot to subscribers outside the state lock, so
// handlers may read the store freely. Snapshots from interleaved
// writes may arrive out of order; each is internally consistent and
// the store itself is always last-write-wins.
func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}
