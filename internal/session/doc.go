// Package session holds the authentication state: the current user,
// the current session, and the bootstrap loading flag.
//
// The Store is the single source of truth. All mutations go through
// three atomic operations (SetSession, SetLoading, Clear) plus the
// startup-only LoadFromStorage; each updates user, session, and
// persistence together under one lock so no observer ever sees a
// session paired with the wrong user.
//
// Derived values (IsAuthenticated, AccessToken) are recomputed on
// read. Components that need push semantics register a publish-on-write
// subscriber.
package session
