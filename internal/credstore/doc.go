// Package credstore persists the current session blob to durable
// client storage.
//
// The store owns a single fixed storage key holding one serialised
// Session (or nothing). It is pure serialisation: no derived state, no
// validation beyond discarding blobs that cannot be trusted. Corrupt
// or user-less blobs are deleted on load and reported as absent —
// loading never fails because of bad stored data.
package credstore
