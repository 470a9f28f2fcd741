// Package session manages login sessions: persistence through the store,
// a TTL snapshot cache for fast validation, single-active-session
// enforcement, sliding inactivity windows and the periodic expiry sweep.
//
// # Binary encoding
//
// Cached snapshots use a compact versioned binary layout ([Encode],
// [Decode]). Unknown versions are rejected and fall back to a store read.
//
// # What this package must NOT do
//
//   - Interpret tokens or evaluate permissions.
//   - Treat the cache as a source of truth; every cache write follows a
//     store write.
package session
