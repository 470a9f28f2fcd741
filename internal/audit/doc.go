// Package audit implements async event dispatching for security-relevant
// operations: logins, lockouts, OTP challenges, password changes, session
// terminations and permission changes.
//
// # Components
//
//   - [Sink] is the consumer interface (channel, JSON lines, slog, no-op).
//   - [Dispatcher] is a buffered async relay with drop-if-full or
//     block-if-full semantics.
//   - [Event] is the record itself.
//
// The engine decides which events to emit; this package only buffers and
// delivers them.
package audit
