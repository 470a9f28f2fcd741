// Package internal contains helper utilities that are private to goIdentity:
// secure random identifiers, OTP code generation and token digests.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - credentials: credential store adapter and password/lockout policy
//   - flows: orchestrators for login, refresh, logout, OTP and passwords
//   - otp: OTP challenge ledger and verification state machine
//
// # What this package must NOT do
//
//   - Export types that appear in the public goIdentity API.
//   - Be imported by any package outside the goIdentity module.
package internal
