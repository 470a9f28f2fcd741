// Package flows contains the orchestrators behind every Engine operation.
//
// Each flow function (RunLogin, RunRefresh, RunRequestOTP, RunResetPassword
// and the rest) accepts a typed dependency struct of plain functions and
// returns results without side effects beyond those dependencies. Flows can
// be tested against fakes and the Engine stays thin.
//
// # Architecture boundaries
//
// Flows coordinate the credential policy, OTP challenge, session manager,
// token issuer, revocation list, audit emitter and metrics. They own none of
// these; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goIdentity (to avoid import cycles). Host errors arrive through Errors.
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
