// Package middleware adapts the engine to net/http.
//
// [RequireSession] checks the bearer access token through
// Engine.ValidateAccessToken (revocation, signature and claims, then the
// bound session) and stores the claims in the request context.
// [RequirePermission] and [RequireRole] then gate on the claims.
//
// The handlers are plain func(http.Handler) http.Handler and mount on any
// router, chi included.
package middleware
