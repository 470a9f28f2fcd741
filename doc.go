// Package goIdentity is an identity core: credential login with lockout,
// OTP step-up for password reset, session lifecycle with inactivity expiry,
// token issuance with refresh and revocation, and a cached role/permission
// model whose mutations invalidate the cache before they return.
//
// An [Engine] is assembled once through [Builder] and is safe for concurrent
// use:
//
//	engine, err := goIdentity.New().
//		WithConfig(cfg).
//		WithStore(sqlStore).
//		WithRedis(redisClient).
//		Build()
//	if err != nil {
//		return err
//	}
//	engine.Start()
//	defer engine.Close()
//
// # Architecture boundaries
//
// The store (see package store) is the source of truth. Redis, or the
// in-process memory cache, only fronts it: the session snapshot cache, the
// permission cache and the token revocation list each live in their own
// namespace. Runtime tunables such as lockout thresholds are read from a
// config.Provider on every use so they can change without a restart.
//
// Expiry is evaluated lazily. Account locks and OTP challenges heal on the
// next read; only sessions are reclaimed by a scheduled sweep, since an idle
// session may never be read again.
//
// # Errors
//
// Every failure matches one of the sentinel errors in errors.go through
// errors.Is. Typed errors ([LockedError], [CredentialsError], [OTPError],
// [ValidationError]) carry the figures a caller needs to render a response.
package goIdentity
