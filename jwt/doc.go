// Package jwt mints and verifies the three token classes of the identity core:
// access tokens carrying roles and permissions, refresh tokens carrying
// identity only, and short-lived reset tokens bound to an OTP challenge.
package jwt
