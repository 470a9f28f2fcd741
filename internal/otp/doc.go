// Package otp issues and verifies one-time codes used for step-up
// verification such as password reset.
//
// Codes are numeric, generated from crypto/rand and stored only as bcrypt
// hashes. Expiry is evaluated lazily on read. Attempt increments and the
// account lock on abuse are written as independent units of work.
package otp
