// Package config holds the runtime tunables lookup consumed by the identity
// core and the service configuration of cmd/identityd.
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// Tunable keys read through Provider. Defaults live next to each consumer.
const (
	KeyMaxFailedLoginAttempts  = "SECURITY_MAX_FAILED_LOGIN_ATTEMPTS"
	KeyLockoutDurationMinutes  = "SECURITY_LOCKOUT_DURATION_MINUTES"
	KeySessionInactivityMins   = "SESSION_INACTIVITY_TIMEOUT_MINUTES"
	KeySingleSessionEnforced   = "SESSION_SINGLE_SESSION_ENFORCED"
	KeyOtpLength               = "OTP_LENGTH"
	KeyOtpExpiryMinutes        = "OTP_EXPIRY_MINUTES"
	KeyOtpMaxAttempts          = "OTP_MAX_ATTEMPTS"
	KeyPasswordSpecialChars    = "PASSWORD_SPECIAL_CHARACTERS"
	DefaultPasswordSpecialChar = "!@#$%^&*()-_=+[]{}|;:,.<>?/~"
)

// Provider is a typed key lookup with caller-supplied defaults. Missing or
// unparsable values yield the default.
type Provider interface {
	Int(key string, def int) int
	Bool(key string, def bool) bool
	String(key, def string) string
}

// Static is a Provider over an in-memory map. Safe for concurrent use;
// Set is intended for tests and admin reloads.
type Static struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStatic copies values into a new provider.
func NewStatic(values map[string]string) *Static {
	s := &Static{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Set overrides one key.
func (s *Static) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *Static) lookup(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Static) Int(key string, def int) int    { return parseInt(s.lookup, key, def) }
func (s *Static) Bool(key string, def bool) bool { return parseBool(s.lookup, key, def) }
func (s *Static) String(key, def string) string  { return parseString(s.lookup, key, def) }

// Env reads tunables from the process environment, optionally prefixed.
type Env struct {
	Prefix string
}

// NewEnv returns an environment provider. Keys are looked up as Prefix+key.
func NewEnv(prefix string) Env {
	return Env{Prefix: prefix}
}

func (e Env) lookup(key string) (string, bool) {
	return os.LookupEnv(e.Prefix + key)
}

func (e Env) Int(key string, def int) int    { return parseInt(e.lookup, key, def) }
func (e Env) Bool(key string, def bool) bool { return parseBool(e.lookup, key, def) }
func (e Env) String(key, def string) string  { return parseString(e.lookup, key, def) }

// Layered consults providers in order and returns the first value that is
// set. Providers that implement lookup semantics are asked directly; others
// are probed with a sentinel default.
type Layered []Provider

func (l Layered) Int(key string, def int) int {
	for _, p := range l {
		if v, ok := probe(p, key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return def
}

func (l Layered) Bool(key string, def bool) bool {
	for _, p := range l {
		if v, ok := probe(p, key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b
			}
		}
	}
	return def
}

func (l Layered) String(key, def string) string {
	for _, p := range l {
		if v, ok := probe(p, key); ok && v != "" {
			return v
		}
	}
	return def
}

type looker interface {
	lookup(key string) (string, bool)
}

// probe distinguishes "unset" from "set to the default" for known providers.
func probe(p Provider, key string) (string, bool) {
	if lk, ok := p.(looker); ok {
		return lk.lookup(key)
	}
	const unset = "\x00unset"
	v := p.String(key, unset)
	if v == unset {
		return "", false
	}
	return v, true
}

func parseInt(lookup func(string) (string, bool), key string, def int) int {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func parseBool(lookup func(string) (string, bool), key string, def bool) bool {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func parseString(lookup func(string) (string, bool), key, def string) string {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def
	}
	return v
}
