package goIdentity

import (
	"fmt"
	"time"
)

// Config is the construction-time configuration of an Engine. Runtime
// organization tunables (attempt limits, lockout, session and OTP windows)
// are read through config.Provider instead and may change without a rebuild.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT          JWTConfig
	Session      SessionConfig
	Permission   PermissionConfig
	Revocation   RevocationConfig
	OTP          OTPConfig
	Notification NotificationConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Password     PasswordConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the session cache and the expiry sweep. The
// inactivity window and single-session enforcement are runtime tunables.
type SessionConfig struct {
	CacheTTL      time.Duration
	SweepSchedule string // cron spec, "@every 5m" by default
	SweepBatch    int
}

/*
====================================
PERMISSION CONFIG
====================================
*/

// PermissionConfig controls the derived permission cache.
type PermissionConfig struct {
	CacheTTL time.Duration
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig bounds revocation entry lifetimes.
type RevocationConfig struct {
	// FallbackTTL applies when a token's expiry cannot be read.
	FallbackTTL time.Duration
	// MaxTTL caps any entry. It must cover the longest token class.
	MaxTTL time.Duration
}

/*
====================================
OTP CONFIG
====================================
*/

// PurposeResetPassword is the OTP purpose that leads to ResetPassword.
const PurposeResetPassword = "RESET_PASSWORD"

// OTPConfig controls challenge hashing and accepted purposes. Length, expiry
// and attempt budget are runtime tunables.
type OTPConfig struct {
	BcryptCost int
	// Purposes lists accepted purposes. Empty accepts any non-empty purpose.
	Purposes []string
}

/*
====================================
NOTIFICATION CONFIG
====================================
*/

// NotificationConfig controls asynchronous OTP delivery.
type NotificationConfig struct {
	// Templates maps an OTP purpose to a notifier template id. Unmapped
	// purposes use the purpose itself.
	Templates   map[string]string
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// DefaultConfig returns a Config with every field set except the signing keys.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			ResetTTL:      10 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			CacheTTL:      5 * time.Minute,
			SweepSchedule: "@every 5m",
			SweepBatch:    500,
		},
		Permission: PermissionConfig{
			CacheTTL: time.Hour,
		},
		Revocation: RevocationConfig{
			FallbackTTL: 24 * time.Hour,
			MaxTTL:      8 * 24 * time.Hour,
		},
		OTP: OTPConfig{
			BcryptCost: 10,
			Purposes:   []string{PurposeResetPassword},
		},
		Notification: NotificationConfig{
			Templates:   map[string]string{PurposeResetPassword: "otp-reset-password"},
			QueueSize:   64,
			Workers:     2,
			SendTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.OTP.Purposes != nil {
		out.OTP.Purposes = append([]string(nil), cfg.OTP.Purposes...)
	}
	if cfg.Notification.Templates != nil {
		out.Notification.Templates = make(map[string]string, len(cfg.Notification.Templates))
		for k, v := range cfg.Notification.Templates {
			out.Notification.Templates[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

// Validate rejects inconsistent or unsafe settings. Every error matches
// ErrInvalidConfig.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return invalid("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return invalid("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.ResetTTL <= 0 || c.JWT.ResetTTL > time.Hour {
		return invalid("JWT ResetTTL must be in (0, 1h]")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return invalid("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.SigningMethod == "ed25519" && (len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0) {
		return invalid("ed25519 requires PrivateKey and PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return invalid("hs256 requires a PrivateKey of at least 32 bytes")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return invalid("JWT Leeway must be in [0, 2m]")
	}

	// Session
	if c.Session.CacheTTL <= 0 {
		return invalid("Session CacheTTL must be > 0")
	}
	if c.Session.SweepSchedule == "" {
		return invalid("Session SweepSchedule must be set")
	}
	if c.Session.SweepBatch <= 0 {
		return invalid("Session SweepBatch must be > 0")
	}

	// Permission
	if c.Permission.CacheTTL <= 0 {
		return invalid("Permission CacheTTL must be > 0")
	}

	// Revocation
	if c.Revocation.FallbackTTL <= 0 {
		return invalid("Revocation FallbackTTL must be > 0")
	}
	if c.Revocation.MaxTTL > 0 && c.Revocation.MaxTTL < c.JWT.RefreshTTL {
		return invalid("Revocation MaxTTL must cover JWT RefreshTTL")
	}

	// OTP
	if c.OTP.BcryptCost < 4 || c.OTP.BcryptCost > 31 {
		return invalid("OTP BcryptCost must be in [4, 31]")
	}
	for _, p := range c.OTP.Purposes {
		if p == "" {
			return invalid("OTP Purposes must not contain empty values")
		}
	}

	// Notification
	if c.Notification.QueueSize <= 0 {
		return invalid("Notification QueueSize must be > 0")
	}
	if c.Notification.Workers <= 0 {
		return invalid("Notification Workers must be > 0")
	}
	if c.Notification.SendTimeout <= 0 {
		return invalid("Notification SendTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return invalid("Audit BufferSize must be > 0 when enabled")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return invalid("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return invalid("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return invalid("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return invalid("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return invalid("Password KeyLength must be >= 16")
	}

	return nil
}
