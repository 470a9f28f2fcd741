package goIdentity

import (
	"time"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/store"
)

// Termination reasons recorded on sessions.
const (
	ReasonLogout         = store.ReasonLogout
	ReasonTimeout        = store.ReasonTimeout
	ReasonDuplicateLogin = store.ReasonDuplicateLogin
	ReasonAdmin          = store.ReasonAdmin
	ReasonPasswordReset  = store.ReasonPasswordReset
)

// Session is the persisted session record returned by [Engine.ListActiveSessions].
type Session = store.Session

// Permissions is the resolved grant set of a user.
type Permissions = permission.Set

// AccessClaims are the verified claims of an access token.
type AccessClaims = jwt.AccessClaims

// LoginRequest is the input of [Engine.Login]. Empty IPAddress and UserAgent
// fall back to the values attached with WithClientIP and WithUserAgent.
type LoginRequest struct {
	Identifier string // username or email
	Password   string
	IPAddress  string
	UserAgent  string
	DeviceType string
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	UserID       string
	SessionID    string
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the access token expiry.
	ExpiresAt time.Time
	// SessionExpiresAt is the end of the current inactivity window.
	SessionExpiresAt time.Time
	// FirstLogin is true until the user changes the initial password.
	FirstLogin bool
	// EvictedSessions lists sessions ended by single-session enforcement.
	EvictedSessions []string
}

// OTPRequestResult is returned by [Engine.RequestOTP]. The shape is the same
// whether or not the identifier belongs to an account.
type OTPRequestResult struct {
	RequestID         string
	MaskedDestination string
	ExpiresAt         time.Time
	RemainingAttempts int
}

// OTPVerifyResult is returned by [Engine.VerifyOTP].
type OTPVerifyResult struct {
	ResetToken string
	ExpiresAt  time.Time
}

// RefreshResult is returned by [Engine.Refresh]. The refresh token is not
// rotated.
type RefreshResult struct {
	AccessToken string
	ExpiresAt   time.Time
	SessionID   string
}
