package session

import "time"

// Snapshot is the cached view of a session: enough to answer validate
// without a store round-trip. Tokens and client details stay in the store.
type Snapshot struct {
	SessionID      string
	UserID         string
	Active         bool
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

// NewSession is the input to Manager.Create.
type NewSession struct {
	ID           string
	UserID       string
	AccessToken  string
	RefreshToken string
	IPAddress    string
	UserAgent    string
	DeviceType   string
}
