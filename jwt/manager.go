package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// TokenType is carried in the typ claim so token classes cannot stand in
// for one another.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
	TypeReset   TokenType = "reset"
)

// ErrWrongTokenType is returned when a token of one class is presented as another.
var ErrWrongTokenType = errors.New("jwt: wrong token type")

// Config configures signing, validation and per-class lifetimes.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock for issuance and validation.
	Now func() time.Time
}

// Manager mints and parses access, refresh and reset tokens. It holds no
// mutable state and is safe for concurrent use.
type Manager struct {
	config Config
	method jwt.SigningMethod
	// signKey is nil for verify-only managers.
	signKey any
	// verifyKeys is keyed by kid; "" holds the key used when no kid is pinned.
	verifyKeys map[string]any
}

// AccessClaims carry identity and authorization for protected requests.
type AccessClaims struct {
	Type        TokenType `json:"typ"`
	SID         string    `json:"sid"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	jwt.RegisteredClaims
}

// RefreshClaims carry identity only. A stolen refresh token grants nothing
// by itself.
type RefreshClaims struct {
	Type     TokenType `json:"typ"`
	Username string    `json:"username"`
	jwt.RegisteredClaims
}

// ResetClaims bind a password reset to a verified OTP challenge.
type ResetClaims struct {
	Type      TokenType `json:"typ"`
	RequestID string    `json:"rid"`
	jwt.RegisteredClaims
}

// AccessInput is the identity and grant set embedded in an access token.
type AccessInput struct {
	UserID      string
	SessionID   string
	Username    string
	Email       string
	Roles       []string
	Permissions []string
}

// NewManager validates cfg.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.ResetTTL == 0 {
		cfg.ResetTTL = 10 * time.Minute
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must be >= access TTL")
	}
	if cfg.ResetTTL < 0 || cfg.ResetTTL > time.Hour {
		return nil, errors.New("invalid reset TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, verifyKeys: make(map[string]any, len(cfg.VerifyKeys)+1)}
	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKeys[""] = cfg.PrivateKey
		for kid, key := range cfg.VerifyKeys {
			m.verifyKeys[kid] = key
		}
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			if m.signKey, err = parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if m.verifyKeys[""], err = parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if m.verifyKeys[kid], err = parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	for kid := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return m, nil
}

// AccessTTL is the configured access lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL is the configured refresh lifetime.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// ResetTTL is the configured reset lifetime.
func (j *Manager) ResetTTL() time.Duration { return j.config.ResetTTL }

func (j *Manager) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := j.config.Now()
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    j.config.Issuer,
	}
	if j.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return rc
}

func (j *Manager) sign(claims jwt.Claims) (string, error) {
	if j.signKey == nil {
		return "", errors.New("jwt: manager has no signing key")
	}
	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	return token.SignedString(j.signKey)
}

// CreateAccess mints an access token and returns it with its expiry.
func (j *Manager) CreateAccess(in AccessInput) (string, time.Time, error) {
	claims := AccessClaims{
		Type:             TypeAccess,
		SID:              in.SessionID,
		Username:         in.Username,
		Email:            in.Email,
		Roles:            in.Roles,
		Permissions:      in.Permissions,
		RegisteredClaims: j.registered(in.UserID, j.config.AccessTTL),
	}
	token, err := j.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

// CreateRefresh mints a refresh token for userID.
func (j *Manager) CreateRefresh(userID, username string) (string, time.Time, error) {
	claims := RefreshClaims{
		Type:             TypeRefresh,
		Username:         username,
		RegisteredClaims: j.registered(userID, j.config.RefreshTTL),
	}
	token, err := j.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

// CreateReset mints a reset token bound to (userID, requestID).
func (j *Manager) CreateReset(userID, requestID string) (string, time.Time, error) {
	claims := ResetClaims{
		Type:             TypeReset,
		RequestID:        requestID,
		RegisteredClaims: j.registered(userID, j.config.ResetTTL),
	}
	token, err := j.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

// ParseAccess verifies tokenStr as an access token.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess || claims.Subject == "" {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// ParseRefresh verifies tokenStr as a refresh token.
func (j *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh || claims.Subject == "" {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// ParseReset verifies tokenStr as a reset token.
func (j *Manager) ParseReset(tokenStr string) (*ResetClaims, error) {
	claims := &ResetClaims{}
	if err := j.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Type != TypeReset || claims.Subject == "" || claims.RequestID == "" {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// ExpiresAt reads exp without verifying the signature. It is only fit for
// sizing revocation TTLs.
func (j *Manager) ExpiresAt(tokenStr string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (j *Manager) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	if _, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, j.keyFor); err != nil {
		return err
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil && j.config.MaxFutureIAT > 0 &&
		iat.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return errors.New("token iat too far in the future")
	}
	return nil
}

// keyFor picks the verification key by kid. When no kid set is configured
// but KeyID is pinned, the header must name it.
func (j *Manager) keyFor(t *jwt.Token) (any, error) {
	if t.Method.Alg() != j.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	lookup := ""
	switch {
	case len(j.config.VerifyKeys) > 0 && kid == "":
		return nil, errors.New("missing kid")
	case len(j.config.VerifyKeys) > 0:
		lookup = kid
	case j.config.KeyID != "" && kid != j.config.KeyID:
		return nil, errors.New("unknown kid")
	}
	key, ok := j.verifyKeys[lookup]
	if !ok {
		return nil, errors.New("unknown kid")
	}
	return key, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
