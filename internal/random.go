package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// RequestIDPrefix marks caller-visible OTP challenge identifiers.
const RequestIDPrefix = "OTP-"

const sessionIDBytes = 16

// NewSessionID returns 128 random bits as unpadded base64url, 22 characters.
func NewSessionID() (string, error) {
	var raw [sessionIDBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewRequestID returns an OTP challenge identifier of the form OTP-<UUID>.
func NewRequestID() string {
	return RequestIDPrefix + strings.ToUpper(uuid.NewString())
}

var ten = big.NewInt(10)

// NewOTP returns a numeric code of 4 to 10 digits. Each digit is drawn
// uniformly, so leading zeros occur.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", fmt.Errorf("otp length %d outside 4..10", digits)
	}
	code := make([]byte, digits)
	for i := range code {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("otp: %w", err)
		}
		code[i] = '0' + byte(n.Int64())
	}
	return string(code), nil
}

// TokenDigest is the cache key form of a bearer token. Raw tokens never
// become cache keys.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
