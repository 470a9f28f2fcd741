package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Floors applied to both configuration and stored hashes.
const (
	floorMemoryKB   = 8 * 1024
	floorIterations = 1
	floorThreads    = 1
	floorSaltBytes  = 16
	floorKeyBytes   = 16

	minInputBytes     = 8
	defaultInputLimit = 1024
)

var (
	// ErrMalformedHash is returned for stored values that are not a
	// supported argon2id PHC string.
	ErrMalformedHash = errors.New("password: malformed argon2id hash")
	// ErrTooLong is returned when the input exceeds Config.MaxPasswordBytes.
	ErrTooLong = errors.New("password: input exceeds maximum length")
	// ErrTooShort is returned by Hash for inputs under 8 bytes.
	ErrTooShort = errors.New("password: input shorter than 8 bytes")
)

var b64 = base64.StdEncoding

// Config holds Argon2id cost parameters. MaxPasswordBytes defaults to 1024.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MaxPasswordBytes int
}

func (c Config) validate() error {
	switch {
	case c.Memory < floorMemoryKB:
		return fmt.Errorf("password: memory %d KiB below floor %d", c.Memory, floorMemoryKB)
	case c.Time < floorIterations:
		return errors.New("password: time cost must be positive")
	case c.Parallelism < floorThreads:
		return errors.New("password: parallelism must be positive")
	case c.SaltLength < floorSaltBytes:
		return fmt.Errorf("password: salt length %d below floor %d", c.SaltLength, floorSaltBytes)
	case c.KeyLength < floorKeyBytes:
		return fmt.Errorf("password: key length %d below floor %d", c.KeyLength, floorKeyBytes)
	}
	return nil
}

// phc is a decoded argon2id hash string.
type phc struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (h phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.time, h.threads,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

func (h phc) derive(raw string) []byte {
	return argon2.IDKey([]byte(raw), h.salt, h.time, h.memory, h.threads, uint32(len(h.key)))
}

// decodePHC parses $argon2id$v=19$m=..,t=..,p=..$salt$key. Parameters below
// the floors are rejected so a tampered row cannot force a cheap derivation.
func decodePHC(s string) (phc, error) {
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return phc{}, ErrMalformedHash
	}

	if fields[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return phc{}, ErrMalformedHash
	}

	var h phc
	var threads uint32
	n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &threads)
	if err != nil || n != 3 || fmt.Sprintf("m=%d,t=%d,p=%d", h.memory, h.time, threads) != fields[3] {
		return phc{}, ErrMalformedHash
	}
	if h.memory < floorMemoryKB || h.time < floorIterations || threads < floorThreads || threads > 255 {
		return phc{}, ErrMalformedHash
	}
	h.threads = uint8(threads)

	if h.salt, err = b64.DecodeString(fields[4]); err != nil || len(h.salt) < floorSaltBytes {
		return phc{}, ErrMalformedHash
	}
	if h.key, err = b64.DecodeString(fields[5]); err != nil || len(h.key) == 0 {
		return phc{}, ErrMalformedHash
	}
	return h, nil
}

// Argon2 hashes and verifies passwords. It is immutable after construction
// and safe for concurrent use.
type Argon2 struct {
	cfg Config
}

// NewArgon2 validates cfg against the package floors.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = defaultInputLimit
	}
	return &Argon2{cfg: cfg}, nil
}

// Hash returns a PHC-encoded argon2id hash with a fresh random salt. The
// input bytes are used as given, without Unicode normalization.
func (a *Argon2) Hash(raw string) (string, error) {
	if len(raw) < minInputBytes {
		return "", ErrTooShort
	}
	if len(raw) > a.cfg.MaxPasswordBytes {
		return "", ErrTooLong
	}
	h := phc{
		memory:  a.cfg.Memory,
		time:    a.cfg.Time,
		threads: a.cfg.Parallelism,
		salt:    make([]byte, a.cfg.SaltLength),
		key:     make([]byte, a.cfg.KeyLength),
	}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}
	h.key = h.derive(raw)
	return h.String(), nil
}

// Verify compares raw against encoded in constant time. A malformed hash
// is reported as ErrMalformedHash, not as a mismatch.
func (a *Argon2) Verify(raw, encoded string) (bool, error) {
	if len(raw) > a.cfg.MaxPasswordBytes {
		return false, ErrTooLong
	}
	h, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(h.derive(raw), h.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the current configuration, or with a different key length.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	h, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	weaker := h.memory < a.cfg.Memory || h.time < a.cfg.Time || h.threads < a.cfg.Parallelism
	return weaker || uint32(len(h.key)) != a.cfg.KeyLength, nil
}
