package password

import (
	"strings"
	"unicode"
)

// MinLength is the shortest password the strength rule accepts.
const MinLength = 8

// StrengthError lists every unmet rule in a fixed order.
type StrengthError struct {
	Violations []string
}

func (e *StrengthError) Error() string {
	return "password must " + strings.Join(e.Violations, ", ")
}

// Strength checks the composition rule: minimum length plus at least one
// uppercase letter, lowercase letter, digit and character from specials.
type Strength struct {
	Specials string
}

// Check returns nil or a *StrengthError. The message is deterministic for a
// given password and special set.
func (s Strength) Check(password string) error {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
		if s.Specials != "" && strings.ContainsRune(s.Specials, r) {
			special = true
		}
	}

	var v []string
	if len([]rune(password)) < MinLength {
		v = append(v, "be at least 8 characters long")
	}
	if !upper {
		v = append(v, "contain at least one uppercase letter")
	}
	if !lower {
		v = append(v, "contain at least one lowercase letter")
	}
	if !digit {
		v = append(v, "contain at least one digit")
	}
	if !special {
		v = append(v, "contain at least one special character ("+s.Specials+")")
	}
	if len(v) == 0 {
		return nil
	}
	return &StrengthError{Violations: v}
}
