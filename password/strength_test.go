package password

import (
	"errors"
	"testing"
)

func TestStrengthAcceptsComposedPassword(t *testing.T) {
	s := Strength{Specials: "!@#"}
	if err := s.Check("Abcdef1!"); err != nil {
		t.Fatalf("expected valid password, got %v", err)
	}
}

func TestStrengthEnumeratesViolations(t *testing.T) {
	s := Strength{Specials: "!@#"}
	err := s.Check("abc")
	var se *StrengthError
	if !errors.As(err, &se) {
		t.Fatalf("expected StrengthError, got %v", err)
	}
	want := "password must be at least 8 characters long, contain at least one uppercase letter, " +
		"contain at least one digit, contain at least one special character (!@#)"
	if err.Error() != want {
		t.Fatalf("unexpected message:\n got %q\nwant %q", err.Error(), want)
	}
}

func TestStrengthSpecialSetIsConfigurable(t *testing.T) {
	if err := (Strength{Specials: "_"}).Check("Abcdefg1!"); err == nil {
		t.Fatal("! must not count when the special set is _")
	}
	if err := (Strength{Specials: "_"}).Check("Abcdefg1_"); err != nil {
		t.Fatalf("expected _ to satisfy rule, got %v", err)
	}
}
