package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStaticProviderDefaults(t *testing.T) {
	p := NewStatic(map[string]string{
		KeyOtpLength:              "8",
		KeySingleSessionEnforced:  "false",
		KeyMaxFailedLoginAttempts: "not-a-number",
	})
	if got := p.Int(KeyOtpLength, 6); got != 8 {
		t.Fatalf("expected 8, got %d", got)
	}
	if got := p.Int(KeyMaxFailedLoginAttempts, 5); got != 5 {
		t.Fatalf("unparsable value must fall back, got %d", got)
	}
	if got := p.Bool(KeySingleSessionEnforced, true); got {
		t.Fatal("expected false")
	}
	if got := p.String(KeyPasswordSpecialChars, "!@"); got != "!@" {
		t.Fatalf("expected default, got %q", got)
	}
}

func TestLayeredProviderPrecedence(t *testing.T) {
	t.Setenv("IDENTITY_"+KeyOtpMaxAttempts, "4")
	p := Layered{NewEnv("IDENTITY_"), NewStatic(map[string]string{
		KeyOtpMaxAttempts: "9",
		KeyOtpLength:      "7",
	})}
	if got := p.Int(KeyOtpMaxAttempts, 3); got != 4 {
		t.Fatalf("env must win, got %d", got)
	}
	if got := p.Int(KeyOtpLength, 6); got != 7 {
		t.Fatalf("static must fill gaps, got %d", got)
	}
	if got := p.Int(KeyOtpExpiryMinutes, 10); got != 10 {
		t.Fatalf("expected default, got %d", got)
	}
}

func TestLoadServiceFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.yaml")
	body := []byte("db_driver: sqlite\ndb_url: /tmp/identity.db\njwt_secret: 0123456789abcdef0123456789abcdef\ntunables:\n  OTP_LENGTH: \"8\"\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("IDENTITY_LISTEN_ADDR", ":9999")

	cfg, err := LoadService(path)
	if err != nil {
		t.Fatalf("LoadService: %v", err)
	}
	if cfg.DBDriver != "sqlite" || cfg.ListenAddr != ":9999" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if got := cfg.Provider().Int(KeyOtpLength, 6); got != 8 {
		t.Fatalf("expected tunable from file, got %d", got)
	}
}

func TestServiceValidateRejectsShortSecret(t *testing.T) {
	cfg := &Service{DBDriver: "postgres", DBURL: "postgres://x", JWTSecret: "short", AccessTTL: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short secret")
	}
}
