package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var hardeningNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func edPair(t testing.TB) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return pub, priv
}

func forge(t *testing.T, method gjwt.SigningMethod, key any, kid string, claims AccessClaims) string {
	t.Helper()
	tok := gjwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func accessAt(iat, exp time.Time, iss, aud string) AccessClaims {
	rc := gjwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    iss,
		IssuedAt:  gjwt.NewNumericDate(iat),
		ExpiresAt: gjwt.NewNumericDate(exp),
	}
	if aud != "" {
		rc.Audience = gjwt.ClaimStrings{aud}
	}
	return AccessClaims{Type: TypeAccess, SID: "s1", RegisteredClaims: rc}
}

func TestParseAccessValidationRules(t *testing.T) {
	pub, priv := edPair(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "goidentity",
		Audience:      "api",
		Leeway:        30 * time.Second,
		RequireIAT:    true,
		MaxFutureIAT:  time.Minute,
		Now:           func() time.Time { return hardeningNow },
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	now := hardeningNow

	cases := []struct {
		name   string
		token  string
		accept bool
	}{
		{"valid", forge(t, gjwt.SigningMethodEdDSA, priv, "", accessAt(now, now.Add(time.Minute), "goidentity", "api")), true},
		{"expired inside leeway", forge(t, gjwt.SigningMethodEdDSA, priv, "", accessAt(now.Add(-time.Minute), now.Add(-15*time.Second), "goidentity", "api")), true},
		{"expired past leeway", forge(t, gjwt.SigningMethodEdDSA, priv, "", accessAt(now.Add(-3*time.Minute), now.Add(-2*time.Minute), "goidentity", "api")), false},
		{"wrong issuer", forge(t, gjwt.SigningMethodEdDSA, priv, "", accessAt(now, now.Add(time.Minute), "other", "api")), false},
		{"wrong audience", forge(t, gjwt.SigningMethodEdDSA, priv, "", accessAt(now, now.Add(time.Minute), "goidentity", "web")), false},
		{"iat far in future", forge(t, gjwt.SigningMethodEdDSA, priv, "", accessAt(now.Add(10*time.Minute), now.Add(time.Hour), "goidentity", "api")), false},
		{"hmac with public key bytes", forge(t, gjwt.SigningMethodHS256, []byte(pub), "", accessAt(now, now.Add(time.Minute), "goidentity", "api")), false},
	}
	for _, tc := range cases {
		_, err := m.ParseAccess(tc.token)
		if (err == nil) != tc.accept {
			t.Errorf("%s: accept=%v err=%v", tc.name, tc.accept, err)
		}
	}
}

func TestKeyRotationByKid(t *testing.T) {
	oldPub, oldPriv := edPair(t)
	newPub, newPriv := edPair(t)
	keys := map[string][]byte{"2026-03": oldPub, "2026-04": newPub}

	signer, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: newPriv, KeyID: "2026-04", VerifyKeys: keys})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	fresh, _, err := signer.CreateAccess(AccessInput{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	if _, err := signer.ParseAccess(fresh); err != nil {
		t.Fatalf("current kid must verify: %v", err)
	}

	claims := accessAt(time.Now(), time.Now().Add(time.Minute), "", "")
	if _, err := signer.ParseAccess(forge(t, gjwt.SigningMethodEdDSA, oldPriv, "2026-03", claims)); err != nil {
		t.Fatalf("previous kid must still verify: %v", err)
	}
	if _, err := signer.ParseAccess(forge(t, gjwt.SigningMethodEdDSA, oldPriv, "2026-04", claims)); err == nil {
		t.Fatal("signature under the wrong kid must fail")
	}
	if _, err := signer.ParseAccess(forge(t, gjwt.SigningMethodEdDSA, newPriv, "", claims)); err == nil {
		t.Fatal("missing kid must fail when a key set is configured")
	}
	if _, err := signer.ParseAccess(forge(t, gjwt.SigningMethodEdDSA, newPriv, "2025-12", claims)); err == nil {
		t.Fatal("unknown kid must fail")
	}

	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: newPub, KeyID: "2027-01", VerifyKeys: keys}); err == nil {
		t.Fatal("KeyID outside VerifyKeys must be rejected")
	}
}

func TestVerifyOnlyManagerCannotMint(t *testing.T) {
	pub, _ := edPair(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, _, err := m.CreateAccess(AccessInput{UserID: "u1", SessionID: "s1"}); err == nil {
		t.Fatal("verify-only manager must refuse to sign")
	}
}

func FuzzParseAccess(f *testing.F) {
	pub, priv := edPair(f)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, RequireIAT: true})
	if err != nil {
		f.Fatal(err)
	}
	valid, _, err := m.CreateAccess(AccessInput{UserID: "u1", SessionID: "s1", Roles: []string{"ADMIN"}})
	if err != nil {
		f.Fatal(err)
	}
	refresh, _, _ := m.CreateRefresh("u1", "alice")

	for _, seed := range []string{valid, refresh, "", "a.b.c", "eyJhbGciOiJub25lIn0.eyJzdWIiOiJ1MSJ9."} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, input string) {
		claims, err := m.ParseAccess(input)
		if err == nil && (claims == nil || claims.Type != TypeAccess || claims.Subject == "") {
			t.Fatalf("accepted token without access identity: %+v", claims)
		}
	})
}
