package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func mustKeySet(t *testing.T, cfg KeyConfig) *KeySet {
	t.Helper()
	ks, err := NewKeySet(cfg)
	if err != nil {
		t.Fatalf("new key set: %v", err)
	}
	return ks
}

func mustManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestCreateAndParseRoundTrip(t *testing.T) {
	_, priv := newEdKeys(t)
	ks := mustKeySet(t, KeyConfig{SigningMethod: MethodEd25519, KeyID: "k1", PrivateKey: priv})
	m := mustManager(t, Config{AccessTTL: 15 * time.Minute, Issuer: "tradeauth", Keys: StaticKeys{Set: ks}})

	now := time.Now()
	token, claims, err := m.CreateAccess("u-1", "trade:read", now)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if claims.ExpiresAt.Time.Unix() != now.Add(15*time.Minute).Unix() {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}

	parsed, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if parsed.UID != "u-1" || parsed.Scope != "trade:read" {
		t.Fatalf("unexpected claims: %+v", parsed)
	}
}

func TestParseAccessRejectsTamperedPayload(t *testing.T) {
	_, priv := newEdKeys(t)
	ks := mustKeySet(t, KeyConfig{SigningMethod: MethodEd25519, PrivateKey: priv})
	m := mustManager(t, Config{AccessTTL: time.Minute, Keys: StaticKeys{Set: ks}})

	token, _, err := m.CreateAccess("u-1", "read", time.Now())
	if err != nil {
		t.Fatalf("create access: %v", err)
	}

	other, _, _ := m.CreateAccess("u-2", "admin", time.Now())
	parts := strings.Split(token, ".")
	otherParts := strings.Split(other, ".")
	forged := parts[0] + "." + otherParts[1] + "." + parts[2]

	if _, err := m.ParseAccess(forged); err == nil {
		t.Fatal("expected tampered payload to be rejected")
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	ks := mustKeySet(t, KeyConfig{SigningMethod: MethodEd25519, PublicKey: pub})
	m := mustManager(t, Config{AccessTTL: time.Minute, Keys: StaticKeys{Set: ks}})

	claims := AccessClaims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseAccessIssuerAudienceAndLeeway(t *testing.T) {
	_, priv := newEdKeys(t)
	ks := mustKeySet(t, KeyConfig{SigningMethod: MethodEd25519, PrivateKey: priv})
	m := mustManager(t, Config{
		AccessTTL: time.Minute,
		Issuer:    "tradeauth",
		Audience:  "api",
		Leeway:    30 * time.Second,
		Keys:      StaticKeys{Set: ks},
	})

	access, _, err := m.CreateAccess("u", "", time.Now())
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(access); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	sign := func(c AccessClaims) string {
		s, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		return s
	}
	now := time.Now()

	if _, err := m.ParseAccess(sign(AccessClaims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer: "other", Audience: gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)), IssuedAt: gjwt.NewNumericDate(now),
	}})); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}

	if _, err := m.ParseAccess(sign(AccessClaims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer: "tradeauth", Audience: gjwt.ClaimStrings{"other-api"},
		ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)), IssuedAt: gjwt.NewNumericDate(now),
	}})); err == nil {
		t.Fatal("expected wrong audience to fail")
	}

	if _, err := m.ParseAccess(sign(AccessClaims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer: "tradeauth", Audience: gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(now.Add(-15 * time.Second)), IssuedAt: gjwt.NewNumericDate(now.Add(-time.Minute)),
	}})); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	if _, err := m.ParseAccess(sign(AccessClaims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer: "tradeauth", Audience: gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(now.Add(-2 * time.Minute)), IssuedAt: gjwt.NewNumericDate(now.Add(-3 * time.Minute)),
	}})); err == nil {
		t.Fatal("expected expired token to fail")
	}

	if _, err := m.ParseAccess(sign(AccessClaims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer: "tradeauth", Audience: gjwt.ClaimStrings{"api"}, IssuedAt: gjwt.NewNumericDate(now),
	}})); err == nil {
		t.Fatal("expected token without exp to fail")
	}
}

func TestParseAccessHonoursClock(t *testing.T) {
	_, priv := newEdKeys(t)
	ks := mustKeySet(t, KeyConfig{SigningMethod: MethodEd25519, PrivateKey: priv})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := mustManager(t, Config{AccessTTL: time.Minute, Keys: StaticKeys{Set: ks}, Now: func() time.Time { return clock }})

	token, _, err := m.CreateAccess("u", "", clock)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(token); err != nil {
		t.Fatalf("expected fresh token to parse: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := m.ParseAccess(token); !errors.Is(err, gjwt.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseAccessUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	ks := mustKeySet(t, KeyConfig{
		SigningMethod: MethodEd25519,
		KeyID:         "k1",
		PrivateKey:    priv1,
		VerifyKeys:    map[string][]byte{"k1": pub1},
	})
	m := mustManager(t, Config{AccessTTL: time.Minute, Keys: StaticKeys{Set: ks}})

	claims := AccessClaims{UID: "u", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	token, err := tok.SignedString(priv1)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	noKid, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(priv1)
	if _, err := m.ParseAccess(noKid); err == nil {
		t.Fatal("expected missing kid failure")
	}

	good, _, err := m.CreateAccess("u", "", time.Now())
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	other := mustKeySet(t, KeyConfig{SigningMethod: MethodEd25519, VerifyKeys: map[string][]byte{"k2": pub2}})
	m2 := mustManager(t, Config{AccessTTL: time.Minute, Keys: StaticKeys{Set: other}})
	if _, err := m2.ParseAccess(good); err == nil {
		t.Fatal("expected parse failure with mismatched key set")
	}
}

type swapProvider struct{ set *KeySet }

func (s *swapProvider) KeySet() (*KeySet, error) { return s.set, nil }

func TestRotationKeepsPreviousKidVerifiable(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	_, priv2 := newEdKeys(t)

	provider := &swapProvider{set: mustKeySet(t, KeyConfig{SigningMethod: MethodEd25519, KeyID: "k1", PrivateKey: priv1})}
	m := mustManager(t, Config{AccessTTL: time.Minute, Keys: provider})

	oldToken, _, err := m.CreateAccess("u", "", time.Now())
	if err != nil {
		t.Fatalf("create access: %v", err)
	}

	provider.set = mustKeySet(t, KeyConfig{
		SigningMethod: MethodEd25519,
		KeyID:         "k2",
		PrivateKey:    priv2,
		VerifyKeys:    map[string][]byte{"k1": pub1},
	})

	if _, err := m.ParseAccess(oldToken); err != nil {
		t.Fatalf("expected token from retired key to verify: %v", err)
	}
	newToken, _, err := m.CreateAccess("u", "", time.Now())
	if err != nil {
		t.Fatalf("create access after rotation: %v", err)
	}
	if _, err := m.ParseAccess(newToken); err != nil {
		t.Fatalf("expected token from new key to verify: %v", err)
	}
}

func TestVerifyOnlyKeySetCannotSign(t *testing.T) {
	pub, _ := newEdKeys(t)
	ks := mustKeySet(t, KeyConfig{SigningMethod: MethodEd25519, PublicKey: pub})
	m := mustManager(t, Config{AccessTTL: time.Minute, Keys: StaticKeys{Set: ks}})

	if _, _, err := m.CreateAccess("u", "", time.Now()); !errors.Is(err, ErrSigningKey) {
		t.Fatalf("expected ErrSigningKey, got %v", err)
	}
	if _, _, err := mustManager(t, Config{AccessTTL: time.Minute, Keys: StaticKeys{}}).CreateAccess("u", "", time.Now()); !errors.Is(err, ErrSigningKey) {
		t.Fatalf("expected ErrSigningKey for empty provider, got %v", err)
	}
}

func TestHS256KeySet(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	ks := mustKeySet(t, KeyConfig{SigningMethod: MethodHS256, PrivateKey: secret})
	m := mustManager(t, Config{AccessTTL: time.Minute, Keys: StaticKeys{Set: ks}})

	token, _, err := m.CreateAccess("u", "", time.Now())
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(token); err != nil {
		t.Fatalf("parse access: %v", err)
	}

	if _, err := NewKeySet(KeyConfig{SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hmac secret to be rejected")
	}
}

func TestNewManagerValidation(t *testing.T) {
	_, priv := newEdKeys(t)
	ks := mustKeySet(t, KeyConfig{SigningMethod: MethodEd25519, PrivateKey: priv})

	if _, err := NewManager(Config{AccessTTL: 0, Keys: StaticKeys{Set: ks}}); err == nil {
		t.Fatal("expected zero TTL to fail")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, Leeway: 5 * time.Minute, Keys: StaticKeys{Set: ks}}); err == nil {
		t.Fatal("expected large leeway to fail")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute}); err == nil {
		t.Fatal("expected missing key provider to fail")
	}
	if _, err := NewKeySet(KeyConfig{SigningMethod: "rs256"}); err == nil {
		t.Fatal("expected unsupported method to fail")
	}
}
