package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/abctrading/tradeauth/jwt"
	"github.com/abctrading/tradeauth/refresh"
)

func newIssuer(t *testing.T, now *time.Time, keys jwt.KeyProvider) *Issuer {
	t.Helper()
	if keys == nil {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		ks, err := jwt.NewKeySet(jwt.KeyConfig{SigningMethod: jwt.MethodEd25519, KeyID: "k1", PrivateKey: priv})
		if err != nil {
			t.Fatalf("NewKeySet error: %v", err)
		}
		keys = jwt.StaticKeys{Set: ks}
	}
	clock := func() time.Time { return *now }
	mgr, err := jwt.NewManager(jwt.Config{AccessTTL: 15 * time.Minute, Keys: keys, Now: clock})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	iss, err := NewIssuer(mgr, Config{RefreshTTL: 24 * time.Hour, AbsoluteLifetime: 72 * time.Hour, Now: clock})
	if err != nil {
		t.Fatalf("NewIssuer error: %v", err)
	}
	return iss
}

func TestIssueAccessToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	iss := newIssuer(t, &now, nil)

	at, err := iss.IssueAccessToken("u-1", "trade")
	if err != nil {
		t.Fatalf("IssueAccessToken error: %v", err)
	}
	if at.Token == "" || !at.ExpiresAt.Equal(now.Add(15*time.Minute)) || at.Scope != "trade" {
		t.Fatalf("unexpected access token: %+v", at)
	}

	again, _ := iss.IssueAccessToken("u-1", "trade")
	if again.Token != at.Token {
		t.Fatal("expected deterministic output for identical inputs, clock and key")
	}
}

func TestIssueAccessTokenSigningFailure(t *testing.T) {
	now := time.Now()
	iss := newIssuer(t, &now, jwt.StaticKeys{})

	if _, err := iss.IssueAccessToken("u-1", ""); !errors.Is(err, jwt.ErrSigningKey) {
		t.Fatalf("expected ErrSigningKey, got %v", err)
	}
}

func TestIssueRefreshTokenNewFamily(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	iss := newIssuer(t, &now, nil)

	rt, err := iss.IssueRefreshToken("u-1", "", time.Time{}, "")
	if err != nil {
		t.Fatalf("IssueRefreshToken error: %v", err)
	}
	rec := rt.Record
	if _, err := uuid.Parse(rec.FamilyID); err != nil {
		t.Fatalf("expected UUID family id, got %q", rec.FamilyID)
	}
	if !rec.ExpiresAt.Equal(now.Add(24*time.Hour)) || !rec.AbsoluteExpiresAt.Equal(now.Add(72*time.Hour)) {
		t.Fatalf("unexpected expiries: %+v", rec)
	}

	tok, err := refresh.Decode(rt.Token)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if tok.TokenID() != rec.TokenID || !rec.MatchesSecret(tok.Secret) {
		t.Fatal("opaque token does not match its record")
	}
}

func TestIssueRefreshTokenInheritsFamilyAndCeiling(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	iss := newIssuer(t, &now, nil)

	first, _ := iss.IssueRefreshToken("u-1", "", time.Time{}, "")
	now = now.Add(60 * time.Hour)

	next, err := iss.IssueRefreshToken("u-1", first.Record.FamilyID, first.Record.AbsoluteExpiresAt, first.Record.TokenID)
	if err != nil {
		t.Fatalf("IssueRefreshToken error: %v", err)
	}
	if next.Record.FamilyID != first.Record.FamilyID || next.Record.PredecessorID != first.Record.TokenID {
		t.Fatalf("lineage not inherited: %+v", next.Record)
	}
	if !next.Record.ExpiresAt.Equal(first.Record.AbsoluteExpiresAt) {
		t.Fatalf("expected expiry capped at absolute ceiling, got %v", next.Record.ExpiresAt)
	}

	now = now.Add(12 * time.Hour)
	if _, err := iss.IssueRefreshToken("u-1", first.Record.FamilyID, first.Record.AbsoluteExpiresAt, next.Record.TokenID); !errors.Is(err, ErrLineageExpired) {
		t.Fatalf("expected ErrLineageExpired, got %v", err)
	}
}

func TestNewIssuerValidation(t *testing.T) {
	if _, err := NewIssuer(nil, Config{RefreshTTL: time.Hour, AbsoluteLifetime: time.Hour}); err == nil {
		t.Fatal("expected nil manager to fail")
	}
	now := time.Now()
	mgr := newIssuer(t, &now, nil).jwt
	if _, err := NewIssuer(mgr, Config{RefreshTTL: 2 * time.Hour, AbsoluteLifetime: time.Hour}); err == nil {
		t.Fatal("expected absolute lifetime below TTL to fail")
	}
}
