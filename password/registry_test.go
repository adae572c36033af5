package password

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestRegistryResolvesLegacyBcrypt(t *testing.T) {
	argon, _ := NewArgon2(fastConfig())
	legacy, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	reg := NewRegistry(argon, legacy)

	hash, err := legacy.Hash("legacy-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	h, err := reg.Lookup("", hash)
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if h.Algorithm() != AlgorithmBcrypt {
		t.Fatalf("expected bcrypt hasher, got %s", h.Algorithm())
	}

	ok, err := h.Verify("legacy-password", hash)
	if err != nil || !ok {
		t.Fatalf("expected bcrypt verify success, got ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("legacy-passwort", hash)
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch, got ok=%v err=%v", ok, err)
	}

	up, err := h.NeedsUpgrade(hash)
	if err != nil || !up {
		t.Fatalf("expected bcrypt hashes to need upgrade, got up=%v err=%v", up, err)
	}
}

func TestRegistryExplicitVersionWins(t *testing.T) {
	argon, _ := NewArgon2(fastConfig())
	reg := NewRegistry(argon)

	h, err := reg.Lookup(AlgorithmArgon2id, "")
	if err != nil || h != reg.Current() {
		t.Fatalf("expected current hasher, got %v err=%v", h, err)
	}

	if _, err := reg.Lookup("scrypt", ""); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
	if _, err := reg.Lookup("", "$2b$10$abcdefghijklmnopqrstuv"); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("expected bcrypt lookup to fail without a registered bcrypt hasher, got %v", err)
	}
}

func TestDetect(t *testing.T) {
	cases := map[string]string{
		"$argon2id$v=19$m=8192,t=1,p=1$a$b": AlgorithmArgon2id,
		"$2a$10$xyz":                        AlgorithmBcrypt,
		"$2y$10$xyz":                        AlgorithmBcrypt,
		"$scrypt$":                          "",
		"":                                  "",
	}
	for in, want := range cases {
		if got := Detect(in); got != want {
			t.Fatalf("Detect(%q) = %q, want %q", in, got, want)
		}
	}
}
