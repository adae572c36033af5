package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWS algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256.
	MethodHS256 SigningMethod = "hs256"
)

// ErrSigningKey is returned when no usable signing key is available or the
// signature cannot be produced.
var ErrSigningKey = errors.New("jwt: signing key unavailable")

const minHMACKeyBytes = 32

// KeyConfig is the raw key material for a KeySet. Ed25519 keys may be raw
// bytes or PEM. For HS256 PrivateKey is the shared secret and VerifyKeys holds
// previous secrets.
type KeyConfig struct {
	SigningMethod SigningMethod
	KeyID         string
	PrivateKey    []byte
	PublicKey     []byte
	VerifyKeys    map[string][]byte
}

// KeySet is a parsed, immutable set of signing and verification keys.
type KeySet struct {
	method    SigningMethod
	keyID     string
	signKey   any
	verifyKey any
	verify    map[string]any
}

// KeyProvider returns the key set in effect. Implementations must be safe for
// concurrent use.
type KeyProvider interface {
	KeySet() (*KeySet, error)
}

// StaticKeys is a KeyProvider that never changes.
type StaticKeys struct {
	Set *KeySet
}

func (s StaticKeys) KeySet() (*KeySet, error) {
	if s.Set == nil {
		return nil, ErrSigningKey
	}
	return s.Set, nil
}

// NewKeySet parses cfg. A key set without a private key is verify-only.
func NewKeySet(cfg KeyConfig) (*KeySet, error) {
	ks := &KeySet{
		method: cfg.SigningMethod,
		keyID:  strings.TrimSpace(cfg.KeyID),
		verify: make(map[string]any, len(cfg.VerifyKeys)),
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) > 0 {
			if len(cfg.PrivateKey) < minHMACKeyBytes {
				return nil, fmt.Errorf("hs256 secret must be at least %d bytes", minHMACKeyBytes)
			}
			ks.signKey = cfg.PrivateKey
			ks.verifyKey = cfg.PrivateKey
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if len(key) < minHMACKeyBytes {
				return nil, fmt.Errorf("hs256 verify secret for kid %q is too short", kid)
			}
			ks.verify[kid] = key
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			ks.signKey = priv
			ks.verifyKey = priv.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			ks.verifyKey = pub
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			pub, err := parseEdPublicKey(key)
			if err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
			ks.verify[kid] = pub
		}
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	if ks.verifyKey == nil && len(ks.verify) == 0 {
		return nil, errors.New("key set has no verification key")
	}
	if ks.keyID != "" && ks.verifyKey != nil {
		if _, ok := ks.verify[ks.keyID]; !ok {
			ks.verify[ks.keyID] = ks.verifyKey
		}
	}
	return ks, nil
}

// Method returns the signing method of the set.
func (ks *KeySet) Method() SigningMethod { return ks.method }

// KeyID returns the kid written into new tokens.
func (ks *KeySet) KeyID() string { return ks.keyID }

// CanSign reports whether the set carries a private key.
func (ks *KeySet) CanSign() bool { return ks.signKey != nil }

func (ks *KeySet) jwtMethod() jwt.SigningMethod {
	if ks.method == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

// verifyKeyFor resolves the key for a token header. When the set is indexed by
// kid a kid is mandatory.
func (ks *KeySet) verifyKeyFor(kid string) (any, error) {
	if len(ks.verify) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := ks.verify[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	return ks.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	if len(key) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(key), nil
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
