package keys

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/abctrading/tradeauth/jwt"
)

// Manifest is the serialized form of a key set.
type Manifest struct {
	Method    string        `json:"method"`
	ActiveKID string        `json:"activeKid"`
	Keys      []ManifestKey `json:"keys"`
}

// ManifestKey is one entry of a manifest. Secret is base64 encoded and only
// used with hs256.
type ManifestKey struct {
	KID        string `json:"kid"`
	PrivateKey string `json:"privateKey,omitempty"`
	PublicKey  string `json:"publicKey,omitempty"`
	Secret     string `json:"secret,omitempty"`
}

// ParseManifest decodes data and builds a key set from it.
func ParseManifest(data []byte) (*jwt.KeySet, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("keys: decode manifest: %w", err)
	}
	cfg, err := m.KeyConfig()
	if err != nil {
		return nil, err
	}
	return jwt.NewKeySet(cfg)
}

// KeyConfig converts the manifest into raw key material.
func (m Manifest) KeyConfig() (jwt.KeyConfig, error) {
	method := jwt.SigningMethod(strings.ToLower(strings.TrimSpace(m.Method)))
	if m.ActiveKID == "" {
		return jwt.KeyConfig{}, errors.New("keys: manifest has no active kid")
	}

	cfg := jwt.KeyConfig{
		SigningMethod: method,
		KeyID:         m.ActiveKID,
		VerifyKeys:    make(map[string][]byte, len(m.Keys)),
	}

	var activeFound bool
	for _, k := range m.Keys {
		if k.KID == "" {
			return jwt.KeyConfig{}, errors.New("keys: manifest entry without kid")
		}
		if _, dup := cfg.VerifyKeys[k.KID]; dup {
			return jwt.KeyConfig{}, fmt.Errorf("keys: duplicate kid %q", k.KID)
		}

		switch method {
		case jwt.MethodHS256:
			secret, err := base64.StdEncoding.DecodeString(k.Secret)
			if err != nil || len(secret) == 0 {
				return jwt.KeyConfig{}, fmt.Errorf("keys: invalid secret for kid %q", k.KID)
			}
			cfg.VerifyKeys[k.KID] = secret
			if k.KID == m.ActiveKID {
				cfg.PrivateKey = secret
				activeFound = true
			}
		default:
			if k.KID == m.ActiveKID {
				if k.PrivateKey == "" {
					return jwt.KeyConfig{}, fmt.Errorf("keys: active kid %q has no private key", k.KID)
				}
				cfg.PrivateKey = []byte(k.PrivateKey)
				activeFound = true
			}
			if k.PublicKey != "" {
				cfg.VerifyKeys[k.KID] = []byte(k.PublicKey)
			} else if k.KID != m.ActiveKID {
				return jwt.KeyConfig{}, fmt.Errorf("keys: kid %q has no public key", k.KID)
			}
		}
	}

	if !activeFound {
		return jwt.KeyConfig{}, fmt.Errorf("keys: active kid %q not listed", m.ActiveKID)
	}
	return cfg, nil
}
