package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config controls access token lifetime and validation.
type Config struct {
	AccessTTL    time.Duration
	Issuer       string
	Audience     string
	Leeway       time.Duration
	RequireIAT   bool
	MaxFutureIAT time.Duration
	Keys         KeyProvider
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Manager creates and parses access tokens.
//
// Manager is immutable after construction; key rotation happens behind the
// KeyProvider.
type Manager struct {
	config Config
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	UID   string `json:"uid"`
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Keys == nil {
		return nil, errors.New("key provider is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg}, nil
}

// AccessTTL returns the configured token lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// CreateAccess signs an access token for uid with the given scope, issued at
// now. Key or signature failures wrap ErrSigningKey.
func (j *Manager) CreateAccess(uid, scope string, now time.Time) (string, *AccessClaims, error) {
	ks, err := j.config.Keys.KeySet()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrSigningKey, err)
	}
	if ks == nil || !ks.CanSign() {
		return "", nil, fmt.Errorf("%w: key set is verify-only", ErrSigningKey)
	}

	claims := &AccessClaims{
		UID:   uid,
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.AccessTTL)),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(ks.jwtMethod(), claims)
	if ks.keyID != "" {
		token.Header["kid"] = ks.keyID
	}

	signed, err := token.SignedString(ks.signKey)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrSigningKey, err)
	}
	return signed, claims, nil
}

// ParseAccess verifies signature, algorithm, expiry, issuer and audience and
// returns the claims.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	ks, err := j.config.Keys.KeySet()
	if err != nil {
		return nil, err
	}

	method := ks.jwtMethod()
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		return ks.verifyKeyFor(kid)
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.UID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil {
		maxAllowed := j.config.Now().Add(j.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, errors.New("token iat too far in the future")
		}
	}

	return claims, nil
}
