// Package token mints access and refresh tokens. It holds no state beyond
// its configuration and never persists anything.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abctrading/tradeauth/jwt"
	"github.com/abctrading/tradeauth/refresh"
)

var (
	// ErrLineageExpired is returned when a family has reached its absolute
	// expiry and no further refresh token may be issued.
	ErrLineageExpired = errors.New("token: lineage past absolute expiry")
	// ErrRandomness is returned when the system RNG fails.
	ErrRandomness = errors.New("token: random source failure")
)

// Config sets refresh-token lifetimes.
type Config struct {
	RefreshTTL       time.Duration
	AbsoluteLifetime time.Duration
	Now              func() time.Time
}

// AccessToken is a signed JWT and its expiry.
type AccessToken struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Scope     string
}

// RefreshToken pairs the opaque client string with the record to persist.
type RefreshToken struct {
	Token  string
	Record *refresh.Record
}

// Issuer mints tokens.
type Issuer struct {
	jwt *jwt.Manager
	cfg Config
}

func NewIssuer(manager *jwt.Manager, cfg Config) (*Issuer, error) {
	if manager == nil {
		return nil, errors.New("token: jwt manager is required")
	}
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: refresh TTL must be > 0")
	}
	if cfg.AbsoluteLifetime < cfg.RefreshTTL {
		return nil, errors.New("token: absolute lifetime must be >= refresh TTL")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{jwt: manager, cfg: cfg}, nil
}

// IssueAccessToken signs an access token. Key failures wrap jwt.ErrSigningKey.
func (i *Issuer) IssueAccessToken(userID, scope string) (AccessToken, error) {
	now := i.cfg.Now()
	signed, claims, err := i.jwt.CreateAccess(userID, scope, now)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{
		Token:     signed,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Scope:     scope,
	}, nil
}

// IssueRefreshToken creates a refresh token. An empty familyID starts a new
// family whose absolute expiry is now+AbsoluteLifetime; otherwise
// absoluteExpiresAt is inherited and caps ExpiresAt.
func (i *Issuer) IssueRefreshToken(userID, familyID string, absoluteExpiresAt time.Time, predecessorID string) (RefreshToken, error) {
	now := i.cfg.Now()

	if familyID == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return RefreshToken{}, fmt.Errorf("%w: %v", ErrRandomness, err)
		}
		familyID = id.String()
		absoluteExpiresAt = now.Add(i.cfg.AbsoluteLifetime)
	} else if absoluteExpiresAt.IsZero() {
		absoluteExpiresAt = now.Add(i.cfg.AbsoluteLifetime)
	}

	expiresAt := now.Add(i.cfg.RefreshTTL)
	if expiresAt.After(absoluteExpiresAt) {
		expiresAt = absoluteExpiresAt
	}
	if !expiresAt.After(now) {
		return RefreshToken{}, ErrLineageExpired
	}

	tok, err := refresh.NewToken()
	if err != nil {
		return RefreshToken{}, fmt.Errorf("%w: %v", ErrRandomness, err)
	}

	return RefreshToken{
		Token: tok.String(),
		Record: &refresh.Record{
			TokenID:           tok.TokenID(),
			SecretHash:        tok.SecretHash(),
			UserID:            userID,
			FamilyID:          familyID,
			IssuedAt:          now,
			ExpiresAt:         expiresAt,
			AbsoluteExpiresAt: absoluteExpiresAt,
			PredecessorID:     predecessorID,
		},
	}, nil
}

// RefreshTTL returns the configured sliding lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }
