package refresh

import (
	"crypto/subtle"
	"time"
)

// State is the lifecycle state of a record at a point in time.
type State uint8

const (
	StateLive State = iota
	StateConsumed
	StateRevoked
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateConsumed:
		return "consumed"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Record is a persisted refresh token.
type Record struct {
	TokenID    string
	SecretHash [32]byte
	UserID     string
	FamilyID   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	// AbsoluteExpiresAt is fixed at login and inherited by every rotation.
	AbsoluteExpiresAt time.Time
	ConsumedAt        *time.Time
	PredecessorID     string
	Revoked           bool
}

// State reports the record state at now. Consumption wins over expiry.
func (r *Record) State(now time.Time) State {
	switch {
	case r.ConsumedAt != nil && r.Revoked:
		return StateRevoked
	case r.ConsumedAt != nil:
		return StateConsumed
	case now.After(r.ExpiresAt):
		return StateExpired
	default:
		return StateLive
	}
}

// MatchesSecret compares sha256(secret) with the stored hash in constant time.
func (r *Record) MatchesSecret(secret [SecretSize]byte) bool {
	h := HashSecret(secret)
	return subtle.ConstantTimeCompare(h[:], r.SecretHash[:]) == 1
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.ConsumedAt != nil {
		t := *r.ConsumedAt
		c.ConsumedAt = &t
	}
	return &c
}

// PurgeAt is the instant after which a sweep may delete the record.
func (r *Record) PurgeAt(retention time.Duration) time.Time {
	return r.ExpiresAt.Add(retention)
}
