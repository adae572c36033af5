package refresh

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a token id.
	ErrNotFound = errors.New("refresh: token not found")
	// ErrExpired is returned when now is past the record's ExpiresAt.
	ErrExpired = errors.New("refresh: token expired")
	// ErrAlreadyConsumed is returned for consumed or revoked records.
	ErrAlreadyConsumed = errors.New("refresh: token already consumed")
	// ErrConflict is returned by Save when the token id already exists.
	ErrConflict = errors.New("refresh: token id conflict")
	// ErrUnavailable is returned when the backend fails or times out.
	ErrUnavailable = errors.New("refresh: store unavailable")
)

// Store persists refresh-token records.
type Store interface {
	// Save inserts rec. ErrConflict if the id exists.
	Save(ctx context.Context, rec *Record) error
	// FindLive returns the record for tokenID. For ErrAlreadyConsumed and
	// ErrExpired the record is returned alongside the error.
	FindLive(ctx context.Context, tokenID string) (*Record, error)
	// Consume marks tokenID consumed if and only if it is live. Exactly one of
	// any number of concurrent callers succeeds; the rest get ErrAlreadyConsumed.
	Consume(ctx context.Context, tokenID string) error
	// RevokeFamily marks all live records of the family consumed and revoked
	// and returns how many were changed.
	RevokeFamily(ctx context.Context, familyID string) (int, error)
	// SweepExpired deletes records past ExpiresAt+retention and returns the
	// number removed.
	SweepExpired(ctx context.Context, retention time.Duration) (int, error)
}

// Rotator consumes oldTokenID and saves next as one atomic step. Errors are
// those of Consume followed by those of Save; on any error neither change is
// applied.
type Rotator interface {
	Rotate(ctx context.Context, oldTokenID string, next *Record) error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Rotate uses store's Rotator when available and otherwise consumes then saves.
func Rotate(ctx context.Context, store Store, oldTokenID string, next *Record) error {
	if r, ok := store.(Rotator); ok {
		return r.Rotate(ctx, oldTokenID, next)
	}
	if err := store.Consume(ctx, oldTokenID); err != nil {
		return err
	}
	return store.Save(ctx, next)
}

// IsDomainError reports whether err is an expected store outcome rather than
// a backend failure.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrAlreadyConsumed) ||
		errors.Is(err, ErrConflict)
}
