package credential

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists for the username.
	ErrNotFound = errors.New("credential: not found")
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("credential: invalid credentials")
	// ErrUnavailable is returned when the backing store fails.
	ErrUnavailable = errors.New("credential: store unavailable")
)

// Record is a stored credential.
type Record struct {
	UserID               string
	Username             string
	PasswordHash         string
	HashAlgorithmVersion string
}

// Store looks up credential records.
type Store interface {
	// LookupByUsername returns ErrNotFound when the username is unknown.
	LookupByUsername(ctx context.Context, username string) (Record, error)
}
