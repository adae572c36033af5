package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/abctrading/tradeauth/password"
)

// Result describes a successful verification.
type Result struct {
	UserID string
	// NeedsRehash is set when the stored hash uses a legacy algorithm or
	// weaker parameters than the current hasher.
	NeedsRehash bool
	// Algorithm is the hash algorithm of the matched record.
	Algorithm string
}

// Verifier checks passwords against a Store.
type Verifier struct {
	store         Store
	hashers       *password.Registry
	dummyHash     string
	lookupTimeout time.Duration
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithLookupTimeout bounds each Store lookup. Zero leaves the caller's
// context untouched.
func WithLookupTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.lookupTimeout = d }
}

// NewVerifier builds a verifier. A dummy hash is derived once with the current
// hasher and compared against on every failure path that has no real record.
func NewVerifier(store Store, hashers *password.Registry, opts ...VerifierOption) (*Verifier, error) {
	if store == nil {
		return nil, errors.New("credential: store is required")
	}
	if hashers == nil {
		return nil, errors.New("credential: hasher registry is required")
	}

	seed := make([]byte, 24)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("credential: dummy seed: %w", err)
	}
	dummy, err := hashers.Current().Hash(base64.RawURLEncoding.EncodeToString(seed))
	if err != nil {
		return nil, fmt.Errorf("credential: dummy hash: %w", err)
	}

	v := &Verifier{store: store, hashers: hashers, dummyHash: dummy}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify returns the user id for a matching username and password.
//
// Errors: ErrNotFound, ErrInvalidCredentials or ErrUnavailable. The password
// is never logged or included in an error.
func (v *Verifier) Verify(ctx context.Context, username, pass string) (Result, error) {
	if username == "" || pass == "" {
		v.burn(pass)
		return Result{}, ErrInvalidCredentials
	}

	rec, err := v.lookup(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			v.burn(pass)
			return Result{}, ErrNotFound
		}
		if errors.Is(err, ErrUnavailable) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	hasher, err := v.hashers.Lookup(rec.HashAlgorithmVersion, rec.PasswordHash)
	if err != nil {
		v.burn(pass)
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	ok, err := hasher.Verify(pass, rec.PasswordHash)
	if err != nil {
		v.burn(pass)
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !ok {
		return Result{}, ErrInvalidCredentials
	}

	res := Result{UserID: rec.UserID, Algorithm: hasher.Algorithm()}
	if hasher.Algorithm() != v.hashers.Current().Algorithm() {
		res.NeedsRehash = true
	} else if up, err := hasher.NeedsUpgrade(rec.PasswordHash); err == nil {
		res.NeedsRehash = up
	}
	return res, nil
}

func (v *Verifier) lookup(ctx context.Context, username string) (Record, error) {
	if v.lookupTimeout <= 0 {
		return v.store.LookupByUsername(ctx, username)
	}
	ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()

	rec, err := v.store.LookupByUsername(ctx, username)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
	return rec, err
}

// burn performs a comparison whose cost matches a real verification with the
// current hasher. Records still on a legacy algorithm verify at that
// algorithm's cost instead.
func (v *Verifier) burn(pass string) {
	_, _ = v.hashers.Current().Verify(pass, v.dummyHash)
}
