package password

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AlgorithmBcrypt is the algorithm version recorded for legacy bcrypt hashes.
const AlgorithmBcrypt = "bcrypt"

// Bcrypt verifies bcrypt hashes. New hashes are only produced for tests and
// migrations; the registry never selects it as the current hasher.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt hasher. A cost of zero selects bcrypt.DefaultCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

func (b *Bcrypt) Algorithm() string { return AlgorithmBcrypt }

func (b *Bcrypt) Hash(password string) (string, error) {
	if len(password) < MinPasswordBytes {
		return "", ErrPasswordTooShort
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify uses bcrypt's own constant-time comparison.
func (b *Bcrypt) Verify(password, encodedHash string) (bool, error) {
	if !isBcryptHash(encodedHash) {
		return false, fmt.Errorf("%w: not a bcrypt hash", ErrMalformedHash)
	}
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

// NeedsUpgrade always reports true: bcrypt records are migrated to Argon2id.
func (b *Bcrypt) NeedsUpgrade(encodedHash string) (bool, error) {
	if !isBcryptHash(encodedHash) {
		return false, fmt.Errorf("%w: not a bcrypt hash", ErrMalformedHash)
	}
	return true, nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
