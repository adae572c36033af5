package password

import "errors"

var (
	// ErrPasswordTooShort is returned by Hash when the plaintext is below the minimum length.
	ErrPasswordTooShort = errors.New("password: plaintext below minimum length")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrUnknownAlgorithm is returned when no hasher is registered for a record.
	ErrUnknownAlgorithm = errors.New("password: unknown algorithm")
)

// Hasher is implemented by every password hashing algorithm.
//
// Verify must compare in constant time and must return (false, nil) on mismatch.
// An error is reserved for hashes that cannot be evaluated at all.
type Hasher interface {
	Algorithm() string
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}
