package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	// IDSize is the length of the token id in bytes.
	IDSize = 16
	// SecretSize is the length of the token secret in bytes.
	SecretSize = 32

	rawTokenSize = IDSize + SecretSize
)

// ErrMalformedToken is returned by Decode for input that is not a refresh token.
var ErrMalformedToken = errors.New("refresh: malformed token")

// Token is the decoded form of an opaque refresh token.
type Token struct {
	ID     [IDSize]byte
	Secret [SecretSize]byte
}

// NewToken draws a fresh id and secret from crypto/rand.
func NewToken() (Token, error) {
	var t Token
	if _, err := rand.Read(t.ID[:]); err != nil {
		return Token{}, err
	}
	if _, err := rand.Read(t.Secret[:]); err != nil {
		return Token{}, err
	}
	return t, nil
}

// TokenID is the storage key for the token.
func (t Token) TokenID() string {
	return base64.RawURLEncoding.EncodeToString(t.ID[:])
}

// String encodes the token for clients.
func (t Token) String() string {
	var raw [rawTokenSize]byte
	copy(raw[:IDSize], t.ID[:])
	copy(raw[IDSize:], t.Secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// SecretHash returns sha256 of the secret.
func (t Token) SecretHash() [32]byte {
	return HashSecret(t.Secret)
}

// Decode parses an opaque token.
func Decode(s string) (Token, error) {
	var t Token
	if base64.RawURLEncoding.DecodedLen(len(s)) != rawTokenSize {
		return t, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != rawTokenSize {
		return t, ErrMalformedToken
	}
	copy(t.ID[:], raw[:IDSize])
	copy(t.Secret[:], raw[IDSize:])
	return t, nil
}

// HashSecret is the digest stored in Record.SecretHash.
func HashSecret(secret [SecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}
