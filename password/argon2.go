package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// AlgorithmArgon2id is the algorithm version recorded for Argon2id hashes.
const AlgorithmArgon2id = "argon2id"

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16

	// MinPasswordBytes is the shortest plaintext Hash accepts.
	MinPasswordBytes = 8
)

// Config holds Argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the parameters used for new hashes.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate reports whether the parameters meet the enforced minimums.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case c.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case c.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("password key length must be >= %d", minKeyLength)
	}
	return nil
}

// Argon2 hashes passwords with Argon2id.
//
// Argon2 is immutable after construction and safe for concurrent use.
type Argon2 struct {
	config Config
}

type argonPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// NewArgon2 validates cfg and returns a hasher using it for new hashes.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Algorithm returns AlgorithmArgon2id.
func (a *Argon2) Algorithm() string { return AlgorithmArgon2id }

// Hash derives a PHC-encoded Argon2id hash with a fresh random salt.
func (a *Argon2) Hash(password string) (string, error) {
	// Raw bytes are hashed as provided, no Unicode normalization.
	if len(password) < MinPasswordBytes {
		return "", ErrPasswordTooShort
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		AlgorithmArgon2id,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters stored in encodedHash and
// compares the result in constant time.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	phc, err := parseArgonPHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), phc.salt, phc.time, phc.memory, phc.parallelism, uint32(len(phc.hash)))
	return subtle.ConstantTimeCompare(computed, phc.hash) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the hasher's current configuration.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	phc, err := parseArgonPHC(encodedHash)
	if err != nil {
		return false, err
	}

	weaker := a.config.Memory > phc.memory ||
		a.config.Time > phc.time ||
		a.config.Parallelism > phc.parallelism ||
		a.config.KeyLength != uint32(len(phc.hash))
	return weaker, nil
}

func parseArgonPHC(encoded string) (*argonPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("%w: invalid PHC layout", ErrMalformedHash)
	}
	if parts[1] != AlgorithmArgon2id {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, parts[1])
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, fmt.Errorf("%w: missing version", ErrMalformedHash)
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, version)
	}

	phc := &argonPHC{}
	if err := parseArgonParams(parts[3], phc); err != nil {
		return nil, err
	}

	var err error
	if phc.salt, err = decodeB64(parts[4]); err != nil || len(phc.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: invalid salt", ErrMalformedHash)
	}
	if phc.hash, err = decodeB64(parts[5]); err != nil || len(phc.hash) == 0 {
		return nil, fmt.Errorf("%w: invalid key", ErrMalformedHash)
	}
	return phc, nil
}

// decodeB64 accepts padded and unpadded standard base64 so hashes produced by
// other Argon2 tooling verify too.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func parseArgonParams(part string, phc *argonPHC) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return fmt.Errorf("%w: invalid parameter list", ErrMalformedHash)
	}

	var seen int
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: invalid parameter %q", ErrMalformedHash, pair)
		}

		switch key {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return fmt.Errorf("%w: invalid memory", ErrMalformedHash)
			}
			phc.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return fmt.Errorf("%w: invalid time", ErrMalformedHash)
			}
			phc.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return fmt.Errorf("%w: invalid parallelism", ErrMalformedHash)
			}
			phc.parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: unsupported parameter %q", ErrMalformedHash, key)
		}
		seen++
	}

	if seen != 3 || phc.memory == 0 || phc.time == 0 || phc.parallelism == 0 {
		return fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	return nil
}
