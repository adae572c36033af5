package password

import (
	"fmt"
	"strings"
)

// Registry maps algorithm versions to hashers and designates the current one.
type Registry struct {
	current Hasher
	byName  map[string]Hasher
}

// NewRegistry returns a registry whose current hasher is current. legacy
// hashers are consulted for verification only.
func NewRegistry(current Hasher, legacy ...Hasher) *Registry {
	r := &Registry{
		current: current,
		byName:  map[string]Hasher{current.Algorithm(): current},
	}
	for _, h := range legacy {
		if h == nil {
			continue
		}
		if _, exists := r.byName[h.Algorithm()]; !exists {
			r.byName[h.Algorithm()] = h
		}
	}
	return r
}

// Current returns the hasher used for new hashes.
func (r *Registry) Current() Hasher { return r.current }

// Lookup resolves a hasher by algorithm version. An empty version falls back
// to prefix detection on encodedHash.
func (r *Registry) Lookup(version, encodedHash string) (Hasher, error) {
	if version == "" {
		version = Detect(encodedHash)
	}
	h, ok := r.byName[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, version)
	}
	return h, nil
}

// Detect guesses the algorithm of an encoded hash from its prefix. It returns
// "" when the prefix is not recognised.
func Detect(encodedHash string) string {
	switch {
	case strings.HasPrefix(encodedHash, "$"+AlgorithmArgon2id+"$"):
		return AlgorithmArgon2id
	case isBcryptHash(encodedHash):
		return AlgorithmBcrypt
	default:
		return ""
	}
}
