package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// apiKeySaltSize is 128 bits of random salt per hash.
	apiKeySaltSize = 16
	// apiKeyHashSize is a 256-bit derived key.
	apiKeyHashSize = 32
	// MinAPIKeyIterations is the floor below which stored hashes are
	// flagged for rehashing.
	MinAPIKeyIterations = 100000
)

// ErrMalformedAPIKeyHash is returned for stored hashes that do not parse.
var ErrMalformedAPIKeyHash = errors.New("malformed API key hash")

// APIKeyHasher derives and verifies salted PBKDF2-SHA256 API key hashes,
// stored as "iterations.salt.hash" with base64 salt and hash.
type APIKeyHasher struct {
	iterations int
}

// NewAPIKeyHasher creates a hasher. Iteration counts below the minimum are
// raised to it.
func NewAPIKeyHasher(iterations int) *APIKeyHasher {
	if iterations < MinAPIKeyIterations {
		iterations = MinAPIKeyIterations
	}
	return &APIKeyHasher{iterations: iterations}
}

// Hash derives a new salted hash for the key. Two calls for the same key
// produce different stored strings; both verify.
func (h *APIKeyHasher) Hash(apiKey string) (string, error) {
	if apiKey == "" {
		return "", errors.New("API key is empty")
	}

	salt := make([]byte, apiKeySaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	derived := pbkdf2.Key([]byte(apiKey), salt, h.iterations, apiKeyHashSize, sha256.New)

	return fmt.Sprintf("%d.%s.%s",
		h.iterations,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(derived),
	), nil
}

// Verify recomputes the derived key with the stored salt and iteration count
// and compares in constant time.
func (h *APIKeyHasher) Verify(apiKey, stored string) (bool, error) {
	iterations, salt, hash, err := parseStoredHash(stored)
	if err != nil {
		return false, err
	}

	derived := pbkdf2.Key([]byte(apiKey), salt, iterations, len(hash), sha256.New)
	return subtle.ConstantTimeCompare(derived, hash) == 1, nil
}

// NeedsRehash flags hashes derived with fewer iterations than the current
// minimum, for lazy migration on the next successful verification.
func (h *APIKeyHasher) NeedsRehash(stored string) (bool, error) {
	iterations, _, _, err := parseStoredHash(stored)
	if err != nil {
		return false, err
	}
	return iterations < h.iterations, nil
}

func parseStoredHash(stored string) (iterations int, salt, hash []byte, err error) {
	parts := strings.Split(stored, ".")
	if len(parts) != 3 {
		return 0, nil, nil, ErrMalformedAPIKeyHash
	}

	iterations, err = strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 {
		return 0, nil, nil, ErrMalformedAPIKeyHash
	}

	salt, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, ErrMalformedAPIKeyHash
	}

	hash, err = base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(hash) == 0 {
		return 0, nil, nil, ErrMalformedAPIKeyHash
	}

	return iterations, salt, hash, nil
}
