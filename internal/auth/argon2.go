// Package auth issues and verifies shortstat API keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters. Keys are high-entropy random strings, so
// the cost mostly guards against bulk cracking of a leaked table.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonHashLen = 32
	argonSaltLen = 16
)

var (
	// ErrMalformedHash indicates a stored hash that cannot be decoded.
	ErrMalformedHash = errors.New("malformed key hash")
	// ErrHashVersion indicates an argon2 version this build cannot verify.
	ErrHashVersion = errors.New("unsupported argon2 version")
)

// argonParams are the cost parameters recovered from a stored hash.
// Verification replays whatever the hash was created with, so cost
// bumps only affect newly issued keys.
type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

// HashKey derives an Argon2id hash of a plaintext API key for
// storage, encoded as a PHC string
// ($argon2id$v=19$m=...,t=...,p=...$salt$hash).
func HashKey(key string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonHashLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// VerifyKey reports whether the plaintext key matches the stored
// hash. Comparison is constant-time; a mismatch is (false, nil), an
// undecodable hash is an error.
func VerifyKey(key, encodedHash string) (bool, error) {
	params, salt, want, err := decodeKeyHash(encodedHash)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(key), salt, params.time, params.memory, params.threads, uint32(len(want)))

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// decodeKeyHash splits a PHC-encoded argon2id hash into its cost
// parameters, salt, and digest.
func decodeKeyHash(encoded string) (argonParams, []byte, []byte, error) {
	var params argonParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return params, nil, nil, ErrHashVersion
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return params, nil, nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, ErrMalformedHash
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, ErrMalformedHash
	}

	return params, salt, digest, nil
}

// QuickHash derives a short cache-key digest of the input. Not a
// substitute for HashKey; the auth cache only needs a stable,
// non-reversible lookup key.
func QuickHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}
