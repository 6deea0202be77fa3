package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Shortstat keys look like ss_{env}_{prefix}_{secret}, e.g.
// ss_live_3f9c2a41_8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b9c7a5f3d2e.
// The prefix is stored alongside the hash and indexed for lookup;
// the secret never touches the database in plaintext.
const (
	KeyPrefixLen = 8  // hex-encoded 4 bytes, visible in listings
	KeySecretLen = 40 // hex-encoded 20 bytes
)

// Key environments. Test keys authenticate like live ones; the tag
// only exists so operators can tell fixtures from production keys.
const (
	EnvLive = "live"
	EnvTest = "test"
)

var (
	// ErrInvalidKeyFormat indicates a credential that is not a
	// shortstat API key.
	ErrInvalidKeyFormat = errors.New("invalid API key format")

	keyShape = regexp.MustCompile(`^ss_(live|test)_([a-f0-9]{8})_([a-f0-9]{40})$`)
)

// IssuedKey is the result of minting a new API key. Plaintext is
// shown to the caller exactly once; only Hash and Prefix persist.
type IssuedKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// GenerateAPIKey mints a new API key for the given environment.
// Unknown environments fall back to live.
func GenerateAPIKey(env string) (*IssuedKey, error) {
	if env != EnvLive && env != EnvTest {
		env = EnvLive
	}

	prefix, err := randomHex(KeyPrefixLen / 2)
	if err != nil {
		return nil, fmt.Errorf("generate prefix: %w", err)
	}
	secret, err := randomHex(KeySecretLen / 2)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	plaintext := fmt.Sprintf("ss_%s_%s_%s", env, prefix, secret)

	hash, err := HashKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	return &IssuedKey{
		Plaintext: plaintext,
		Hash:      hash,
		Prefix:    prefix,
	}, nil
}

// ParsedKey is a structurally valid API key split into its parts.
type ParsedKey struct {
	Env    string
	Prefix string
	Secret string
}

// ParseAPIKey splits a plaintext key into environment, prefix, and
// secret, rejecting anything that does not match the key shape.
func ParseAPIKey(key string) (*ParsedKey, error) {
	m := keyShape.FindStringSubmatch(key)
	if m == nil {
		return nil, ErrInvalidKeyFormat
	}
	return &ParsedKey{Env: m[1], Prefix: m[2], Secret: m[3]}, nil
}

// ValidateKeyFormat reports whether key has the shortstat key shape.
func ValidateKeyFormat(key string) bool {
	return keyShape.MatchString(key)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
