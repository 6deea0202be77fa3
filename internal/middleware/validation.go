package middleware

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

const (
	MinShortCodeLength      = 3
	MaxShortCodeLength      = 32
	MaxDestinationURLLength = 2048
)

var (
	ErrShortCodeTooLong    = errors.New("short code exceeds maximum length")
	ErrShortCodeTooShort   = errors.New("short code is too short")
	ErrShortCodeInvalid    = errors.New("short code contains invalid characters")
	ErrShortCodeReserved   = errors.New("short code is reserved")
	ErrDestinationTooLong  = errors.New("destination URL exceeds maximum length")
	ErrDestinationInvalid  = errors.New("destination URL is invalid")
	ErrDestinationUnsafe   = errors.New("destination URL uses unsafe scheme")
	ErrAliasInvalidUnicode = errors.New("alias contains confusable unicode characters")
)

// reservedAliases are codes a custom alias may never claim: the
// API's own routes, auth-flow paths phishers like to imitate, the
// brand itself, and well-known root files.
var reservedAliases = func() map[string]bool {
	names := []string{
		"api", "admin", "healthz", "readyz", "metrics",
		"static", "assets", "public", "private",
		"login", "logout", "auth", "oauth", "callback", "webhook", "webhooks",
		"shortstat", "stats",
		"password", "reset", "verify", "confirm", "activate", "unsubscribe",
		"robots", "sitemap", "favicon", "well-known",
	}
	m := make(map[string]bool, len(names))
	for _, name := range names {
		m[name] = true
	}
	return m
}()

var shortCodeShape = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateShortCode checks a custom alias: length, character set,
// and the reserved list. Empty means auto-generate and is fine.
func ValidateShortCode(code string) error {
	switch {
	case code == "":
		return nil
	case len(code) > MaxShortCodeLength:
		return ErrShortCodeTooLong
	case len(code) < MinShortCodeLength:
		return ErrShortCodeTooShort
	case !shortCodeShape.MatchString(code):
		return ErrShortCodeInvalid
	case reservedAliases[strings.ToLower(code)]:
		return ErrShortCodeReserved
	}
	return nil
}

// ValidateDestinationURL rejects oversized, non-http(s), and
// script-scheme destinations before the service layer parses them.
func ValidateDestinationURL(url string) error {
	if len(url) > MaxDestinationURLLength {
		return ErrDestinationTooLong
	}

	lower := strings.ToLower(url)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return ErrDestinationInvalid
	}

	// Catches schemes smuggled past the prefix check via encoding.
	for _, scheme := range []string{"javascript:", "data:", "vbscript:", "file:"} {
		if strings.Contains(lower, scheme) {
			return ErrDestinationUnsafe
		}
	}

	return nil
}

// ValidateAlias screens aliases for homograph tricks: non-ASCII
// runes are rejected outright, and mostly-confusable ASCII
// ("0O1lI" lookalikes) is rejected once it dominates the alias.
func ValidateAlias(alias string) error {
	if alias == "" {
		return nil
	}

	confusable := 0
	for _, r := range alias {
		if r > unicode.MaxASCII {
			return ErrAliasInvalidUnicode
		}
		if strings.ContainsRune("01lIO", r) {
			confusable++
		}
	}

	if len(alias) > 3 && float64(confusable)/float64(len(alias)) > 0.5 {
		return ErrAliasInvalidUnicode
	}

	return nil
}
