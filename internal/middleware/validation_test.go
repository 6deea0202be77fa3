package middleware

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateShortCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr error
	}{
		{"empty means auto-generate", "", nil},
		{"plain code", "launch1", nil},
		{"hyphenated", "q3-report", nil},
		{"underscored", "beta_signup", nil},
		{"below minimum length", "ab", ErrShortCodeTooShort},
		{"above maximum length", strings.Repeat("x", MaxShortCodeLength+1), ErrShortCodeTooLong},
		{"punctuation rejected", "abc!@#", ErrShortCodeInvalid},
		{"slash rejected", "a/b/c", ErrShortCodeInvalid},
		{"reserved route", "api", ErrShortCodeReserved},
		{"reserved route uppercased", "Admin", ErrShortCodeReserved},
		{"reserved health probe", "healthz", ErrShortCodeReserved},
		{"reserved brand", "shortstat", ErrShortCodeReserved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateShortCode(tt.code); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateShortCode(%q) = %v, want %v", tt.code, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDestinationURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"https", "https://blog.shortstat.dev/launch", nil},
		{"http", "http://blog.shortstat.dev", nil},
		{"with query", "https://blog.shortstat.dev/launch?ref=newsletter", nil},
		{"javascript scheme", "javascript:alert(1)", ErrDestinationInvalid},
		{"data scheme", "data:text/html,<h1>x</h1>", ErrDestinationInvalid},
		{"file scheme", "file:///etc/passwd", ErrDestinationInvalid},
		{"embedded script scheme", "https://evil.example/javascript:alert(1)", ErrDestinationUnsafe},
		{"over length cap", "https://blog.shortstat.dev/" + strings.Repeat("a", MaxDestinationURLLength), ErrDestinationTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateDestinationURL(tt.url); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDestinationURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAlias(t *testing.T) {
	tests := []struct {
		name    string
		alias   string
		wantErr error
	}{
		{"empty", "", nil},
		{"plain ascii", "launch2026", nil},
		{"cyrillic lookalike", "аdmin", ErrAliasInvalidUnicode},
		{"mostly lookalike ascii", "O0l1I", ErrAliasInvalidUnicode},
		{"few lookalikes pass", "blog01", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateAlias(tt.alias); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAlias(%q) = %v, want %v", tt.alias, err, tt.wantErr)
			}
		})
	}
}
