package auth

import (
	"errors"
	"strings"
	"testing"
)

const sampleKey = "ss_live_3f9c2a41_8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b9c7a5f3d2e"

func TestHashKey_PHCEncoding(t *testing.T) {
	t.Parallel()

	hash, err := HashKey(sampleKey)
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Errorf("hash %q is not argon2id PHC encoded", hash)
	}
	if strings.Contains(hash, sampleKey) {
		t.Error("hash must not embed the plaintext key")
	}
	if parts := strings.Split(hash, "$"); len(parts) != 6 {
		t.Errorf("hash has %d segments, want 6", len(parts))
	}
}

func TestHashKey_SaltedPerCall(t *testing.T) {
	t.Parallel()

	h1, err := HashKey(sampleKey)
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	h2, err := HashKey(sampleKey)
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}

	if h1 == h2 {
		t.Error("two hashes of one key must differ (fresh salt per call)")
	}

	// Both still verify against the same plaintext.
	for _, h := range []string{h1, h2} {
		ok, err := VerifyKey(sampleKey, h)
		if err != nil || !ok {
			t.Errorf("VerifyKey against %q = %v, %v", h, ok, err)
		}
	}
}

func TestVerifyKey_Mismatch(t *testing.T) {
	t.Parallel()

	hash, err := HashKey(sampleKey)
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}

	wrong := "ss_live_3f9c2a41_0000000000000000000000000000000000000000"
	ok, err := VerifyKey(wrong, hash)
	if err != nil {
		t.Fatalf("mismatch must not be an error: %v", err)
	}
	if ok {
		t.Error("wrong key verified")
	}
}

func TestVerifyKey_MalformedHashes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hash    string
		wantErr error
	}{
		{"empty", "", ErrMalformedHash},
		{"not phc", "plainly-not-a-hash", ErrMalformedHash},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA", ErrMalformedHash},
		{"missing segments", "$argon2id$v=19$m=65536,t=3,p=4", ErrMalformedHash},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=3,p=4$!!!$aGFzaA", ErrMalformedHash},
		{"future version", "$argon2id$v=99$m=65536,t=3,p=4$c2FsdA$aGFzaA", ErrHashVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := VerifyKey(sampleKey, tt.hash); !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyKey error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuickHash_StableAndShort(t *testing.T) {
	t.Parallel()

	a := QuickHash(sampleKey)
	if QuickHash(sampleKey) != a {
		t.Error("QuickHash must be deterministic")
	}
	if len(a) != 32 {
		t.Errorf("digest length = %d, want 32 hex chars", len(a))
	}
	if QuickHash("something else") == a {
		t.Error("distinct inputs collided")
	}
	if strings.Contains(a, "ss_") {
		t.Error("digest leaks key material")
	}
}
