package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashToken(t *testing.T) {
	rawToken := "test-token"
	hash1 := HashToken(rawToken)
	hash2 := HashToken(rawToken)

	if hash1 != hash2 {
		t.Errorf("HashToken() not deterministic: %v != %v", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("HashToken() length = %d, want 64", len(hash1))
	}
	if hash1 == HashToken("different-token") {
		t.Error("HashToken() produced same hash for different tokens")
	}
}

func TestHashTokenArgon2id(t *testing.T) {
	rawToken := "test-token-secure-12345"

	hash, err := HashTokenArgon2id(rawToken)
	if err != nil {
		t.Fatalf("HashTokenArgon2id() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("HashTokenArgon2id() = %q, want prefix $argon2id$", hash)
	}

	hash2, err := HashTokenArgon2id(rawToken)
	if err != nil {
		t.Fatalf("HashTokenArgon2id() second call error = %v", err)
	}
	if hash == hash2 {
		t.Error("HashTokenArgon2id() produced identical hashes - should use random salt")
	}
}

func TestDetectHashType(t *testing.T) {
	tests := []struct {
		name     string
		hash     string
		wantType string
	}{
		{"argon2id PHC format", "$argon2id$v=19$m=47104,t=1,p=1$abc123$xyz789", "argon2id"},
		{"sha256 prefixed", "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", "sha256"},
		{"legacy bare sha256 hex", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", "sha256"},
		{"unknown - too short", "abc123", "unknown"},
		{"unknown - wrong prefix", "$bcrypt$abc123", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectHashType(tt.hash); got != tt.wantType {
				t.Errorf("DetectHashType(%q) = %q, want %q", tt.hash, got, tt.wantType)
			}
		})
	}
}

func TestVerifyToken(t *testing.T) {
	rawToken := "test-token-verify-12345"

	argonHash, err := HashTokenArgon2id(rawToken)
	if err != nil {
		t.Fatalf("HashTokenArgon2id() setup error = %v", err)
	}
	sha256Hash := HashToken(rawToken)
	sha256Prefixed := "sha256:" + sha256Hash

	tests := []struct {
		name       string
		rawToken   string
		storedHash string
		wantMatch  bool
		wantErr    error
	}{
		{"argon2id - correct token", rawToken, argonHash, true, nil},
		{"argon2id - wrong token", "wrong-token", argonHash, false, nil},
		{"sha256 prefixed - correct token", rawToken, sha256Prefixed, true, nil},
		{"sha256 prefixed - wrong token", "wrong-token", sha256Prefixed, false, nil},
		{"legacy bare sha256 - correct token", rawToken, sha256Hash, true, nil},
		{"unknown hash type returns error", rawToken, "invalid-hash-format", false, ErrUnknownHashType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := VerifyToken(tt.rawToken, tt.storedHash)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("VerifyToken() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Errorf("VerifyToken() unexpected error = %v", err)
				return
			}
			if match != tt.wantMatch {
				t.Errorf("VerifyToken() = %v, want %v", match, tt.wantMatch)
			}
		})
	}
}
