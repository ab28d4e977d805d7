package auth

import (
	"strings"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		shouldFail bool
	}{
		{name: "valid strong password", password: "SecureP@ss123", shouldFail: false},
		{name: "valid with symbols", password: "MyP@ssw0rd!", shouldFail: false},
		{name: "too short", password: "Pa@1x", shouldFail: true},
		{name: "too long", password: strings.Repeat("Aa1@", 40), shouldFail: true},
		{name: "missing uppercase", password: "securepass@123", shouldFail: true},
		{name: "missing lowercase", password: "SECUREPASS@123", shouldFail: true},
		{name: "missing digit", password: "SecurePass@xyz", shouldFail: true},
		{name: "missing special character", password: "SecurePass123", shouldFail: true},
		{name: "common password rejected", password: "password123", shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)

			if tt.shouldFail {
				if err == nil {
					t.Errorf("expected error, got nil")
				} else if !strings.Contains(err.Error(), "invalid password") {
					// The validator must not leak which rule failed
					t.Errorf("error should be generic, got: %v", err)
				}
			} else if err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestHashAndComparePassword(t *testing.T) {
	password := "SecureP@ss123"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "" || hash == password {
		t.Error("hash should be a non-empty digest, not the plaintext")
	}

	if err := ComparePassword(hash, password); err != nil {
		t.Errorf("ComparePassword with correct password failed: %v", err)
	}
	if err := ComparePassword(hash, "WrongPassword123!"); err == nil {
		t.Error("ComparePassword with wrong password should fail")
	}
}

func TestHashPassword_DistinctSalts(t *testing.T) {
	a, err := HashPassword("SecureP@ss123")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	b, err := HashPassword("SecureP@ss123")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if a == b {
		t.Error("two hashes of the same password should differ")
	}
}
