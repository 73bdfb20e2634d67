package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !strings.HasPrefix(hash, "scrypt$") {
		t.Errorf("HashPassword() = %q, want scrypt$ prefix", hash)
	}

	ok, err := VerifyPassword("correct horse", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("VerifyPassword() = false for the right password")
	}

	ok, err = VerifyPassword("battery staple", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if ok {
		t.Error("VerifyPassword() = true for the wrong password")
	}
}

func TestHashPassword_Salted(t *testing.T) {
	a, _ := HashPassword("same")
	b, _ := HashPassword("same")
	if a == b {
		t.Error("two hashes of the same password should differ")
	}
}

func TestVerifyPassword_Malformed(t *testing.T) {
	tests := []string{"", "plain", "bcrypt$00$00", "scrypt$zz$00"}
	for _, stored := range tests {
		t.Run(stored, func(t *testing.T) {
			_, err := VerifyPassword("x", stored)
			if !errors.Is(err, ErrMalformedHash) {
				t.Errorf("VerifyPassword(%q) error = %v, want ErrMalformedHash", stored, err)
			}
		})
	}
}
