package cryptox

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestHashPassword_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := HashPassword(password, salt)
	key2 := HashPassword(password, salt)

	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}

	// snapshot of the argon2id output for fixed inputs
	expectedHex := "34f7a1c64df63ab1ad5b5ee06e64db5713b35f81839823304db63e8e5e6a6a39"
	if hex.EncodeToString(key1) != expectedHex {
		t.Errorf("expected %s, got %s", expectedHex, hex.EncodeToString(key1))
	}
}

func TestHashPassword_DifferentSalts(t *testing.T) {
	password := []byte("secret-password")
	salt1 := []byte("salt-1")
	salt2 := []byte("salt-2")

	key1 := HashPassword(password, salt1)
	key2 := HashPassword(password, salt2)

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different results for different salts, got same")
	}
}

func TestVerifyPassword(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")
	digest := HashPassword(password, salt)

	if !VerifyPassword(password, salt, digest) {
		t.Errorf("expected correct password to verify")
	}
	if VerifyPassword([]byte("wrong-password"), salt, digest) {
		t.Errorf("expected wrong password to fail verification")
	}
	if VerifyPassword(password, []byte("wrong-salt"), digest) {
		t.Errorf("expected wrong salt to fail verification")
	}
}
