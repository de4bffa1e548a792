package crypto

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()
	plaintext := "sk-example-secret-value"

	ciphertext, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Contains(ciphertext, []byte(plaintext)) {
		t.Fatal("ciphertext must not contain the plaintext")
	}

	got, err := Decrypt(key, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if got != plaintext {
		t.Fatalf("expected %q, got %q", plaintext, got)
	}
}

func TestEncryptProducesDistinctCiphertextsForSameInput(t *testing.T) {
	key := testKey()

	a, err := Encrypt(key, "same-secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := Encrypt(key, "same-secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if bytes.Equal(a, b) {
		t.Fatal("expected distinct ciphertexts due to random nonce reuse protection")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	ciphertext, err := Encrypt(testKey(), "secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	wrongKey := bytes.Repeat([]byte{0x01}, 32)
	if _, err := Decrypt(wrongKey, ciphertext); err == nil {
		t.Fatal("expected decryption with the wrong key to fail")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := testKey()
	ciphertext, err := Encrypt(key, "secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	tampered := bytes.Clone(ciphertext)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := Decrypt(key, tampered); err == nil {
		t.Fatal("expected decryption of tampered ciphertext to fail")
	}
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	if _, err := Decrypt(testKey(), []byte("short")); err == nil {
		t.Fatal("expected decryption of a too-short ciphertext to fail")
	}
}

func TestNewGCMRejectsWrongKeySize(t *testing.T) {
	if _, err := Encrypt([]byte("too-short"), "secret"); err == nil {
		t.Fatal("expected Encrypt to reject a non-32-byte key")
	}
}
