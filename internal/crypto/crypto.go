// Package crypto encrypts and decrypts api_keys.ciphertext. Only the
// ciphertext is ever persisted; the gateway decrypts the plaintext at call
// time and discards it once the provider client is constructed.
//
// No third-party crypto library appears anywhere in the dependency stack
// this project draws from, so this is one deliberate exception to the
// "prefer the ecosystem" rule: AES-256-GCM via the standard library's
// crypto/aes and crypto/cipher.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/inkframe/inkframe/internal/apperr"
)

// Encrypt seals plaintext with AES-256-GCM under key (must be 32 bytes),
// prefixing the returned ciphertext with a freshly generated nonce.
func Encrypt(key []byte, plaintext string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperr.Wrap(apperr.External, "generate nonce", err)
	}

	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt recovers the plaintext sealed by Encrypt. It is the only place in
// the codebase that ever sees an api_keys.ciphertext value in the clear.
func Decrypt(key, ciphertext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", apperr.ValidationErr("ciphertext shorter than nonce size")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.External, "decrypt api key", err)
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes (AES-256), got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.External, "construct aes cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperr.Wrap(apperr.External, "construct gcm", err)
	}

	return gcm, nil
}
