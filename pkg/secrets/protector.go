// Package secrets protects tenant database credentials at rest.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Protector encrypts and decrypts sensitive values stored in the registry.
type Protector interface {
	Protect(plaintext string) (string, error)
	Unprotect(ciphertext string) (string, error)
}

// AESProtector implements Protector with AES-256-GCM. Ciphertexts are
// base64(nonce || sealed).
type AESProtector struct {
	aead cipher.AEAD
}

// NewAESProtector derives a 256-bit key from the configured key material.
func NewAESProtector(key string) (*AESProtector, error) {
	if key == "" {
		return nil, errors.New("encryption key is empty")
	}

	derived := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESProtector{aead: aead}, nil
}

// Protect encrypts plaintext with a random nonce.
func (p *AESProtector) Protect(plaintext string) (string, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := p.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Unprotect decrypts a value produced by Protect.
func (p *AESProtector) Unprotect(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}

	nonceSize := p.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	plain, err := p.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}
