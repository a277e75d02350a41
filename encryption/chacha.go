// Package encryption ships a symmetric DataEncryption adapter for hosts that
// want events encrypted at rest without writing their own cipher plumbing.
package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChaCha is an api.DataEncryption implementation backed by
// XChaCha20-Poly1305. Every payload gets a fresh random nonce, prepended to
// the ciphertext, so identical events never produce identical disk bytes.
type ChaCha struct {
	aead cipher.AEAD
}

// NewChaCha builds the adapter from a 32-byte key.
func NewChaCha(key []byte) (*ChaCha, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: invalid key: %w", err)
	}
	return &ChaCha{aead: aead}, nil
}

// Encrypt seals the payload under a fresh nonce.
func (c *ChaCha) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("encryption: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt splits the nonce off and opens the ciphertext.
func (c *ChaCha) Decrypt(data []byte) ([]byte, error) {
	if len(data) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("encryption: ciphertext shorter than nonce")
	}
	nonce, ciphertext := data[:chacha20poly1305.NonceSizeX], data[chacha20poly1305.NonceSizeX:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("encryption: open: %w", err)
	}
	return plaintext, nil
}
