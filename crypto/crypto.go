// Package crypto provides the optional AEAD layer over Data payloads.
// Ciphertexts are nonce || sealed, where sealed already carries the
// AEAD's authentication tag; overhead is fixed at 28 bytes (12-byte
// nonce + 16-byte tag) regardless of plaintext length.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required symmetric key length, in bytes.
const KeySize = chacha20poly1305.KeySize

// NonceSize is the random nonce prefixed to every sealed payload.
const NonceSize = chacha20poly1305.NonceSize

// Overhead is the fixed number of bytes Seal adds beyond the plaintext
// length: the nonce plus the AEAD tag.
const Overhead = NonceSize + chacha20poly1305.Overhead

// Cipher seals and opens Data payloads with a single fixed key, shared
// out of band by every node in the mesh.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns nonce || ciphertext || tag.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	out := make([]byte, 0, NonceSize+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, nonce...)
	out = c.aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Open reverses Seal. It returns an error if in is shorter than the
// fixed overhead or if authentication fails.
func (c *Cipher) Open(in []byte) ([]byte, error) {
	if len(in) < Overhead {
		return nil, fmt.Errorf("crypto: ciphertext too short: %d bytes", len(in))
	}
	nonce, sealed := in[:NonceSize], in[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return plaintext, nil
}
