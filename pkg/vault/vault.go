// pkg/vault/vault.go
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrIntegrity is returned by Open when the ciphertext fails authentication
// (corrupted or tampered blob). No partial plaintext is ever returned.
var ErrIntegrity = errors.New("vault: ciphertext integrity check failed")

const keyLen = 32 // AES-256

// Vault seals secrets with AES-256-GCM before they are persisted and opens
// them on read. Blobs are nonce||ciphertext||tag, base64-encoded, so a sealed
// value is a single opaque string for any store.
//
// The key is a single injected value; rotation, if ever needed, happens here
// without touching callers.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from a base64-encoded 256-bit key. A missing or
// wrong-length key is a configuration error: validate at process start.
func New(b64Key string) (*Vault, error) {
	if b64Key == "" {
		return nil, errors.New("vault: ENCRYPTION_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("vault: ENCRYPTION_KEY is not valid base64: %w", err)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("vault: ENCRYPTION_KEY must decode to %d bytes, got %d", keyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce per call.
func (v *Vault) Seal(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	blob := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Open decrypts a sealed blob, returning ErrIntegrity when authentication fails.
func (v *Vault) Open(sealed string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if len(blob) < v.aead.NonceSize() {
		return "", fmt.Errorf("%w: blob too short", ErrIntegrity)
	}
	nonce, ct := blob[:v.aead.NonceSize()], blob[v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return string(plain), nil
}
