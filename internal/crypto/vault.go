package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey means the configured key is not 32 bytes in any accepted encoding.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes (raw, hex or base64)")
	// ErrInvalidCiphertext means the blob is truncated or failed authentication.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

const nonceSize = 12

// Vault provides authenticated encryption for OAuth tokens at rest.
// The key is parsed once at construction and held for process lifetime;
// rotation means re-encrypting all secret rows out of band.
type Vault struct {
	aead cipher.AEAD
}

// NewVault parses the configured key, accepting standard base64, hex, or a
// raw 32-byte string, and prepares the AES-256-GCM cipher.
func NewVault(key string) (*Vault, error) {
	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Vault{aead: aead}, nil
}

func parseKey(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if decoded, err := base64.StdEncoding.DecodeString(key); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, ErrInvalidKey
}

// Encrypt seals plaintext with a fresh random nonce and returns
// base64(nonce || ciphertext || tag).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Fails with ErrInvalidCiphertext when the blob is
// shorter than nonce+tag or when authentication fails.
func (v *Vault) Decrypt(blob string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(sealed) < nonceSize+v.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}

// HashToken returns the hex sha256 of a webhook channel token for storage
// and later constant-cost comparison.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
