// Package vault encrypts provider credentials before they reach storage.
//
// Blobs are base64(nonce || ciphertext || tag) produced by AES-256-GCM with a
// fresh 12-byte nonce per call.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
)

const keySize = 32

// Vault holds the AEAD derived from the deployment secret.
type Vault struct {
	aead cipher.AEAD
}

// New derives the key from secret. The secret is right-padded with '0' and
// truncated to 32 bytes so existing blobs stay readable.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: encryption secret is not set", apperr.ErrConfiguration)
	}
	key := []byte(secret)
	if len(key) < keySize {
		key = append(key, []byte(strings.Repeat("0", keySize-len(key)))...)
	}
	key = key[:keySize]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext with a random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt under the same secret.
func (v *Vault) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: malformed blob", apperr.ErrDecryption)
	}
	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize+v.aead.Overhead() {
		return "", fmt.Errorf("%w: blob too short", apperr.ErrDecryption)
	}
	plaintext, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", apperr.ErrDecryption)
	}
	return string(plaintext), nil
}

// EncryptOptional encrypts s when present.
func (v *Vault) EncryptOptional(s string) (*string, error) {
	if s == "" {
		return nil, nil
	}
	enc, err := v.Encrypt(s)
	if err != nil {
		return nil, err
	}
	return &enc, nil
}
