// Package security encrypts broker credentials before internal/store
// persists them to disk, so a stolen data directory doesn't also hand over
// the MQTT/HTTP broker password in plaintext.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100000
	keyLenBytes      = 32
)

// CredentialCipher encrypts and decrypts credential strings with a key
// derived from an operator-supplied master key (the security.master_key
// config setting), never the plaintext master key itself.
type CredentialCipher struct {
	key []byte
}

// NewCredentialCipher derives an AES-256 key from masterKey via PBKDF2. An
// empty masterKey yields a cipher that still works (useful for local dev
// where no secret has been provisioned) but offers no real protection.
func NewCredentialCipher(masterKey string) *CredentialCipher {
	salt := []byte("gatewaycore-credential-salt-v1")
	return &CredentialCipher{key: pbkdf2.Key([]byte(masterKey), salt, pbkdf2Iterations, keyLenBytes, sha256.New)}
}

// Encrypt returns plaintext sealed with AES-256-GCM, base64-encoded with
// the nonce prepended.
func (c *CredentialCipher) Encrypt(plaintext string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (c *CredentialCipher) Decrypt(ciphertext string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("security: decode ciphertext: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("security: ciphertext too short")
	}
	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("security: decrypt: %w", err)
	}
	return string(plaintext), nil
}

func (c *CredentialCipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
