// Package vault provides symmetric encryption for stored platform credentials.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// keySize is the AES-256 key length in bytes.
const keySize = 32

// ErrDecryptFailure is returned when a token is malformed or was not
// produced with the vault's key.
var ErrDecryptFailure = errors.New("vault: decrypt failure")

// Vault encrypts and decrypts credential blobs with a process-wide AES-256-GCM
// key. The key is fixed for the vault's lifetime; rotation is out of scope.
type Vault struct {
	aead cipher.AEAD
}

// VaultOpts holds parameters for creating a Vault.
type VaultOpts struct {
	// KeyHex is the 64-hex-char encryption key. When empty, a random key is
	// generated for the process lifetime: credentials encrypted with it do
	// not survive a restart unless the key is externalized.
	KeyHex string
}

// New creates a Vault from the configured key, or a generated one when the
// configuration supplies none.
func New(opts VaultOpts) (*Vault, error) {
	var key []byte
	if opts.KeyHex != "" {
		decoded, err := hex.DecodeString(opts.KeyHex)
		if err != nil {
			return nil, fmt.Errorf("vault: decode key: %w", err)
		}
		if len(decoded) != keySize {
			return nil, fmt.Errorf("vault: key must be %d bytes, got %d", keySize, len(decoded))
		}
		key = decoded
	} else {
		key = make([]byte, keySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("vault: generate key: %w", err)
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext with a random nonce and returns a single token in
// the form "nonceHex:cipherHex".
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt splits and opens a token produced by Encrypt. Malformed tokens,
// tampered ciphertext, and key mismatches all yield ErrDecryptFailure.
func (v *Vault) Decrypt(token string) (string, error) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: malformed token", ErrDecryptFailure)
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != v.aead.NonceSize() {
		return "", fmt.Errorf("%w: bad nonce", ErrDecryptFailure)
	}
	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", ErrDecryptFailure)
	}
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailure, err)
	}
	return string(plaintext), nil
}
