// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// EncryptedPrefix marks a value as encrypted (format: ENC:base64(nonce|ciphertext|tag))
const EncryptedPrefix = "ENC:"

// NonceSize is the size of the nonce/IV for AES-GCM (12 bytes / 96 bits)
const NonceSize = 12

// KeySize is the size of the AES-256 key (32 bytes / 256 bits)
const KeySize = 32

// SaltSize is the size of the salt for key derivation (32 bytes)
const SaltSize = 32

// PBKDF2Iterations is the number of iterations for PBKDF2 key derivation.
// OWASP 2023 recommends 600,000+ for PBKDF2-SHA-256 to provide adequate
// resistance against brute-force attacks with modern hardware.
const PBKDF2Iterations = 600000

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidCiphertext indicates the ciphertext format is invalid
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrDecryptionFailed indicates decryption failed (wrong key or tampered data)
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// =============================================================================
// HELPERS
// =============================================================================

// ZeroBytes zeros sensitive byte slices.
// SECURITY: Zero key material to prevent memory disclosure via crash dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateSalt generates a cryptographically secure random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives an encryption key from a secret and salt using
// PBKDF2-SHA-256 per NIST SP 800-132.
func DeriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// IsEncrypted reports whether a stored value carries the encryption marker.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// =============================================================================
// CIPHER
// =============================================================================

// Cipher encrypts and decrypts individual store values with AES-256-GCM.
// A single Cipher is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD

	mu           sync.Mutex
	nonceCounter uint64
}

// NewCipher creates a Cipher from a raw 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return &Cipher{aead: gcm}, nil
}

// NewCipherFromKeyFile creates a Cipher keyed from a machine-local key file.
// On first use it generates a random secret at path and a salt at path+".salt"
// (mode 0600, parent directory 0700); later calls derive the same key from
// the stored material. The working key is derived with PBKDF2-SHA-256, so the
// store file alone is useless without the key file.
func NewCipherFromKeyFile(path string) (*Cipher, error) {
	saltPath := path + ".salt"

	secret, err := os.ReadFile(path)
	switch {
	case err == nil:
		salt, serr := os.ReadFile(saltPath)
		if serr != nil {
			return nil, fmt.Errorf("key file has no salt file %s: %w", saltPath, serr)
		}
		key := DeriveKey(string(secret), salt)
		// SECURITY: Zero key material to prevent memory disclosure
		defer ZeroBytes(key)
		defer ZeroBytes(secret)
		return NewCipher(key)

	case os.IsNotExist(err):
		// First use: generate fresh keying material. The salt lands first so
		// a crash between the two writes leaves no orphaned secret; the
		// loader requires both files once the secret exists.
		salt, gerr := GenerateSalt()
		if gerr != nil {
			return nil, gerr
		}
		newSecret := make([]byte, KeySize)
		if _, gerr := io.ReadFull(rand.Reader, newSecret); gerr != nil {
			return nil, fmt.Errorf("failed to generate key secret: %w", gerr)
		}
		defer ZeroBytes(newSecret)

		if werr := util.AtomicWriteFile(saltPath, salt, 0600); werr != nil {
			return nil, fmt.Errorf("failed to write salt file: %w", werr)
		}
		if werr := util.AtomicWriteFile(path, newSecret, 0600); werr != nil {
			return nil, fmt.Errorf("failed to write key file: %w", werr)
		}

		key := DeriveKey(string(newSecret), salt)
		// SECURITY: Zero key material to prevent memory disclosure
		defer ZeroBytes(key)
		return NewCipher(key)

	default:
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
}

// =============================================================================
// ENCRYPTION OPERATIONS
// =============================================================================

// nextNonce builds a 12-byte nonce. The counter occupies the first 8 bytes so
// nonces stay unique within a process; the random tail covers concurrent
// processes sharing a key file.
func (c *Cipher) nextNonce() ([]byte, error) {
	c.mu.Lock()
	c.nonceCounter++
	counter := c.nonceCounter
	c.mu.Unlock()

	nonce := make([]byte, NonceSize)
	for i := 0; i < 8; i++ {
		nonce[i] = byte(counter >> (i * 8))
	}
	if _, err := io.ReadFull(rand.Reader, nonce[8:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns: nonce || ciphertext || tag
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce, err := c.nextNonce()
	if err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext encrypted with AES-256-GCM.
// Input format: nonce || ciphertext || tag
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce := ciphertext[:NonceSize]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptString encrypts a string and returns base64-encoded ciphertext with
// the ENC: prefix.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	ciphertext, err := c.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString decrypts a base64-encoded string with the ENC: prefix.
// Values written before encryption was enabled pass through unchanged.
func (c *Cipher) DecryptString(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	encoded := strings.TrimPrefix(value, EncryptedPrefix)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: bad base64: %v", ErrInvalidCiphertext, err)
	}

	plaintext, err := c.Decrypt(data)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
