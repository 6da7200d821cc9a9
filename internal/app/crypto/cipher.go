// Package crypto provides the cryptographic primitives the recovery engine
// needs at rest and in transit: AES-256-GCM for OAuth tokens stored in the
// merchants table, an HKDF key-derivation helper (DeriveKey), and
// HMAC-SHA256 for signed open/click tracking URLs.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the required length, in bytes, of a token-encryption key.
const KeySize = 32

// DeriveKey derives a keyLen-byte key from masterKey using HKDF-SHA256,
// scoped by salt and info so the encryption key and the HMAC key used for
// tracking links can both be derived from one ENCRYPTION_KEY/SESSION_SECRET
// without ever sharing bytes.
func DeriveKey(masterKey, salt []byte, info string, keyLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterKey, salt, []byte(info))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// GenerateRandomBytes returns n cryptographically secure random bytes, used
// for OAuth CSRF state and the ephemeral development token key.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// HMACSign computes an HMAC-SHA256 signature over data.
func HMACSign(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// HMACVerify reports whether signature is the valid HMAC-SHA256 of data
// under key, using a constant-time comparison.
func HMACVerify(key, data, signature []byte) bool {
	return hmac.Equal(signature, HMACSign(key, data))
}

// Cipher encrypts and decrypts merchant OAuth tokens at rest.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESGCMCipher implements Cipher with AES-256-GCM: a random 16-byte nonce is
// prepended to the ciphertext, and the GCM auth tag is appended by Seal.
type AESGCMCipher struct {
	gcm cipher.AEAD
}

// NewAESGCMCipher builds an AESGCMCipher from a 32-byte key.
func NewAESGCMCipher(key []byte) (*AESGCMCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aes-gcm cipher: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes-gcm cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, fmt.Errorf("aes-gcm cipher: %w", err)
	}
	return &AESGCMCipher{gcm: gcm}, nil
}

// Encrypt seals plaintext, prepending the nonce to the returned ciphertext.
func (c *AESGCMCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("aes-gcm encrypt: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. A tampered ciphertext or
// wrong key fails authentication and returns an error.
func (c *AESGCMCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := c.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("aes-gcm decrypt: ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("aes-gcm decrypt: %w", err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// NoopCipher stores tokens in the clear. Only tests and explicitly
// insecure development setups should reach for it.
type NoopCipher struct{}

func (NoopCipher) Encrypt(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (NoopCipher) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

var _ Cipher = (*AESGCMCipher)(nil)
var _ Cipher = NoopCipher{}

// ParseEncryptionKey accepts a 64-character hex string (the documented
// ENCRYPTION_KEY format) and returns the decoded 32 raw bytes.
func ParseEncryptionKey(hexKey string) ([]byte, error) {
	if len(hexKey) != 64 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (32 bytes), got %d characters", len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY is not valid hex: %w", err)
	}
	return key, nil
}
