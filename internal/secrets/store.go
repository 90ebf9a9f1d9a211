// Package secrets implements the at-rest encryption half of C2: per-value
// AEAD sealing of provider API keys and other sensitive config fields,
// backed by a single key file generated on first use.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keyFileName = ".secret_key"
	encPrefix   = "enc2:"
	keyLen      = chacha20poly1305.KeySize // 32
)

// Store encrypts and decrypts string values with a single symmetric key
// persisted next to the runtime's other on-disk state. When Encrypt is
// disabled it is a transparent passthrough, which lets local/dev setups
// keep plaintext config without branching call sites.
type Store struct {
	root    string
	encrypt bool
}

// New returns a Store rooted at dir. If encrypt is false, Encrypt returns
// values unchanged; Decrypt still opens enc2:-prefixed values, which loads
// the key file (or creates one if it is missing).
func New(dir string, encrypt bool) *Store {
	return &Store{root: dir, encrypt: encrypt}
}

// IsEncrypted reports whether value carries the enc2: ciphertext prefix.
func IsEncrypted(value string) bool {
	return len(value) >= len(encPrefix) && value[:len(encPrefix)] == encPrefix
}

// Encrypt seals plaintext under the store's key, returning an enc2:-prefixed
// hex string. Empty values and already-encrypted values pass through
// untouched, and encryption is skipped entirely when the store was
// constructed with encrypt=false.
func (s *Store) Encrypt(plaintext string) (string, error) {
	if !s.encrypt || plaintext == "" || IsEncrypted(plaintext) {
		return plaintext, nil
	}

	key, err := s.loadOrCreateKey()
	if err != nil {
		return "", fmt.Errorf("secrets: load key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("secrets: init cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)
	combined := append(nonce, ciphertext...)
	return encPrefix + hex.EncodeToString(combined), nil
}

// Decrypt opens an enc2:-prefixed value. Plaintext values (no prefix) are
// returned unchanged, so callers can run every stored value through
// Decrypt without first checking IsEncrypted.
func (s *Store) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	combined, err := hex.DecodeString(value[len(encPrefix):])
	if err != nil {
		return "", fmt.Errorf("secrets: invalid hex in encrypted value: %w", err)
	}
	if len(combined) < chacha20poly1305.NonceSize {
		return "", fmt.Errorf("secrets: encrypted value too short")
	}
	nonce, ciphertext := combined[:chacha20poly1305.NonceSize], combined[chacha20poly1305.NonceSize:]

	key, err := s.loadOrCreateKey()
	if err != nil {
		return "", fmt.Errorf("secrets: load key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("secrets: init cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// DecryptAndMigrate decrypts value and, if it was plaintext (no prefix) and
// the store has encryption enabled, returns the freshly encrypted form
// alongside the plaintext so the caller can persist the migrated value back
// to config. migrated is false when nothing changed.
func (s *Store) DecryptAndMigrate(value string) (plaintext string, reEncrypted string, migrated bool, err error) {
	plaintext, err = s.Decrypt(value)
	if err != nil {
		return "", "", false, err
	}
	if !s.encrypt || IsEncrypted(value) || plaintext == "" {
		return plaintext, value, false, nil
	}
	reEncrypted, err = s.Encrypt(plaintext)
	if err != nil {
		return "", "", false, err
	}
	return plaintext, reEncrypted, true, nil
}

func (s *Store) keyPath() string {
	return filepath.Join(s.root, keyFileName)
}

func (s *Store) loadOrCreateKey() ([]byte, error) {
	path := s.keyPath()
	data, err := os.ReadFile(path)
	if err == nil {
		key, decErr := hex.DecodeString(trimNewline(data))
		if decErr != nil {
			return nil, fmt.Errorf("invalid hex in key file: %w", decErr)
		}
		if len(key) != keyLen {
			return nil, fmt.Errorf("key file has invalid length (expected %d bytes, got %d)", keyLen, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

func trimNewline(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return string(b)
}
