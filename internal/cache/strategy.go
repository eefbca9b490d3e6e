package cache

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/nowplaying-bridge/nowplaying-bridge/internal/encryption"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// valuePrefix marks encrypted values so that plaintext entries written before
// encryption was enabled are rejected rather than misread.
const valuePrefix = "np-enc:"

// storageKeyPrefix separates encrypted entries from plaintext ones.
const storageKeyPrefix = "enc:"

// EncryptionStrategy controls how values are written to a shared cache.
type EncryptionStrategy interface {
	// EncryptValue seals value. The key is bound as associated data so a
	// ciphertext cannot be replayed under another key.
	EncryptValue(value []byte, key string) (string, error)

	// DecryptValue opens a value sealed for key.
	DecryptValue(stored string, key string) ([]byte, error)

	// StorageKey returns the key as written to the store.
	StorageKey(key string) string

	Close() error
}

// NoEncryptionStrategy stores values as-is.
type NoEncryptionStrategy struct{}

func (s *NoEncryptionStrategy) EncryptValue(value []byte, _ string) (string, error) {
	return string(value), nil
}

func (s *NoEncryptionStrategy) DecryptValue(stored string, _ string) ([]byte, error) {
	return []byte(stored), nil
}

func (s *NoEncryptionStrategy) StorageKey(key string) string {
	return key
}

func (s *NoEncryptionStrategy) Close() error {
	return nil
}

// TinkEncryptionStrategy seals values with a Tink AEAD primitive, then
// base64-encodes and prefixes them.
type TinkEncryptionStrategy struct {
	aead tink.AEAD
}

func NewTinkEncryptionStrategy(primitive tink.AEAD) *TinkEncryptionStrategy {
	return &TinkEncryptionStrategy{aead: primitive}
}

// NewTinkEncryptionStrategyFromFile loads a cleartext JSON keyset, re-reading
// it periodically so that a rotated keyset takes effect without a restart.
func NewTinkEncryptionStrategyFromFile(path string) (*TinkEncryptionStrategy, error) {
	primitive, err := encryption.NewRefreshableAEAD(path, encryption.DefaultRefreshInterval)
	if err != nil {
		return nil, err
	}

	return NewTinkEncryptionStrategy(primitive), nil
}

func (s *TinkEncryptionStrategy) EncryptValue(value []byte, key string) (string, error) {
	ciphertext, err := s.aead.Encrypt(value, []byte(key))
	if err != nil {
		return "", fmt.Errorf("encrypting value: %w", err)
	}
	return valuePrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *TinkEncryptionStrategy) DecryptValue(stored string, key string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(stored, valuePrefix)
	if !ok {
		return nil, fmt.Errorf("missing %q prefix: value may be unencrypted or corrupted", valuePrefix)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}

	plaintext, err := s.aead.Decrypt(ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

func (s *TinkEncryptionStrategy) StorageKey(key string) string {
	return storageKeyPrefix + key
}

func (s *TinkEncryptionStrategy) Close() error {
	if closer, ok := s.aead.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
