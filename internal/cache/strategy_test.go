package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nowplaying-bridge/nowplaying-bridge/internal/encryption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

func newTestAEAD(t *testing.T) tink.AEAD {
	t.Helper()

	primitive, err := encryption.NewTestAEAD()
	require.NoError(t, err)

	return primitive
}

func writeTestKeyset(t *testing.T) string {
	t.Helper()

	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keyset.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, insecurecleartextkeyset.Write(handle, keyset.NewJSONWriter(f)))

	return path
}

func TestNoEncryptionStrategy(t *testing.T) {
	s := &NoEncryptionStrategy{}

	input := []byte(`{"token":"BQD"}`)
	stored, err := s.EncryptValue(input, "slot")
	require.NoError(t, err)
	assert.Equal(t, string(input), stored)

	output, err := s.DecryptValue(stored, "slot")
	require.NoError(t, err)
	assert.Equal(t, input, output)

	assert.Equal(t, "slot", s.StorageKey("slot"))
	assert.NoError(t, s.Close())
}

func TestTinkEncryptionStrategy_RoundTrip(t *testing.T) {
	s := NewTinkEncryptionStrategy(newTestAEAD(t))

	input := []byte(`{"token":"BQD"}`)

	stored, err := s.EncryptValue(input, "digest:spotify-access-token")
	require.NoError(t, err)
	assert.Greater(t, len(stored), len(valuePrefix))
	assert.Equal(t, valuePrefix, stored[:len(valuePrefix)])
	assert.NotContains(t, stored, "BQD")

	output, err := s.DecryptValue(stored, "digest:spotify-access-token")
	require.NoError(t, err)
	assert.Equal(t, input, output)
}

func TestTinkEncryptionStrategy_KeyBoundAsAssociatedData(t *testing.T) {
	s := NewTinkEncryptionStrategy(newTestAEAD(t))

	stored, err := s.EncryptValue([]byte("secret"), "key-a")
	require.NoError(t, err)

	_, err = s.DecryptValue(stored, "key-b")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestTinkEncryptionStrategy_RejectsPlaintext(t *testing.T) {
	s := NewTinkEncryptionStrategy(newTestAEAD(t))

	_, err := s.DecryptValue(`{"token":"BQD"}`, "slot")
	assert.ErrorContains(t, err, "missing")

	_, err = s.DecryptValue(valuePrefix+"%%%", "slot")
	assert.ErrorContains(t, err, "base64 decode failed")
}

func TestTinkEncryptionStrategy_StorageKey(t *testing.T) {
	s := NewTinkEncryptionStrategy(newTestAEAD(t))

	assert.Equal(t, "enc:slot", s.StorageKey("slot"))
	assert.Equal(t, "enc:", s.StorageKey(""))
}

func TestNewTinkEncryptionStrategyFromFile(t *testing.T) {
	path := writeTestKeyset(t)

	s, err := NewTinkEncryptionStrategyFromFile(path)
	require.NoError(t, err)
	defer func() { assert.NoError(t, s.Close()) }()

	stored, err := s.EncryptValue([]byte("secret"), "slot")
	require.NoError(t, err)

	output, err := s.DecryptValue(stored, "slot")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), output)
}

func TestNewTinkEncryptionStrategyFromFile_Missing(t *testing.T) {
	_, err := NewTinkEncryptionStrategyFromFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorContains(t, err, "opening keyset")
}
