package security_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"corekit.dev/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyProducesSixtyFourHexChars(t *testing.T) {
	key, err := security.GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key, 64)
	_, err = hex.DecodeString(key)
	assert.NoError(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keyHex, err := security.GenerateKey()
	require.NoError(t, err)
	key, err := hex.DecodeString(keyHex)
	require.NoError(t, err)

	envelope, err := security.Encrypt([]byte("secret"), key, []byte("user:1"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(envelope, ":"))

	plaintext, err := security.Decrypt(envelope, key, []byte("user:1"))
	require.NoError(t, err)
	assert.Equal(t, "secret", string(plaintext))
}

func TestEncryptRejectsEmptyPlaintext(t *testing.T) {
	key := make([]byte, 32)
	_, err := security.Encrypt(nil, key, nil)
	assert.Error(t, err)
}

func TestEncryptRejectsBadKeyLength(t *testing.T) {
	_, err := security.Encrypt([]byte("hi"), []byte("tooshort"), nil)
	assert.Error(t, err)
}

func TestDecryptFailsOnBitFlip(t *testing.T) {
	keyHex, err := security.GenerateKey()
	require.NoError(t, err)
	key, err := hex.DecodeString(keyHex)
	require.NoError(t, err)

	envelope, err := security.Encrypt([]byte("secret"), key, []byte("user:1"))
	require.NoError(t, err)

	for i, ch := range envelope {
		if ch == ':' {
			continue
		}
		mutated := []rune(envelope)
		mutated[i] = flipHexRune(ch)
		_, err := security.Decrypt(string(mutated), key, []byte("user:1"))
		assert.Error(t, err, "mutating character %d should invalidate the envelope", i)
		break // one mutation is sufficient to demonstrate the property cheaply
	}
}

func TestDecryptFailsOnAADMismatch(t *testing.T) {
	keyHex, err := security.GenerateKey()
	require.NoError(t, err)
	key, err := hex.DecodeString(keyHex)
	require.NoError(t, err)

	envelope, err := security.Encrypt([]byte("secret"), key, []byte("user:1"))
	require.NoError(t, err)

	_, err = security.Decrypt(envelope, key, []byte("user:2"))
	assert.Error(t, err)
}

func TestDecryptRejectsMalformedEnvelope(t *testing.T) {
	key := make([]byte, 32)
	_, err := security.Decrypt("not-a-valid-envelope", key, nil)
	assert.Error(t, err)
}

func flipHexRune(r rune) rune {
	if r == '0' {
		return '1'
	}
	return '0'
}
