// Package security implements the toolkit's CSRF, sanitization, and
// encryption primitives (§4.4), with encryption built as an AES-256-GCM
// string-envelope codec.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"corekit.dev/errs"
)

const (
	keySize   = 32 // AES-256
	tagSize   = 16 // GCM authentication tag
	nonceSize = 12 // GCM standard nonce length
)

// GenerateKey returns a fresh 32-byte AES-256 key, hex-encoded to 64
// characters, drawn from a CSPRNG.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", errs.Wrap(errs.Configuration, "generate encryption key", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext under key (aad optional) with AES-256-GCM,
// returning the envelope `hex(iv):hex(ciphertext):hex(tag)`.
func Encrypt(plaintext []byte, key, aad []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", errs.New(errs.InvalidArgument, "plaintext must not be empty")
	}
	if len(key) != keySize {
		return "", errs.Newf(errs.InvalidArgument, "key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errs.Wrap(errs.Configuration, "build AES cipher", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return "", errs.Wrap(errs.Configuration, "build GCM mode", err)
	}

	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return "", errs.Wrap(errs.Configuration, "generate iv", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, aad)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(ciphertext),
		hex.EncodeToString(tag),
	}, ":"), nil
}

// Decrypt opens an envelope produced by Encrypt. Any authentication
// failure — tampering, wrong key, or mismatched aad — surfaces uniformly
// as AuthenticationFailed, never distinguishing the cause per §4.4.3.
func Decrypt(envelope string, key, aad []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, errs.Newf(errs.InvalidArgument, "key must be %d bytes, got %d", keySize, len(key))
	}

	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return nil, errs.New(errs.InvalidArgument, "malformed envelope: expected three colon-separated parts")
	}

	iv, err1 := hex.DecodeString(parts[0])
	ciphertext, err2 := hex.DecodeString(parts[1])
	tag, err3 := hex.DecodeString(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, errs.New(errs.InvalidArgument, "malformed envelope: invalid hex encoding")
	}
	if len(iv) != nonceSize {
		return nil, errs.Newf(errs.InvalidArgument, "invalid iv length: expected %d, got %d", nonceSize, len(iv))
	}
	if len(tag) != tagSize {
		return nil, errs.Newf(errs.InvalidArgument, "invalid tag length: expected %d, got %d", tagSize, len(tag))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "build AES cipher", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "build GCM mode", err)
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, errs.New(errs.AuthenticationFailed, "decryption authentication failed")
	}
	return plaintext, nil
}
