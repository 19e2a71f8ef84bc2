package security

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
)

const (
	secretKeyEnv     = "PORTAL_ENCRYPTION_KEY"
	EncryptionPrefix = "enc:"
)

var (
	secretCipherOnce sync.Once
	secretCipherInst *secretCipher
	secretCipherErr  error
)

type secretCipher struct {
	gcm cipher.AEAD
}

func getSecretCipher() (*secretCipher, error) {
	secretCipherOnce.Do(func() {
		rawKey := strings.TrimSpace(os.Getenv(secretKeyEnv))
		if rawKey == "" {
			secretCipherErr = errors.New("encryption key not set: " + secretKeyEnv)
			return
		}

		key, err := deriveSecretKey(rawKey)
		if err != nil {
			secretCipherErr = fmt.Errorf("derive key: %w", err)
			return
		}

		block, err := aes.NewCipher(key)
		if err != nil {
			secretCipherErr = fmt.Errorf("create cipher: %w", err)
			return
		}

		gcm, err := cipher.NewGCM(block)
		if err != nil {
			secretCipherErr = fmt.Errorf("create gcm: %w", err)
			return
		}

		secretCipherInst = &secretCipher{gcm: gcm}
	})

	return secretCipherInst, secretCipherErr
}

func deriveSecretKey(raw string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err == nil {
		return normalizeKey(decoded), nil
	}

	sum := sha256.Sum256([]byte(raw))
	return sum[:], nil
}

func normalizeKey(key []byte) []byte {
	switch len(key) {
	case 16, 24, 32:
		return key
	default:
		sum := sha256.Sum256(key)
		return sum[:]
	}
}

// EncryptSecret seals a credential so it can live in the settings file.
func EncryptSecret(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	sc, err := getSecretCipher()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, sc.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	cipherText := sc.gcm.Seal(nil, nonce, []byte(plain), nil)
	payload := append(nonce, cipherText...)

	return EncryptionPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptSecret returns the plaintext of a possibly encrypted value. The
// second return reports whether the input carried the encryption prefix.
func DecryptSecret(value string) (string, bool, error) {
	if value == "" {
		return "", false, nil
	}

	if !strings.HasPrefix(value, EncryptionPrefix) {
		return value, false, nil
	}

	encoded := strings.TrimPrefix(value, EncryptionPrefix)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", true, fmt.Errorf("decode ciphertext: %w", err)
	}

	sc, err := getSecretCipher()
	if err != nil {
		return "", true, err
	}

	nonceSize := sc.gcm.NonceSize()
	if len(data) <= nonceSize {
		return "", true, errors.New("ciphertext too short")
	}

	nonce := data[:nonceSize]
	cipherText := data[nonceSize:]

	plain, err := sc.gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return "", true, fmt.Errorf("decrypt ciphertext: %w", err)
	}

	return string(plain), true, nil
}

func IsSecretEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptionPrefix)
}

func ResetSecretCipherForTests() {
	secretCipherOnce = sync.Once{}
	secretCipherInst = nil
	secretCipherErr = nil
}
