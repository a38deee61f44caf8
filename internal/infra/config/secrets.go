package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
)

// KeyringService is the OS keychain service name API keys are stored under.
const KeyringService = "aichat"

const (
	encPrefix     = "enc:"
	keyringPrefix = "keyring:"
)

// ErrSecretNotFound is returned by a SecretLookup for unknown entries.
var ErrSecretNotFound = errors.New("secret not found")

// SecretLookup fetches a secret by name from an external store.
type SecretLookup func(name string) (string, error)

// KeyringLookup reads a secret from the OS keychain.
func KeyringLookup(name string) (string, error) {
	v, err := keyring.Get(KeyringService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: keyring entry %q", ErrSecretNotFound, name)
	}
	return v, err
}

// StoreKeyring saves secret in the OS keychain under name. The returned
// reference can be written to a config file in place of the key.
func StoreKeyring(name, secret string) (string, error) {
	if name == "" {
		return "", errors.New("keyring: name is required")
	}
	if secret == "" {
		return "", errors.New("keyring: secret is empty")
	}
	if err := keyring.Set(KeyringService, name, secret); err != nil {
		return "", fmt.Errorf("keyring set: %w", err)
	}
	return keyringPrefix + name, nil
}

// DeleteKeyring removes a keychain entry. Missing entries are ignored.
func DeleteKeyring(name string) error {
	err := keyring.Delete(KeyringService, name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}

// ResolveSecrets replaces "enc:..." provider keys with their decrypted form
// and "keyring:<name>" keys with the keychain value. An enc: value without a
// passphrase is an error.
func ResolveSecrets(cfg *Config, passphrase string, lookup SecretLookup) error {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		v, err := resolveSecret(p.APIKey, passphrase, lookup)
		if err != nil {
			return fmt.Errorf("provider %q api key: %w", p.ID, err)
		}
		p.APIKey = v
	}
	return nil
}

// ResolveAPIKey resolves a single enc: or keyring: value using
// AICHAT_CONFIG_KEY and the OS keychain. Plain values are returned unchanged.
func ResolveAPIKey(value string) (string, error) {
	return resolveSecret(value, os.Getenv("AICHAT_CONFIG_KEY"), KeyringLookup)
}

func resolveSecret(value, passphrase string, lookup SecretLookup) (string, error) {
	switch {
	case strings.HasPrefix(value, encPrefix):
		if passphrase == "" {
			return "", errors.New("encrypted value but AICHAT_CONFIG_KEY is not set")
		}
		return DecryptValue(strings.TrimPrefix(value, encPrefix), passphrase)
	case strings.HasPrefix(value, keyringPrefix):
		if lookup == nil {
			return "", errors.New("keyring reference but no keyring available")
		}
		return lookup(strings.TrimPrefix(value, keyringPrefix))
	default:
		return value, nil
	}
}

// EncryptValue encrypts plaintext with AES-256-GCM under a key derived from
// passphrase. The result has the form hex(salt):hex(nonce+ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue reverses EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", errors.New("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 64 MiB, 4 threads.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
