package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"

	"github.com/nhle/tmail/internal/model"
)

const serviceName = "tmail"

// TokenKey is the keyring key holding the Fastmail API token.
const TokenKey = "api-token"

// ErrNotFound is returned when no credential is stored under a key.
var ErrNotFound = errors.New("credential not found")

// Store persists secrets in the system keyring, or in an encrypted
// file when no keyring service is available.
type Store struct {
	cfg keyring.Config
}

// New returns a Store configured from cfg. Backend "file" forces the
// encrypted file backend; "keyring" excludes it.
func New(cfg model.CredentialConfig) *Store {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	switch cfg.Backend {
	case "file":
		backends = []keyring.BackendType{keyring.FileBackend}
	case "keyring":
		backends = backends[:len(backends)-1]
	}

	return &Store{cfg: keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("tmail-file-key"),
		KeychainTrustApplication: true,
	}}
}

// open returns a configured keyring instance.
func (s *Store) open() (keyring.Keyring, error) {
	ring, err := keyring.Open(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	ring, err := s.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key string, value string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       "tmail " + key,
		Description: "Fastmail API token",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key. Deleting a missing key is not an
// error.
func (s *Store) Delete(key string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
