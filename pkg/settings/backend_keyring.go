package settings

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keyring service name entries are stored under.
const DefaultKeyringService = "rehearsal"

// KeyringBackend stores values in the OS keyring (Keychain, Secret Service, Credential Manager).
// It is meant for the API token; the settings object stays in a file.
type KeyringBackend struct {
	service string
}

func NewKeyringBackend(service string) *KeyringBackend {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringBackend{service: service}
}

func (b *KeyringBackend) Get(key string) (string, bool, error) {
	v, err := keyring.Get(b.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keyring get %s: %w", key, err)
	}
	return v, true, nil
}

func (b *KeyringBackend) Set(key, value string) error {
	if value == "" {
		err := keyring.Delete(b.service, key)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("keyring delete %s: %w", key, err)
		}
		return nil
	}
	if err := keyring.Set(b.service, key, value); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	return nil
}
