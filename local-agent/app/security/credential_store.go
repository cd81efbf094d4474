// Package security keeps the agent's authentication secret encrypted at rest
// with a key bound to the local machine.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoCredential is returned by Load when no credential has been saved
	ErrNoCredential = errors.New("no credential stored")
	// ErrWrongHost is returned when a credential cannot be decrypted on this host
	ErrWrongHost = errors.New("credential was not protected on this host")
)

// Protector encrypts and decrypts data with a host scoped key
type Protector interface {
	Protect(plaintext []byte) ([]byte, error)
	Unprotect(ciphertext []byte) ([]byte, error)
}

// CredentialStore persists the agent secret in host protected form
type CredentialStore struct {
	path      string
	protector Protector
}

// NewCredentialStore creates a credential store at path using protector.
// A nil protector selects the platform default.
func NewCredentialStore(path string, protector Protector) (*CredentialStore, error) {
	if protector == nil {
		p, err := NewHostProtector()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize host protector: %w", err)
		}
		protector = p
	}
	return &CredentialStore{path: path, protector: protector}, nil
}

// Save encrypts secret and writes it to disk with owner only permissions
func (s *CredentialStore) Save(secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("secret must not be empty")
	}

	sealed, err := s.protector.Protect([]byte(secret))
	if err != nil {
		return fmt.Errorf("failed to protect credential: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

// Load reads and decrypts the stored secret
func (s *CredentialStore) Load() (string, error) {
	sealed, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("failed to read credential file: %w", err)
	}

	plain, err := s.protector.Unprotect(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Exists reports whether a credential file is present
func (s *CredentialStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
