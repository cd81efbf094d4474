package security

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "tis-agent credential v1"

var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// AEADProtector seals data with XChaCha20-Poly1305 under a key derived from
// a machine identity. Data sealed on one host does not open on another.
type AEADProtector struct {
	key []byte
}

// NewAEADProtector derives a protector key from the given machine identity
func NewAEADProtector(machineIdentity string) (*AEADProtector, error) {
	if machineIdentity == "" {
		return nil, fmt.Errorf("machine identity must not be empty")
	}

	kdf := hkdf.New(sha256.New, []byte(machineIdentity), []byte("tis-agent"), []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return &AEADProtector{key: key}, nil
}

// Protect seals plaintext. The output is nonce || ciphertext.
func (p *AEADProtector) Protect(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(hkdfInfo)), nil
}

// Unprotect opens data produced by Protect on the same host
func (p *AEADProtector) Unprotect(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("credential file is truncated")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, []byte(hkdfInfo))
	if err != nil {
		return nil, ErrWrongHost
	}
	return plain, nil
}

// machineIdentity combines the OS machine id with the hostname
func machineIdentity() (string, error) {
	host, _ := os.Hostname()
	for _, path := range machineIDPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id + "/" + host, nil
		}
	}
	if host == "" {
		return "", fmt.Errorf("could not determine machine identity")
	}
	return host, nil
}
