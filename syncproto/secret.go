package syncproto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSecret returns the hex encoded SHA-256 of an agent secret. This is the only
// form of the credential that is ever persisted cloud side.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short, non-reversible identifier of a secret that is safe to log
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	return HashSecret(secret)[:12]
}
