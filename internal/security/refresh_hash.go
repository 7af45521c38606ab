package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// refreshSecretBytes is 256 bits of CSPRNG output per refresh or reset secret.
const refreshSecretBytes = 32

// MintRefreshSecret returns a new opaque secret, base64url-encoded without padding.
// It carries no claims; it is only a lookup key.
func MintRefreshSecret() (string, error) {
	b := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashOpaqueSecret returns a SHA-256 hash of the secret, hex-encoded.
// Used for storing and looking up refresh and reset secrets without storing the raw value.
func HashOpaqueSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}
