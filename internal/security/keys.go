package security

import (
	"errors"
	"os"
	"strings"
)

// ErrInvalidKey is returned when the signing secret is empty or unreadable.
var ErrInvalidKey = errors.New("invalid key")

const filePrefix = "file://"

// LoadSigningSecret returns the HMAC secret from s. A file:// prefix reads the
// secret from that path (trailing newline trimmed); anything else is the secret itself.
// The result must be at least MinSecretBytes long.
func LoadSigningSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	var secret []byte
	if path, ok := strings.CutPrefix(s, filePrefix); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		secret = []byte(strings.TrimRight(string(b), "\r\n"))
	} else {
		secret = []byte(s)
	}
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	return secret, nil
}
