package security

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// bcryptMaxInput is the longest input bcrypt accepts; longer passwords are prehashed.
const bcryptMaxInput = 72

// ErrPasswordMismatch is returned by Compare when the password does not match the hash.
var ErrPasswordMismatch = bcrypt.ErrMismatchedHashAndPassword

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords. The number of concurrent bcrypt operations is
// bounded so a burst of logins cannot starve unrelated requests of CPU.
type Hasher struct {
	Cost int

	sem       *semaphore.Weighted
	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a Hasher with the given bcrypt cost (4–31) that runs at most
// maxConcurrent hashes at a time. Cost 12 is a reasonable default for interactive login.
func NewHasher(cost, maxConcurrent int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Hasher{Cost: cost, sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

// Hash produces a bcrypt hash of password. It waits for a hashing slot and
// returns ctx.Err() if the context ends first.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", errors.New("security: empty password")
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)
	b, err := bcrypt.GenerateFromPassword(prehash(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password against the stored hash using constant-time
// comparison. Returns nil on match, ErrPasswordMismatch on mismatch, and any
// other error for a malformed hash or a cancelled context.
func (h *Hasher) Compare(ctx context.Context, hash, password string) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.sem.Release(1)
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password))
}

// CompareDummy spends the same work as Compare against a fixed hash. Used when
// the account does not exist so response timing does not reveal it.
func (h *Hasher) CompareDummy(ctx context.Context, password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), h.Cost)
	})
	if h.dummy == nil {
		return
	}
	_ = h.Compare(ctx, string(h.dummy), password)
}

func prehash(password string) []byte {
	if len(password) <= bcryptMaxInput {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}
