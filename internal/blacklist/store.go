// Package blacklist holds tombstones for access tokens revoked before their natural expiry.
package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"credential-lifecycle/backend/internal/security"
)

const keyPrefix = "blacklist:"

// Store keeps one key per revoked token, named by the token's SHA-256, that
// expires exactly when the token would.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func key(token string) string {
	return keyPrefix + security.HashOpaqueSecret(token)
}

// Add blacklists token for ttl. A token with no remaining lifetime is already
// unusable, so nothing is written.
func (s *Store) Add(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.rdb.Set(ctx, key(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// Contains reports whether token is blacklisted.
func (s *Store) Contains(ctx context.Context, token string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return n == 1, nil
}
