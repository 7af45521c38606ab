// Package passwordreset stores single-use password reset secrets by hash.
package passwordreset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "reset:"

// Record is what a reset secret resolves to.
type Record struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store keeps reset:<hash> keys with a TTL. The raw secret is never stored.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Save stores rec under secretHash for ttl.
func (s *Store) Save(ctx context.Context, secretHash string, rec Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode reset record: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+secretHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("save reset record: %w", err)
	}
	return nil
}

// Consume atomically reads and deletes the record (GETDEL), so a secret works at
// most once. Returns nil, nil when absent or expired.
func (s *Store) Consume(ctx context.Context, secretHash string) (*Record, error) {
	data, err := s.rdb.GetDel(ctx, keyPrefix+secretHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume reset record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode reset record: %w", err)
	}
	return &rec, nil
}
