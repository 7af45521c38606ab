package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"credential-lifecycle/backend/internal/session/domain"
)

const (
	sessionKeyPrefix = "session:"
	indexKeyPrefix   = "user_sessions:"
	pruneScanCount   = 100
)

// deleteAllScript deletes every session listed in the user index and the index
// itself in one step, so a session saved concurrently is either deleted or
// indexed afresh, never orphaned.
const deleteAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  n = n + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return n
`

var deleteAllLua = redis.NewScript(deleteAllScript)

// RedisRepository stores sessions as JSON under session:<userID>:<sessionID>
// with a per-user set user_sessions:<userID> of session ids. Bulk removal goes
// through the set, never a keyspace scan.
type RedisRepository struct {
	rdb *redis.Client
}

// NewRedisRepository returns a session repository backed by rdb.
func NewRedisRepository(rdb *redis.Client) *RedisRepository {
	return &RedisRepository{rdb: rdb}
}

func sessionKey(userID, sessionID string) string {
	return sessionKeyPrefix + userID + ":" + sessionID
}

func indexKey(userID string) string {
	return indexKeyPrefix + userID
}

// Save writes the session and indexes it. The index TTL is refreshed to ttl so
// it never outlives the newest session it lists by more than one TTL.
func (r *RedisRepository) Save(ctx context.Context, s *domain.Session, ttl time.Duration) error {
	if s == nil || s.UserID == "" || s.ID == "" {
		return errors.New("session: user id and session id are required")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	idx := indexKey(s.UserID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(s.UserID, s.ID), data, ttl)
		pipe.SAdd(ctx, idx, s.ID)
		pipe.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ListByUser returns the user's live sessions. Index members whose key has
// expired are skipped.
func (r *RedisRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	ids, err := r.rdb.SMembers(ctx, indexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(userID, id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*domain.Session, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var s domain.Session
		if err := json.Unmarshal([]byte(str), &s); err != nil {
			continue
		}
		out = append(out, &s)
	}
	return out, nil
}

func (r *RedisRepository) Delete(ctx context.Context, userID, sessionID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(userID, sessionID))
		pipe.SRem(ctx, indexKey(userID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *RedisRepository) DeleteAllByUser(ctx context.Context, userID string) (int64, error) {
	n, err := deleteAllLua.Run(ctx, r.rdb, []string{indexKey(userID)}, sessionKeyPrefix+userID+":").Int64()
	if err != nil {
		return 0, fmt.Errorf("delete all sessions: %w", err)
	}
	return n, nil
}

// PruneIndexes drops index members whose session key has already expired.
// It walks index keys with SCAN and is meant for the maintenance worker only.
func (r *RedisRepository) PruneIndexes(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, indexKeyPrefix+"*", pruneScanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("scan session indexes: %w", err)
		}
		for _, idx := range keys {
			n, err := r.pruneIndex(ctx, idx)
			if err != nil {
				return removed, err
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (r *RedisRepository) pruneIndex(ctx context.Context, idx string) (int64, error) {
	userID := idx[len(indexKeyPrefix):]
	ids, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("read session index: %w", err)
	}
	var stale []any
	for _, id := range ids {
		exists, err := r.rdb.Exists(ctx, sessionKey(userID, id)).Result()
		if err != nil {
			return 0, fmt.Errorf("check session: %w", err)
		}
		if exists == 0 {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := r.rdb.SRem(ctx, idx, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("prune session index: %w", err)
	}
	return n, nil
}
