package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credential-lifecycle/backend/internal/db"
	"credential-lifecycle/backend/internal/db/migrate"
	"credential-lifecycle/backend/internal/refreshtoken/domain"
)

func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	require.NoError(t, migrate.Run(dsn, migrate.Up))
	pool, err := db.Open(context.Background(), dsn, db.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// insertUser creates the owning users row the foreign key requires.
func insertUser(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, email, password_hash) VALUES ($1, $2, 'x')`,
		id, "rt-"+id[:8]+"@example.com")
	require.NoError(t, err)
	return id
}

func newToken(userID, sessionID string, now time.Time) *domain.RefreshToken {
	return &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		TokenHash: uuid.NewString(),
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
}

func TestPostgres_ConcurrentRotateHasOneWinner(t *testing.T) {
	pool := openTestPool(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()
	userID := insertUser(t, pool)
	current := newToken(userID, uuid.NewString(), now)
	require.NoError(t, repo.Create(ctx, current))

	const callers = 6
	var (
		wins, losses atomic.Int32
		wg           sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Rotate(ctx, current.ID, newToken(userID, current.SessionID, now), now)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrNotRotatable):
				losses.Add(1)
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(callers-1), losses.Load())

	got, err := repo.GetByHash(ctx, current.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StateRotated, got.State(now))

	var issued int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM refresh_tokens WHERE session_id = $1 AND revoked = false`,
		current.SessionID).Scan(&issued))
	assert.Equal(t, 1, issued)
}

func TestPostgres_RevokeAndDeleteStale(t *testing.T) {
	pool := openTestPool(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()
	userID := insertUser(t, pool)

	a := newToken(userID, uuid.NewString(), now)
	b := newToken(userID, uuid.NewString(), now)
	expired := newToken(userID, uuid.NewString(), now)
	expired.ExpiresAt = now.Add(-time.Minute)
	for _, tok := range []*domain.RefreshToken{a, b, expired} {
		require.NoError(t, repo.Create(ctx, tok))
	}

	revoked, err := repo.RevokeByHash(ctx, a.TokenHash, domain.ReasonLogout, now)
	require.NoError(t, err)
	require.NotNil(t, revoked)
	assert.Equal(t, domain.ReasonLogout, revoked.RevokedReason)

	again, err := repo.RevokeByHash(ctx, a.TokenHash, domain.ReasonLogout, now)
	require.NoError(t, err)
	assert.Nil(t, again)

	n, err := repo.RevokeAllByUser(ctx, userID, domain.ReasonLogoutAll, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	deleted, err := repo.DeleteStale(ctx, now, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))

	gone, err := repo.GetByHash(ctx, expired.TokenHash)
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := repo.GetByHash(ctx, a.TokenHash)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
