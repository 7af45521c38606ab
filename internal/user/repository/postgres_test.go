package repository

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credential-lifecycle/backend/internal/db"
	"credential-lifecycle/backend/internal/db/migrate"
	"credential-lifecycle/backend/internal/user/domain"
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

func newUser(now time.Time) *domain.User {
	return &domain.User{
		ID:           uuid.NewString(),
		Email:        "it-" + uuid.NewString()[:8] + "@example.com",
		PasswordHash: "$2a$04$placeholder",
		Role:         domain.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestPostgres_CreateAndLookupCaseInsensitive(t *testing.T) {
	repo := NewPostgresRepository(openTestPool(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := newUser(now)
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.GetByEmail(ctx, strings.ToUpper(u.Email))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, domain.RoleUser, got.Role)
	assert.Zero(t, got.FailedLoginAttempts)

	dup := newUser(now)
	dup.Email = strings.ToUpper(u.Email)
	assert.ErrorIs(t, repo.Create(ctx, dup), ErrEmailTaken)

	missing, err := repo.GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgres_ConcurrentFailuresAreNotLost(t *testing.T) {
	repo := NewPostgresRepository(openTestPool(t))
	ctx := context.Background()
	now := time.Now().UTC()
	u := newUser(now)
	require.NoError(t, repo.Create(ctx, u))

	const attempts = 8
	lockUntil := now.Add(15 * time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.IncrementFailedAttempts(ctx, u.ID, 5, lockUntil, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, attempts, got.FailedLoginAttempts)
	require.NotNil(t, got.LockedUntil)

	ok, err := repo.UpdateLastLogin(ctx, u.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "login must not succeed while locked")

	ok, err = repo.UpdateLastLogin(ctx, u.ID, lockUntil.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedLoginAttempts)
	assert.Nil(t, got.LockedUntil)
	assert.NotNil(t, got.LastLogin)
}

func TestPostgres_ResetPasswordRevokesAndUnlocks(t *testing.T) {
	pool := openTestPool(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC()
	u := newUser(now)
	require.NoError(t, repo.Create(ctx, u))
	_, err := repo.IncrementFailedAttempts(ctx, u.ID, 1, now.Add(time.Hour), now)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := pool.Exec(ctx, `
			INSERT INTO refresh_tokens (id, user_id, session_id, token_hash, expires_at, revoked, created_at)
			VALUES ($1, $2, $3, $4, $5, false, $6)`,
			uuid.NewString(), u.ID, uuid.NewString(), uuid.NewString(), now.Add(time.Hour), now)
		require.NoError(t, err)
	}

	revoked, err := repo.ResetPassword(ctx, u.ID, "$2a$04$replaced", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "$2a$04$replaced", got.PasswordHash)
	assert.Zero(t, got.FailedLoginAttempts)
	assert.Nil(t, got.LockedUntil)

	var live int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM refresh_tokens WHERE user_id = $1 AND revoked = false`, u.ID).Scan(&live))
	assert.Zero(t, live)

	_, err = repo.ResetPassword(ctx, uuid.NewString(), "$2a$04$replaced", now)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
