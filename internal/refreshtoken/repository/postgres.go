package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"credential-lifecycle/backend/internal/refreshtoken/domain"
)

const tokenColumns = `id, user_id, session_id, token_hash, expires_at, revoked, revoked_at, revoked_reason, created_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a refresh token repository that uses the given pool for persistence.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create persists a new issued refresh token.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	if err := insertToken(ctx, r.pool, t); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// GetByHash returns the record for tokenHash regardless of state, or nil if not found.
// Revoked rows are returned so callers can tell a replayed rotated secret from an unknown one.
func (r *PostgresRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get refresh token by hash: %w", err)
	}
	return t, nil
}

// Rotate runs revoke-if-issued then insert in one transaction. The conditional revoke is the first
// statement: of two concurrent callers only one sees a row affected, and the other gets
// ErrNotRotatable with nothing written. A failure after the revoke rolls both back.
func (r *PostgresRepository) Rotate(ctx context.Context, currentID string, next *domain.RefreshToken, now time.Time) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked = true, revoked_at = $2, revoked_reason = $3
			WHERE id = $1 AND revoked = false AND expires_at > $2`,
			currentID, now, string(domain.ReasonRotated))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotRotatable
		}
		return insertToken(ctx, tx, next)
	})
	if err != nil {
		if errors.Is(err, ErrNotRotatable) {
			return ErrNotRotatable
		}
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	return nil
}

// RevokeByHash revokes the issued record with tokenHash. Returns nil, nil when no issued record matched.
func (r *PostgresRepository) RevokeByHash(ctx context.Context, tokenHash string, reason domain.RevocationReason, now time.Time) (*domain.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE refresh_tokens
		SET revoked = true, revoked_at = $2, revoked_reason = $3
		WHERE token_hash = $1 AND revoked = false
		RETURNING `+tokenColumns,
		tokenHash, now, string(reason))
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	return t, nil
}

// RevokeAllByUser revokes every issued record of userID in a single UPDATE.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string, reason domain.RevocationReason, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = true, revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND revoked = false`,
		userID, now, string(reason))
	if err != nil {
		return 0, fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteStale deletes expired records and revoked records past the retention cutoff.
func (r *PostgresRepository) DeleteStale(ctx context.Context, expiredBefore, revokedBefore time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1 OR (revoked = true AND revoked_at <= $2)`,
		expiredBefore, revokedBefore)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertToken(ctx context.Context, db execer, t *domain.RefreshToken) error {
	_, err := db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, session_id, token_hash, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)`,
		t.ID, t.UserID, t.SessionID, t.TokenHash, t.ExpiresAt, t.CreatedAt)
	return err
}

func scanToken(row pgx.Row) (*domain.RefreshToken, error) {
	var (
		t      domain.RefreshToken
		reason *string
	)
	if err := row.Scan(
		&t.ID, &t.UserID, &t.SessionID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &t.RevokedAt, &reason, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	if reason != nil {
		t.RevokedReason = domain.RevocationReason(*reason)
	}
	return &t, nil
}
