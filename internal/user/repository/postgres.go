package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	refreshdomain "credential-lifecycle/backend/internal/refreshtoken/domain"
	"credential-lifecycle/backend/internal/user/domain"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, role, is_active, email_verified,
	failed_login_attempts, locked_until, last_login, created_at, updated_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a user repository that uses the given pool for persistence.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetByEmail returns the user with the given email (compared case-insensitively), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
// The unique index on lower(email) turns a concurrent duplicate into ErrEmailTaken.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, role, is_active, email_verified,
			failed_login_attempts, locked_until, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NULL, NULL, $7, $8)`,
		u.ID, u.Email, u.PasswordHash, string(u.Role), u.IsActive, u.EmailVerified, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// IncrementFailedAttempts performs the increment and the lock decision in one UPDATE. Every SET
// expression reads the pre-update row, and the row lock serializes concurrent failures.
func (r *PostgresRepository) IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (domain.LockState, error) {
	var state domain.LockState
	err := r.pool.QueryRow(ctx, `
		UPDATE users
		SET failed_login_attempts = CASE
		        WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN 1
		        ELSE failed_login_attempts + 1 END,
		    locked_until = CASE
		        WHEN (CASE WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN 1
		                   ELSE failed_login_attempts + 1 END) >= $2 THEN $3
		        WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN NULL
		        ELSE locked_until END,
		    updated_at = $4
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until`,
		id, threshold, lockUntil, now,
	).Scan(&state.FailedAttempts, &state.LockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LockState{}, nil
		}
		return domain.LockState{}, fmt.Errorf("increment failed attempts: %w", err)
	}
	return state, nil
}

// UpdateLastLogin is conditional on the account not being locked at now, so a correct password
// racing a lock-inducing failure can never clear that lock.
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET last_login = $2, failed_login_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1 AND (locked_until IS NULL OR locked_until <= $2)`, id, now)
	if err != nil {
		return false, fmt.Errorf("update last login: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetPassword revokes every issued refresh token of id, then replaces the password hash and
// clears the lockout counter, in one transaction. Either all three take effect or none does.
// Returns how many refresh tokens were revoked.
func (r *PostgresRepository) ResetPassword(ctx context.Context, id, passwordHash string, now time.Time) (int64, error) {
	var revoked int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked = true, revoked_at = $2, revoked_reason = $3
			WHERE user_id = $1 AND revoked = false`,
			id, now, string(refreshdomain.ReasonPasswordReset))
		if err != nil {
			return err
		}
		revoked = tag.RowsAffected()
		tag, err = tx.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
			id, passwordHash, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return resetFailedAttempts(ctx, tx, id, now)
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("reset password: %w", err)
	}
	return revoked, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// resetFailedAttempts zeroes the counter and clears any lock.
func resetFailedAttempts(ctx context.Context, db execer, id string, now time.Time) error {
	_, err := db.Exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1`, id, now)
	return err
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u    domain.User
		role string
	)
	if err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &role, &u.IsActive, &u.EmailVerified,
		&u.FailedLoginAttempts, &u.LockedUntil, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}
