package repository

import (
	"context"
	"errors"
	"time"

	"credential-lifecycle/backend/internal/user/domain"
)

// ErrEmailTaken is returned by Create when another user already has the (case-insensitive) email.
var ErrEmailTaken = errors.New("email already registered")

// ErrUserNotFound is returned by ResetPassword when no user has the id. Nothing is changed.
var ErrUserNotFound = errors.New("user not found")

// Repository defines persistence for user credential records.
// Every mutation is a single row-level statement, or one transaction, so concurrent callers cannot lose updates.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// IncrementFailedAttempts adds one failure and sets locked_until = lockUntil once the new count
	// reaches threshold. A lock that has already lapsed at now starts a fresh count.
	IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (domain.LockState, error)
	// UpdateLastLogin records a successful login and resets the counter, but only while the account
	// is not locked at now. Returns false when a lock is in force (the row is left untouched).
	UpdateLastLogin(ctx context.Context, id string, now time.Time) (bool, error)
	// ResetPassword revokes the user's issued refresh tokens, replaces the password hash, and clears
	// the lockout counter atomically. Returns the number of refresh tokens revoked.
	ResetPassword(ctx context.Context, id, passwordHash string, now time.Time) (int64, error)
}
