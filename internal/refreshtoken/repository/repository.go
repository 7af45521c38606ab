package repository

import (
	"context"
	"errors"
	"time"

	"credential-lifecycle/backend/internal/refreshtoken/domain"
)

// ErrNotRotatable is returned by Rotate when the presented record is no longer issued
// (already rotated, revoked, or expired). The successor is not persisted.
var ErrNotRotatable = errors.New("refresh token not rotatable")

// Repository defines persistence for refresh token records.
type Repository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	// GetByHash returns the record with the given secret hash in any state, or nil if absent.
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	// Rotate revokes currentID (only if still issued at now) and inserts next, in one transaction.
	Rotate(ctx context.Context, currentID string, next *domain.RefreshToken, now time.Time) error
	// RevokeByHash revokes the issued record with the given hash and returns it; nil if none matched.
	RevokeByHash(ctx context.Context, tokenHash string, reason domain.RevocationReason, now time.Time) (*domain.RefreshToken, error)
	// RevokeAllByUser revokes every issued record owned by userID and returns how many changed.
	RevokeAllByUser(ctx context.Context, userID string, reason domain.RevocationReason, now time.Time) (int64, error)
	// DeleteStale removes records that expired before expiredBefore or were revoked before revokedBefore.
	DeleteStale(ctx context.Context, expiredBefore, revokedBefore time.Time) (int64, error)
}
