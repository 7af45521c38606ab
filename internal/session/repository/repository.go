package repository

import (
	"context"
	"time"

	"credential-lifecycle/backend/internal/session/domain"
)

// Repository defines storage for named sessions.
type Repository interface {
	// Save writes the session with ttl and adds it to the user's index.
	Save(ctx context.Context, s *domain.Session, ttl time.Duration) error
	// ListByUser returns the user's live sessions.
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// Delete removes one session. Deleting a missing session is not an error.
	Delete(ctx context.Context, userID, sessionID string) error
	// DeleteAllByUser removes every session of the user and its index; returns how many existed.
	DeleteAllByUser(ctx context.Context, userID string) (int64, error)
}
