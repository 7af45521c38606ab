package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// StaleTokenDeleter removes refresh-token rows that can no longer be used.
type StaleTokenDeleter interface {
	DeleteStale(ctx context.Context, expiredBefore, revokedBefore time.Time) (int64, error)
}

// SessionIndexPruner drops per-user session index members whose session key has expired.
type SessionIndexPruner interface {
	PruneIndexes(ctx context.Context) (int64, error)
}

// SweepResult counts what one sweep removed.
type SweepResult struct {
	TokensDeleted int64
	IndexPruned   int64
}

// Sweeper deletes expired and long-revoked refresh tokens and prunes stale session
// index entries. Blacklist entries expire on their own and are not touched.
type Sweeper struct {
	tokens    StaleTokenDeleter
	sessions  SessionIndexPruner
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewSweeper returns a Sweeper. Revoked rows are kept for retention so reuse of a
// recently rotated secret is still detected. sessions may be nil.
func NewSweeper(tokens StaleTokenDeleter, sessions SessionIndexPruner, retention time.Duration, logger *zap.Logger, now func() time.Time) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{tokens: tokens, sessions: sessions, retention: retention, logger: logger, now: now}
}

// RunOnce performs a single sweep.
func (w *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := w.now().UTC()
	n, err := w.tokens.DeleteStale(ctx, now, now.Add(-w.retention))
	if err != nil {
		return res, err
	}
	res.TokensDeleted = n
	if w.sessions != nil {
		pruned, err := w.sessions.PruneIndexes(ctx)
		if err != nil {
			return res, err
		}
		res.IndexPruned = pruned
	}
	return res, nil
}

// Run sweeps immediately and then every interval until ctx is done. Failed sweeps are
// logged and retried on the next tick.
func (w *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := w.RunOnce(ctx)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			w.logger.Error("sweep failed", zap.Error(err))
		case err == nil:
			w.logger.Info("sweep complete",
				zap.Int64("tokens_deleted", res.TokensDeleted),
				zap.Int64("index_pruned", res.IndexPruned))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
