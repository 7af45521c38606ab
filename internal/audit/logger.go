package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"credential-lifecycle/backend/internal/audit/domain"
	auditrepo "credential-lifecycle/backend/internal/audit/repository"
)

// writeTimeout bounds one audit insert, detached from the request context.
const writeTimeout = 3 * time.Second

// ClientExtractor returns the client IP and user agent from the request context.
type ClientExtractor func(context.Context) (ip, userAgent string)

// AuditLogger writes a single audit event. Used by the auth service for credential
// and security events. LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action string, metadata map[string]any)
}

// Logger implements AuditLogger using the audit repository and an optional client extractor.
type Logger struct {
	repo      auditrepo.Repository
	extractor ClientExtractor
	logger    *zap.Logger
	now       func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo. extractor may be nil; then
// IP is recorded as "unknown". A nil logger is replaced with a no-op.
func NewLogger(repo auditrepo.Repository, extractor ClientExtractor, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{repo: repo, extractor: extractor, logger: logger, now: time.Now}
}

// LogEvent writes one audit log entry. The insert survives cancellation of ctx.
func (l *Logger) LogEvent(ctx context.Context, userID, action string, metadata map[string]any) {
	if l == nil || l.repo == nil {
		return
	}
	ip, ua := "unknown", ""
	if l.extractor != nil {
		if gotIP, gotUA := l.extractor(ctx); gotIP != "" {
			ip, ua = gotIP, gotUA
		} else {
			ua = gotUA
		}
	}
	var meta string
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			meta = string(b)
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		IP:        ip,
		UserAgent: ua,
		Metadata:  meta,
		CreatedAt: l.now().UTC(),
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := l.repo.Create(writeCtx, entry); err != nil {
		l.logger.Warn("audit: failed to log event",
			zap.String("action", action),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}
