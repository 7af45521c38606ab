package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"credential-lifecycle/backend/internal/audit"
	auditdomain "credential-lifecycle/backend/internal/audit/domain"
	"credential-lifecycle/backend/internal/lockout"
	"credential-lifecycle/backend/internal/logger"
	"credential-lifecycle/backend/internal/notify"
	"credential-lifecycle/backend/internal/password"
	"credential-lifecycle/backend/internal/passwordreset"
	refreshdomain "credential-lifecycle/backend/internal/refreshtoken/domain"
	refreshrepo "credential-lifecycle/backend/internal/refreshtoken/repository"
	"credential-lifecycle/backend/internal/security"
	sessiondomain "credential-lifecycle/backend/internal/session/domain"
	userdomain "credential-lifecycle/backend/internal/user/domain"
	userrepo "credential-lifecycle/backend/internal/user/repository"
)

// Sentinel errors for the auth service; the HTTP handler maps them to status codes.
// Store failures never surface raw: they become ErrServiceUnavailable.
var (
	ErrValidation         = errors.New("validation failed")
	ErrAlreadyExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	// ErrWeakPassword matches every *password.WeakPasswordError.
	ErrWeakPassword = password.ErrWeakPassword
)

// Security event names, logged under the security_event field and counted in auth.security_events.
const (
	securityRefreshReuse   = "refresh_reuse_detected"
	securityRefreshRace    = "refresh_race_lost"
	securityAccountLocked  = "account_locked"
	securityLockedAttempt  = "locked_account_attempt"
	securityLockRaceDenied = "login_denied_by_concurrent_lock"
)

// TokenPair is the result of register, login, and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	SessionID    string
	User         userdomain.Summary
}

// UserRepo is the credential store needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (userdomain.LockState, error)
	UpdateLastLogin(ctx context.Context, id string, now time.Time) (bool, error)
	ResetPassword(ctx context.Context, id, passwordHash string, now time.Time) (int64, error)
}

// RefreshTokenRepo is the refresh token store needed by the auth service.
type RefreshTokenRepo interface {
	Create(ctx context.Context, t *refreshdomain.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*refreshdomain.RefreshToken, error)
	Rotate(ctx context.Context, currentID string, next *refreshdomain.RefreshToken, now time.Time) error
	RevokeByHash(ctx context.Context, tokenHash string, reason refreshdomain.RevocationReason, now time.Time) (*refreshdomain.RefreshToken, error)
	RevokeAllByUser(ctx context.Context, userID string, reason refreshdomain.RevocationReason, now time.Time) (int64, error)
}

// SessionStore holds named sessions in the cache.
type SessionStore interface {
	Save(ctx context.Context, s *sessiondomain.Session, ttl time.Duration) error
	Delete(ctx context.Context, userID, sessionID string) error
	DeleteAllByUser(ctx context.Context, userID string) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
}

// Blacklist holds access tokens revoked before expiry.
type Blacklist interface {
	Add(ctx context.Context, token string, ttl time.Duration) error
	Contains(ctx context.Context, token string) (bool, error)
}

// ResetStore holds single-use password reset secrets by hash.
type ResetStore interface {
	Save(ctx context.Context, secretHash string, rec passwordreset.Record, ttl time.Duration) error
	Consume(ctx context.Context, secretHash string) (*passwordreset.Record, error)
}

// Notifier publishes lifecycle events. It must never block or fail the caller.
type Notifier interface {
	Publish(ctx context.Context, name string, payload map[string]any)
}

// Deps are the collaborators of AuthService. Every field except Notifier, Audit,
// Logger, Metrics, and Client is required.
type Deps struct {
	Users         UserRepo
	RefreshTokens RefreshTokenRepo
	Sessions      SessionStore
	Blacklist     Blacklist
	Resets        ResetStore
	Hasher        *security.Hasher
	Tokens        *security.TokenCodec
	Passwords     *password.Policy
	Notifier      Notifier
	Audit         audit.AuditLogger
	Logger        *zap.Logger
	Metrics       *Metrics
	// Client extracts the caller's IP and user agent for named sessions.
	Client audit.ClientExtractor
}

// Config is the auth service configuration, fixed at construction.
type Config struct {
	RefreshTTL   time.Duration
	SessionTTL   time.Duration
	ResetTTL     time.Duration
	StoreTimeout time.Duration
	// ReuseGrace is how long after a rotation a replay of the rotated secret counts as a
	// lost race instead of reuse. Zero disables the window.
	ReuseGrace time.Duration
	Lockout    lockout.Policy
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// AuthService is the token lifecycle engine: register, login, refresh, logout,
// logout-all, verify, and password reset.
type AuthService struct {
	users     UserRepo
	refresh   RefreshTokenRepo
	sessions  SessionStore
	blacklist Blacklist
	resets    ResetStore
	hasher    *security.Hasher
	tokens    *security.TokenCodec
	passwords *password.Policy
	notifier  Notifier
	audit     audit.AuditLogger
	logger    *zap.Logger
	metrics   *Metrics
	client    audit.ClientExtractor
	cfg       Config
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, string, map[string]any) {}

type noopAudit struct{}

func (noopAudit) LogEvent(context.Context, string, string, map[string]any) {}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(d Deps, cfg Config) (*AuthService, error) {
	if d.Users == nil || d.RefreshTokens == nil || d.Sessions == nil || d.Blacklist == nil || d.Resets == nil {
		return nil, errors.New("auth service: stores are required")
	}
	if d.Hasher == nil || d.Tokens == nil {
		return nil, errors.New("auth service: hasher and token codec are required")
	}
	if cfg.RefreshTTL <= 0 || cfg.SessionTTL <= 0 || cfg.ResetTTL <= 0 || cfg.StoreTimeout <= 0 {
		return nil, errors.New("auth service: ttls and store timeout must be positive")
	}
	if cfg.ReuseGrace < 0 {
		return nil, errors.New("auth service: reuse grace must not be negative")
	}
	if cfg.Lockout.Threshold <= 0 || cfg.Lockout.Duration <= 0 {
		return nil, errors.New("auth service: lockout policy is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if d.Passwords == nil {
		d.Passwords = password.NewPolicy(nil)
	}
	if d.Notifier == nil {
		d.Notifier = noopNotifier{}
	}
	if d.Audit == nil {
		d.Audit = noopAudit{}
	}
	d.Logger = logger.OrNop(d.Logger)
	return &AuthService{
		users:     d.Users,
		refresh:   d.RefreshTokens,
		sessions:  d.Sessions,
		blacklist: d.Blacklist,
		resets:    d.Resets,
		hasher:    d.Hasher,
		tokens:    d.Tokens,
		passwords: d.Passwords,
		notifier:  d.Notifier,
		audit:     d.Audit,
		logger:    d.Logger,
		metrics:   d.Metrics,
		client:    d.Client,
		cfg:       cfg,
	}, nil
}

// Register creates a user with role user and starts a session for it.
// The registration event is published after the user is committed; its failure cannot undo the registration.
func (s *AuthService) Register(ctx context.Context, email, pw, confirm string) (*TokenPair, error) {
	email = userdomain.NormalizeEmail(email)
	if err := userdomain.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if pw != confirm {
		return nil, ErrPasswordMismatch
	}
	if err := s.passwords.ValidateStrength(pw); err != nil {
		return nil, err
	}

	existing, err := s.getUserByEmail(ctx, email)
	if err != nil {
		s.metrics.register(ctx, outcomeUnavailable)
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyExists
	}

	hash, err := s.hasher.Hash(ctx, pw)
	if err != nil {
		return nil, s.unavailable("hash password", err)
	}
	now := s.now()
	u := &userdomain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         userdomain.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	sctx, cancel := s.storeCtx(ctx)
	err = s.users.Create(sctx, u)
	cancel()
	if err != nil {
		if errors.Is(err, userrepo.ErrEmailTaken) {
			return nil, ErrAlreadyExists
		}
		s.metrics.register(ctx, outcomeUnavailable)
		return nil, s.unavailable("create user", err)
	}

	pair, err := s.startSession(ctx, u)
	if err != nil {
		return nil, err
	}
	s.metrics.register(ctx, outcomeSuccess)
	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionRegister, nil)
	s.notifier.Publish(ctx, notify.UserRegistered, map[string]any{
		"userId": u.ID,
		"email":  u.Email,
	})
	s.logger.Info("user registered", zap.String("user_id", u.ID))
	return pair, nil
}

// Login verifies the password and starts a session. Lock status is checked before
// the password; a locked account is refused even with the correct password.
func (s *AuthService) Login(ctx context.Context, email, pw string) (*TokenPair, error) {
	email = userdomain.NormalizeEmail(email)
	if email == "" || pw == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	u, err := s.getUserByEmail(ctx, email)
	if err != nil {
		s.metrics.login(ctx, outcomeUnavailable)
		return nil, err
	}
	if u == nil {
		s.hasher.CompareDummy(ctx, pw)
		s.metrics.login(ctx, outcomeInvalid)
		s.audit.LogEvent(ctx, "", auditdomain.ActionLoginFailure, map[string]any{"reason": "unknown_email"})
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if lockout.IsLocked(u.LockedUntil, now) {
		s.metrics.login(ctx, outcomeLocked)
		s.securityEvent(ctx, securityLockedAttempt, u.ID, auditdomain.ActionLoginLocked,
			zap.Duration("remaining", lockout.Remaining(u.LockedUntil, now)))
		return nil, ErrAccountLocked
	}

	if err := s.hasher.Compare(ctx, u.PasswordHash, pw); err != nil {
		if !errors.Is(err, security.ErrPasswordMismatch) {
			if ctx.Err() != nil {
				s.metrics.login(ctx, outcomeUnavailable)
				return nil, s.unavailable("compare password", err)
			}
			s.logger.Error("auth: unusable password hash", zap.String("user_id", u.ID), zap.Error(err))
		}
		return nil, s.recordFailedLogin(ctx, u, now)
	}

	if !u.IsActive {
		s.metrics.login(ctx, outcomeDisabled)
		s.audit.LogEvent(ctx, u.ID, auditdomain.ActionLoginFailure, map[string]any{"reason": "disabled"})
		return nil, ErrAccountDisabled
	}

	sctx, cancel := s.storeCtx(ctx)
	ok, err := s.users.UpdateLastLogin(sctx, u.ID, now)
	cancel()
	if err != nil {
		s.metrics.login(ctx, outcomeUnavailable)
		return nil, s.unavailable("update last login", err)
	}
	if !ok {
		// A concurrent failure locked the account after it was read.
		s.metrics.login(ctx, outcomeLocked)
		s.securityEvent(ctx, securityLockRaceDenied, u.ID, auditdomain.ActionLoginLocked)
		return nil, ErrAccountLocked
	}

	pair, err := s.startSession(ctx, u)
	if err != nil {
		s.metrics.login(ctx, outcomeUnavailable)
		return nil, err
	}
	s.metrics.login(ctx, outcomeSuccess)
	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionLoginSuccess, map[string]any{"session_id": pair.SessionID})
	s.notifier.Publish(ctx, notify.UserLogin, map[string]any{
		"userId":    u.ID,
		"email":     u.Email,
		"sessionId": pair.SessionID,
	})
	return pair, nil
}

// recordFailedLogin increments the counter atomically in the store and reports a
// lock when the failure leaves the account at or past the threshold.
func (s *AuthService) recordFailedLogin(ctx context.Context, u *userdomain.User, now time.Time) error {
	sctx, cancel := s.storeCtx(ctx)
	state, err := s.users.IncrementFailedAttempts(sctx, u.ID, s.cfg.Lockout.Threshold, s.cfg.Lockout.LockUntil(now), now)
	cancel()
	if err != nil {
		s.metrics.login(ctx, outcomeUnavailable)
		return s.unavailable("increment failed attempts", err)
	}
	s.metrics.login(ctx, outcomeInvalid)
	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionLoginFailure, map[string]any{
		"reason":          "wrong_password",
		"failed_attempts": state.FailedAttempts,
	})
	if s.cfg.Lockout.Reached(state.FailedAttempts) && lockout.IsLocked(state.LockedUntil, now) {
		s.securityEvent(ctx, securityAccountLocked, u.ID, auditdomain.ActionAccountLocked,
			zap.Int("failed_attempts", state.FailedAttempts),
			zap.Timep("locked_until", state.LockedUntil))
	}
	return ErrInvalidCredentials
}

// Refresh exchanges a refresh secret for a new pair. The presented record is revoked
// and its successor inserted in one transaction; of two concurrent callers with the
// same secret exactly one succeeds. Presenting an already-rotated secret is treated
// as theft and every refresh token and session of the user is revoked, unless the
// rotation happened within ReuseGrace: that is a client retry racing its own refresh,
// and it is refused without touching the winner's lineage.
func (s *AuthService) Refresh(ctx context.Context, secret string) (*TokenPair, error) {
	if secret == "" {
		s.metrics.refresh(ctx, outcomeInvalid)
		return nil, ErrInvalidCredentials
	}
	sctx, cancel := s.storeCtx(ctx)
	rec, err := s.refresh.GetByHash(sctx, security.HashOpaqueSecret(secret))
	cancel()
	if err != nil {
		s.metrics.refresh(ctx, outcomeUnavailable)
		return nil, s.unavailable("get refresh token", err)
	}
	if rec == nil {
		s.metrics.refresh(ctx, outcomeInvalid)
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if !rec.Usable(now) {
		switch {
		case rec.State(now) != refreshdomain.StateRotated:
			s.metrics.refresh(ctx, outcomeInvalid)
		case s.withinReuseGrace(rec, now):
			s.metrics.refresh(ctx, outcomeRaceLost)
			s.securityEvent(ctx, securityRefreshRace, rec.UserID, "",
				zap.String("session_id", rec.SessionID))
		default:
			s.metrics.refresh(ctx, outcomeReuse)
			s.revokeLineage(ctx, rec)
		}
		return nil, ErrInvalidCredentials
	}

	u, err := s.getUserByID(ctx, rec.UserID)
	if err != nil {
		s.metrics.refresh(ctx, outcomeUnavailable)
		return nil, err
	}
	if u == nil || !u.IsActive {
		s.metrics.refresh(ctx, outcomeInvalid)
		return nil, ErrInvalidCredentials
	}

	nextSecret, next, err := s.newRefreshRecord(u.ID, rec.SessionID, now)
	if err != nil {
		return nil, s.unavailable("mint refresh secret", err)
	}
	access, claims, err := s.mintAccess(u, rec.SessionID)
	if err != nil {
		return nil, s.unavailable("mint access token", err)
	}

	sctx, cancel = s.storeCtx(ctx)
	err = s.refresh.Rotate(sctx, rec.ID, next, now)
	cancel()
	if err != nil {
		if errors.Is(err, refreshrepo.ErrNotRotatable) {
			s.metrics.refresh(ctx, outcomeRaceLost)
			s.securityEvent(ctx, securityRefreshRace, u.ID, "",
				zap.String("session_id", rec.SessionID))
			return nil, ErrInvalidCredentials
		}
		s.metrics.refresh(ctx, outcomeUnavailable)
		return nil, s.unavailable("rotate refresh token", err)
	}

	s.saveSession(ctx, u.ID, rec.SessionID, next.ID, now)
	s.metrics.refresh(ctx, outcomeSuccess)
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: nextSecret,
		ExpiresAt:    claims.ExpiresAt.Time,
		SessionID:    rec.SessionID,
		User:         u.Summary(),
	}, nil
}

func (s *AuthService) withinReuseGrace(rec *refreshdomain.RefreshToken, now time.Time) bool {
	return s.cfg.ReuseGrace > 0 && rec.RevokedAt != nil && now.Sub(*rec.RevokedAt) < s.cfg.ReuseGrace
}

// revokeLineage answers refresh reuse: all of the user's refresh tokens and named
// sessions are revoked. Failures are logged; the caller already gets InvalidCredentials.
func (s *AuthService) revokeLineage(ctx context.Context, rec *refreshdomain.RefreshToken) {
	now := s.now()
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	revoked, err := s.refresh.RevokeAllByUser(sctx, rec.UserID, refreshdomain.ReasonReuse, now)
	if err != nil {
		s.logger.Error("auth: revoke after refresh reuse failed", zap.String("user_id", rec.UserID), zap.Error(err))
	}
	if _, err := s.sessions.DeleteAllByUser(sctx, rec.UserID); err != nil {
		s.logger.Error("auth: delete sessions after refresh reuse failed", zap.String("user_id", rec.UserID), zap.Error(err))
	}
	s.securityEvent(ctx, securityRefreshReuse, rec.UserID, auditdomain.ActionRefreshReuse,
		zap.String("session_id", rec.SessionID),
		zap.String("refresh_token_id", rec.ID),
		zap.Int64("revoked_tokens", revoked))
}

// startSession opens a new lineage: refresh record, named session, and access token.
func (s *AuthService) startSession(ctx context.Context, u *userdomain.User) (*TokenPair, error) {
	now := s.now()
	sessionID := uuid.NewString()
	secret, rec, err := s.newRefreshRecord(u.ID, sessionID, now)
	if err != nil {
		return nil, s.unavailable("mint refresh secret", err)
	}
	access, claims, err := s.mintAccess(u, sessionID)
	if err != nil {
		return nil, s.unavailable("mint access token", err)
	}
	sctx, cancel := s.storeCtx(ctx)
	err = s.refresh.Create(sctx, rec)
	cancel()
	if err != nil {
		return nil, s.unavailable("create refresh token", err)
	}
	s.saveSession(ctx, u.ID, sessionID, rec.ID, now)
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: secret,
		ExpiresAt:    claims.ExpiresAt.Time,
		SessionID:    sessionID,
		User:         u.Summary(),
	}, nil
}

func (s *AuthService) newRefreshRecord(userID, sessionID string, now time.Time) (string, *refreshdomain.RefreshToken, error) {
	secret, err := security.MintRefreshSecret()
	if err != nil {
		return "", nil, err
	}
	return secret, &refreshdomain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		TokenHash: security.HashOpaqueSecret(secret),
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		CreatedAt: now,
	}, nil
}

func (s *AuthService) mintAccess(u *userdomain.User, sessionID string) (string, *security.AccessClaims, error) {
	return s.tokens.MintAccessToken(security.Identity{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      string(u.Role),
		SessionID: sessionID,
	})
}

// saveSession records the named session. It is bookkeeping for bulk logout, not an
// access control, so a cache failure here is logged and the login proceeds.
func (s *AuthService) saveSession(ctx context.Context, userID, sessionID, refreshTokenID string, now time.Time) {
	sess := &sessiondomain.Session{
		ID:             sessionID,
		UserID:         userID,
		RefreshTokenID: refreshTokenID,
		CreatedAt:      now,
	}
	if s.client != nil {
		sess.IPAddress, sess.UserAgent = s.client(ctx)
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.sessions.Save(sctx, sess, s.cfg.SessionTTL); err != nil {
		s.logger.Warn("auth: save named session failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *AuthService) getUserByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.users.GetByEmail(sctx, email)
	if err != nil {
		return nil, s.unavailable("get user by email", err)
	}
	return u, nil
}

func (s *AuthService) getUserByID(ctx context.Context, id string) (*userdomain.User, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.users.GetByID(sctx, id)
	if err != nil {
		return nil, s.unavailable("get user by id", err)
	}
	return u, nil
}

// storeCtx bounds one store call. It is detached from the request's cancellation so
// an operation that has started writing runs to completion.
func (s *AuthService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
}

func (s *AuthService) unavailable(op string, err error) error {
	s.logger.Error("auth: dependency failure", zap.String("op", op), zap.Error(err))
	return ErrServiceUnavailable
}

// securityEvent logs an anomaly distinctly from ordinary failures and counts it.
// auditAction may be empty when no audit row is wanted.
func (s *AuthService) securityEvent(ctx context.Context, event, userID, auditAction string, fields ...zap.Field) {
	s.logger.Warn("security event",
		append([]zap.Field{zap.String("security_event", event), zap.String("user_id", userID)}, fields...)...)
	s.metrics.securityEvent(ctx, event)
	if auditAction != "" {
		s.audit.LogEvent(ctx, userID, auditAction, map[string]any{"security_event": event})
	}
}

func (s *AuthService) now() time.Time {
	return s.cfg.Now().UTC()
}
