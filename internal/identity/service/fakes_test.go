package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"credential-lifecycle/backend/internal/blacklist"
	"credential-lifecycle/backend/internal/lockout"
	"credential-lifecycle/backend/internal/password"
	"credential-lifecycle/backend/internal/passwordreset"
	refreshdomain "credential-lifecycle/backend/internal/refreshtoken/domain"
	refreshrepo "credential-lifecycle/backend/internal/refreshtoken/repository"
	"credential-lifecycle/backend/internal/security"
	sessionrepo "credential-lifecycle/backend/internal/session/repository"
	userdomain "credential-lifecycle/backend/internal/user/domain"
	userrepo "credential-lifecycle/backend/internal/user/repository"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "Str0ng!Pass"
	testEmail    = "alice@example.com"
)

var errStoreDown = errors.New("connection refused")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memUserRepo mirrors the single-statement semantics of the Postgres repository.
type memUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*userdomain.User
	err     error
	stall   bool
	refresh *memRefreshRepo
}

func newMemUserRepo(refresh *memRefreshRepo) *memUserRepo {
	return &memUserRepo{byID: make(map[string]*userdomain.User), refresh: refresh}
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.byID {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, u.Email) {
			return userrepo.ErrEmailTaken
		}
	}
	cp := *u
	r.byID[u.ID] = &cp
	return nil
}

func (r *memUserRepo) IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (userdomain.LockState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return userdomain.LockState{}, r.err
	}
	u, ok := r.byID[id]
	if !ok {
		return userdomain.LockState{}, nil
	}
	lapsed := u.LockedUntil != nil && !u.LockedUntil.After(now)
	if lapsed {
		u.FailedLoginAttempts = 1
		u.LockedUntil = nil
	} else {
		u.FailedLoginAttempts++
	}
	if u.FailedLoginAttempts >= threshold {
		t := lockUntil
		u.LockedUntil = &t
	}
	return userdomain.LockState{FailedAttempts: u.FailedLoginAttempts, LockedUntil: u.LockedUntil}, nil
}

func (r *memUserRepo) UpdateLastLogin(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	u, ok := r.byID[id]
	if !ok || (u.LockedUntil != nil && u.LockedUntil.After(now)) {
		return false, nil
	}
	t := now
	u.LastLogin = &t
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	return true, nil
}

// ResetPassword applies the revoke and the password change together: a failing refresh
// store leaves the user untouched, as the rolled-back transaction would.
func (r *memUserRepo) ResetPassword(ctx context.Context, id, passwordHash string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	u, ok := r.byID[id]
	if !ok {
		return 0, userrepo.ErrUserNotFound
	}
	revoked, err := r.refresh.RevokeAllByUser(ctx, id, refreshdomain.ReasonPasswordReset, now)
	if err != nil {
		return 0, err
	}
	u.PasswordHash = passwordHash
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.UpdatedAt = now
	return revoked, nil
}

func (r *memUserRepo) setActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id].IsActive = active
}

// setStall makes lookups hang until their context ends, like a wedged connection.
func (r *memUserRepo) setStall(stall bool) {
	r.mu.Lock()
	r.stall = stall
	r.mu.Unlock()
}

func (r *memUserRepo) wait(ctx context.Context) error {
	r.mu.Lock()
	stall := r.stall
	r.mu.Unlock()
	if !stall {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (r *memUserRepo) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// memRefreshRepo keeps rotation conditional on the record still being issued, like the
// UPDATE ... WHERE revoked = false statement it stands in for.
type memRefreshRepo struct {
	mu   sync.Mutex
	byID map[string]*refreshdomain.RefreshToken
	err  error
}

func newMemRefreshRepo() *memRefreshRepo {
	return &memRefreshRepo{byID: make(map[string]*refreshdomain.RefreshToken)}
}

func (r *memRefreshRepo) Create(ctx context.Context, t *refreshdomain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	cp := *t
	r.byID[t.ID] = &cp
	return nil
}

func (r *memRefreshRepo) GetByHash(ctx context.Context, tokenHash string) (*refreshdomain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, t := range r.byID {
		if t.TokenHash == tokenHash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRefreshRepo) Rotate(ctx context.Context, currentID string, next *refreshdomain.RefreshToken, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	cur, ok := r.byID[currentID]
	if !ok || cur.Revoked || !now.Before(cur.ExpiresAt) {
		return refreshrepo.ErrNotRotatable
	}
	revoke(cur, refreshdomain.ReasonRotated, now)
	cp := *next
	r.byID[next.ID] = &cp
	return nil
}

func (r *memRefreshRepo) RevokeByHash(ctx context.Context, tokenHash string, reason refreshdomain.RevocationReason, now time.Time) (*refreshdomain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, t := range r.byID {
		if t.TokenHash == tokenHash && !t.Revoked {
			revoke(t, reason, now)
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRefreshRepo) RevokeAllByUser(ctx context.Context, userID string, reason refreshdomain.RevocationReason, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for _, t := range r.byID {
		if t.UserID == userID && !t.Revoked {
			revoke(t, reason, now)
			n++
		}
	}
	return n, nil
}

func (r *memRefreshRepo) DeleteStale(ctx context.Context, expiredBefore, revokedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for id, t := range r.byID {
		if !t.ExpiresAt.After(expiredBefore) || (t.Revoked && t.RevokedAt != nil && !t.RevokedAt.After(revokedBefore)) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func (r *memRefreshRepo) issuedFor(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.byID {
		if t.UserID == userID && !t.Revoked {
			n++
		}
	}
	return n
}

func (r *memRefreshRepo) reasonsFor(userID string) map[refreshdomain.RevocationReason]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[refreshdomain.RevocationReason]int)
	for _, t := range r.byID {
		if t.UserID == userID && t.Revoked {
			out[t.RevokedReason]++
		}
	}
	return out
}

func (r *memRefreshRepo) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func revoke(t *refreshdomain.RefreshToken, reason refreshdomain.RevocationReason, now time.Time) {
	at := now
	t.Revoked = true
	t.RevokedAt = &at
	t.RevokedReason = reason
}

type publishedEvent struct {
	name    string
	payload map[string]any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *recordingNotifier) Publish(ctx context.Context, name string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{name: name, payload: payload})
}

func (n *recordingNotifier) last(name string) (publishedEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].name == name {
			return n.events[i], true
		}
	}
	return publishedEvent{}, false
}

type auditEntry struct {
	userID string
	action string
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *recordingAudit) LogEvent(ctx context.Context, userID, action string, metadata map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{userID: userID, action: action})
}

func (a *recordingAudit) count(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.action == action {
			n++
		}
	}
	return n
}

type testEnv struct {
	svc       *AuthService
	users     *memUserRepo
	refresh   *memRefreshRepo
	sessions  *sessionrepo.RedisRepository
	blacklist *blacklist.Store
	resets    *passwordreset.Store
	mr        *miniredis.Miniredis
	clock     *fakeClock
	notifier  *recordingNotifier
	audit     *recordingAudit
	logs      *observer.ObservedLogs
	tokens    *security.TokenCodec
}

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 7 * 24 * time.Hour
	testLockTime   = 15 * time.Minute
)

type envOption func(*Deps, *Config)

func withMetrics(m *Metrics) envOption {
	return func(d *Deps, _ *Config) { d.Metrics = m }
}

func withConfig(fn func(*Config)) envOption {
	return func(_ *Deps, c *Config) { fn(c) }
}

// failingBulkDelete passes every call through except DeleteAllByUser.
type failingBulkDelete struct {
	SessionStore
	err error
}

func (f failingBulkDelete) DeleteAllByUser(context.Context, string) (int64, error) {
	return 0, f.err
}

func withFailingBulkDelete(err error) envOption {
	return func(d *Deps, _ *Config) { d.Sessions = failingBulkDelete{SessionStore: d.Sessions, err: err} }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens, err := security.NewTokenCodec([]byte(testSecret), "auth-service", "client-app", testAccessTTL, clock.Now)
	require.NoError(t, err)
	policy, err := lockout.NewPolicy(5, testLockTime)
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	refresh := newMemRefreshRepo()
	env := &testEnv{
		users:     newMemUserRepo(refresh),
		refresh:   refresh,
		sessions:  sessionrepo.NewRedisRepository(rdb),
		blacklist: blacklist.NewStore(rdb),
		resets:    passwordreset.NewStore(rdb),
		mr:        mr,
		clock:     clock,
		notifier:  &recordingNotifier{},
		audit:     &recordingAudit{},
		logs:      logs,
		tokens:    tokens,
	}
	deps := Deps{
		Users:         env.users,
		RefreshTokens: env.refresh,
		Sessions:      env.sessions,
		Blacklist:     env.blacklist,
		Resets:        env.resets,
		Hasher:        security.NewHasher(4, 4),
		Tokens:        tokens,
		Passwords:     password.NewPolicy([]string{"password123"}),
		Notifier:      env.notifier,
		Audit:         env.audit,
		Logger:        zap.New(core),
		Client: func(context.Context) (string, string) {
			return "203.0.113.7", "test-agent"
		},
	}
	cfg := Config{
		RefreshTTL:   testRefreshTTL,
		SessionTTL:   24 * time.Hour,
		ResetTTL:     15 * time.Minute,
		StoreTimeout: time.Second,
		Lockout:      policy,
		Now:          clock.Now,
	}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	env.svc, err = NewAuthService(deps, cfg)
	require.NoError(t, err)
	return env
}

// register creates alice and returns her first token pair.
func (e *testEnv) register(t *testing.T) *TokenPair {
	t.Helper()
	pair, err := e.svc.Register(context.Background(), testEmail, testPassword, testPassword)
	require.NoError(t, err)
	return pair
}

func (e *testEnv) securityEvents(name string) int {
	return e.logs.FilterField(zap.String("security_event", name)).Len()
}
