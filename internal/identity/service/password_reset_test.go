package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditdomain "credential-lifecycle/backend/internal/audit/domain"
	"credential-lifecycle/backend/internal/notify"
	refreshdomain "credential-lifecycle/backend/internal/refreshtoken/domain"
)

const newPassword = "N3w!Secret"

func requestReset(t *testing.T, env *testEnv) string {
	t.Helper()
	require.NoError(t, env.svc.ForgotPassword(context.Background(), "Alice@Example.com"))
	ev, ok := env.notifier.last(notify.PasswordResetRequested)
	require.True(t, ok)
	secret, ok := ev.payload["resetToken"].(string)
	require.True(t, ok)
	require.NotEmpty(t, secret)
	return secret
}

func TestAuthService_ForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair := env.register(t)

	require.NoError(t, env.svc.ForgotPassword(ctx, "nobody@example.com"))
	require.NoError(t, env.svc.ForgotPassword(ctx, ""))
	_, ok := env.notifier.last(notify.PasswordResetRequested)
	assert.False(t, ok)

	env.users.setActive(pair.User.ID, false)
	require.NoError(t, env.svc.ForgotPassword(ctx, testEmail))
	_, ok = env.notifier.last(notify.PasswordResetRequested)
	assert.False(t, ok)
}

func TestAuthService_ResetPasswordFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair := env.register(t)
	for i := 0; i < 5; i++ {
		_, _ = env.svc.Login(ctx, testEmail, "Wr0ng!Pass")
	}
	secret := requestReset(t, env)

	require.NoError(t, env.svc.ResetPassword(ctx, secret, newPassword, newPassword))

	_, err := env.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, env.refresh.reasonsFor(pair.User.ID)[refreshdomain.ReasonPasswordReset])

	_, err = env.svc.Login(ctx, testEmail, testPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.svc.Login(ctx, testEmail, newPassword)
	require.NoError(t, err)

	err = env.svc.ResetPassword(ctx, secret, "An0ther!Pass", "An0ther!Pass")
	require.ErrorIs(t, err, ErrInvalidResetToken)

	_, ok := env.notifier.last(notify.PasswordResetCompleted)
	assert.True(t, ok)
	assert.Equal(t, 1, env.audit.count(auditdomain.ActionPasswordReset))
	assert.Equal(t, 1, env.audit.count(auditdomain.ActionPasswordResetReq))
}

func TestAuthService_ResetPasswordValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t)
	secret := requestReset(t, env)

	require.ErrorIs(t, env.svc.ResetPassword(ctx, "", newPassword, newPassword), ErrInvalidResetToken)
	require.ErrorIs(t, env.svc.ResetPassword(ctx, secret, newPassword, "different"), ErrPasswordMismatch)
	require.ErrorIs(t, env.svc.ResetPassword(ctx, secret, "weak", "weak"), ErrWeakPassword)
	require.ErrorIs(t, env.svc.ResetPassword(ctx, "forged", newPassword, newPassword), ErrInvalidResetToken)

	// Rejected attempts do not burn the secret.
	require.NoError(t, env.svc.ResetPassword(ctx, secret, newPassword, newPassword))
}

func TestAuthService_ResetTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	secret := requestReset(t, env)

	env.mr.FastForward(15*time.Minute + time.Second)

	err := env.svc.ResetPassword(context.Background(), secret, newPassword, newPassword)
	require.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestAuthService_ResetPasswordWriteFailureChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair := env.register(t)
	secret := requestReset(t, env)

	env.refresh.fail(errStoreDown)
	err := env.svc.ResetPassword(ctx, secret, newPassword, newPassword)
	require.ErrorIs(t, err, ErrServiceUnavailable)
	env.refresh.fail(nil)

	_, err = env.svc.Login(ctx, testEmail, newPassword)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Zero(t, env.refresh.reasonsFor(pair.User.ID)[refreshdomain.ReasonPasswordReset])
	_, ok := env.notifier.last(notify.PasswordResetCompleted)
	assert.False(t, ok)

	// The secret is still good, and the retry revokes every earlier refresh token.
	require.NoError(t, env.svc.ResetPassword(ctx, secret, newPassword, newPassword))
	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, env.refresh.reasonsFor(pair.User.ID)[refreshdomain.ReasonPasswordReset])
	_, err = env.svc.Login(ctx, testEmail, newPassword)
	require.NoError(t, err)
}

func TestAuthService_ResetPasswordToleratesSessionStoreFailure(t *testing.T) {
	env := newTestEnv(t, withFailingBulkDelete(errStoreDown))
	ctx := context.Background()
	pair := env.register(t)
	secret := requestReset(t, env)

	require.NoError(t, env.svc.ResetPassword(ctx, secret, newPassword, newPassword))

	_, err := env.svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.svc.Login(ctx, testEmail, newPassword)
	require.NoError(t, err)
	assert.Equal(t, 1, env.logs.FilterMessage("auth: delete sessions after password reset failed").Len())
}
