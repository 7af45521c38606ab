package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	auditdomain "credential-lifecycle/backend/internal/audit/domain"
	"credential-lifecycle/backend/internal/notify"
	"credential-lifecycle/backend/internal/passwordreset"
	"credential-lifecycle/backend/internal/security"
	userdomain "credential-lifecycle/backend/internal/user/domain"
	userrepo "credential-lifecycle/backend/internal/user/repository"
)

// ForgotPassword issues a single-use reset secret for an active account and hands it
// to the notification sink. The result is the same whether or not the email is known.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = userdomain.NormalizeEmail(email)
	if email == "" {
		return nil
	}
	u, err := s.getUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil || !u.IsActive {
		return nil
	}
	secret, err := security.MintRefreshSecret()
	if err != nil {
		return s.unavailable("mint reset secret", err)
	}
	expiresAt := s.now().Add(s.cfg.ResetTTL)
	sctx, cancel := s.storeCtx(ctx)
	err = s.resets.Save(sctx, security.HashOpaqueSecret(secret), passwordreset.Record{
		UserID:    u.ID,
		Email:     u.Email,
		ExpiresAt: expiresAt,
	}, s.cfg.ResetTTL)
	cancel()
	if err != nil {
		return s.unavailable("save reset token", err)
	}
	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionPasswordResetReq, nil)
	s.notifier.Publish(ctx, notify.PasswordResetRequested, map[string]any{
		"userId":     u.ID,
		"email":      u.Email,
		"resetToken": secret,
		"expiresAt":  expiresAt,
	})
	return nil
}

// ResetPassword consumes the reset secret and replaces the password. The password
// change, the lockout reset, and the revocation of every refresh token commit together;
// if that write fails nothing changes and the secret is restored for its remaining
// lifetime so the user can retry. Named sessions are deleted afterwards.
func (s *AuthService) ResetPassword(ctx context.Context, secret, pw, confirm string) error {
	if secret == "" {
		return ErrInvalidResetToken
	}
	if pw != confirm {
		return ErrPasswordMismatch
	}
	if err := s.passwords.ValidateStrength(pw); err != nil {
		return err
	}
	// Hash first so a slow or failed hash never burns the single-use secret.
	hash, err := s.hasher.Hash(ctx, pw)
	if err != nil {
		return s.unavailable("hash password", err)
	}

	secretHash := security.HashOpaqueSecret(secret)
	sctx, cancel := s.storeCtx(ctx)
	rec, err := s.resets.Consume(sctx, secretHash)
	cancel()
	if err != nil {
		return s.unavailable("consume reset token", err)
	}
	if rec == nil {
		return ErrInvalidResetToken
	}
	u, err := s.getUserByID(ctx, rec.UserID)
	if err != nil {
		s.restoreResetToken(ctx, secretHash, rec)
		return err
	}
	if u == nil || !u.IsActive {
		return ErrInvalidResetToken
	}

	now := s.now()
	sctx, cancel = s.storeCtx(ctx)
	revoked, err := s.users.ResetPassword(sctx, u.ID, hash, now)
	cancel()
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		s.restoreResetToken(ctx, secretHash, rec)
		return s.unavailable("reset password", err)
	}

	sctx, cancel = s.storeCtx(ctx)
	_, err = s.sessions.DeleteAllByUser(sctx, u.ID)
	cancel()
	if err != nil {
		s.logger.Warn("auth: delete sessions after password reset failed", zap.String("user_id", u.ID), zap.Error(err))
	}

	s.logger.Info("password reset", zap.String("user_id", u.ID), zap.Int64("revoked_tokens", revoked))
	s.audit.LogEvent(ctx, u.ID, auditdomain.ActionPasswordReset, map[string]any{"revoked_tokens": revoked})
	s.notifier.Publish(ctx, notify.PasswordResetCompleted, map[string]any{
		"userId": u.ID,
		"email":  u.Email,
	})
	return nil
}

// restoreResetToken puts a consumed secret back when the reset could not be applied.
func (s *AuthService) restoreResetToken(ctx context.Context, secretHash string, rec *passwordreset.Record) {
	ttl := rec.ExpiresAt.Sub(s.now())
	if rec.ExpiresAt.IsZero() || ttl <= 0 {
		return
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.resets.Save(sctx, secretHash, *rec, ttl); err != nil {
		s.logger.Warn("auth: restore reset token failed", zap.String("user_id", rec.UserID), zap.Error(err))
	}
}
