package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	auditdomain "credential-lifecycle/backend/internal/audit/domain"
	"credential-lifecycle/backend/internal/notify"
	refreshdomain "credential-lifecycle/backend/internal/refreshtoken/domain"
	"credential-lifecycle/backend/internal/security"
	userdomain "credential-lifecycle/backend/internal/user/domain"
)

// VerifyResult is the identity behind a valid, non-revoked access token.
type VerifyResult struct {
	User   userdomain.Summary
	Claims *security.AccessClaims
}

// Profile is the current user's view of their own account.
type Profile struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"`
	Role          userdomain.Role `json:"role"`
	IsActive      bool            `json:"isActive"`
	EmailVerified bool            `json:"emailVerified"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastLogin     *time.Time      `json:"lastLogin,omitempty"`
}

// SessionInfo is one named session as shown to its owner.
type SessionInfo struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Current   bool      `json:"current"`
}

// ListSessions returns the live named sessions of userID, newest first. The session
// whose id is currentSessionID is marked current.
func (s *AuthService) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	sctx, cancel := s.storeCtx(ctx)
	sessions, err := s.sessions.ListByUser(sctx, userID)
	cancel()
	if err != nil {
		return nil, s.unavailable("list sessions", err)
	}
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionInfo{
			ID:        sess.ID,
			IPAddress: sess.IPAddress,
			UserAgent: sess.UserAgent,
			CreatedAt: sess.CreatedAt,
			Current:   sess.ID == currentSessionID,
		})
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// Logout blacklists the access token for its remaining lifetime and revokes the
// refresh record. Tokens that are already invalid are skipped, so repeated calls succeed.
// Either argument may be empty, but not both.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshSecret string) error {
	if accessToken == "" && refreshSecret == "" {
		return fmt.Errorf("%w: access token or refresh token is required", ErrValidation)
	}

	var userID string
	if accessToken != "" {
		if claims, err := s.tokens.VerifyAccessToken(accessToken); err == nil {
			userID = claims.Subject
			if err := s.blacklistToken(ctx, accessToken, s.tokens.RemainingTTL(claims)); err != nil {
				return err
			}
		}
	}

	if refreshSecret != "" {
		sctx, cancel := s.storeCtx(ctx)
		rec, err := s.refresh.RevokeByHash(sctx, security.HashOpaqueSecret(refreshSecret), refreshdomain.ReasonLogout, s.now())
		cancel()
		if err != nil {
			return s.unavailable("revoke refresh token", err)
		}
		if rec != nil {
			if userID == "" {
				userID = rec.UserID
			}
			s.deleteSession(ctx, rec.UserID, rec.SessionID)
		}
	}

	if userID != "" {
		s.audit.LogEvent(ctx, userID, auditdomain.ActionLogout, nil)
		s.notifier.Publish(ctx, notify.UserLogout, map[string]any{"userId": userID})
	}
	return nil
}

// LogoutAll revokes every refresh record and named session of userID. Other live
// access tokens stay valid until they expire; the caller's own token, when given,
// is blacklisted.
func (s *AuthService) LogoutAll(ctx context.Context, userID, currentAccessToken string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	sctx, cancel := s.storeCtx(ctx)
	revoked, err := s.refresh.RevokeAllByUser(sctx, userID, refreshdomain.ReasonLogoutAll, s.now())
	cancel()
	if err != nil {
		return s.unavailable("revoke all refresh tokens", err)
	}
	sctx, cancel = s.storeCtx(ctx)
	sessions, err := s.sessions.DeleteAllByUser(sctx, userID)
	cancel()
	if err != nil {
		return s.unavailable("delete all sessions", err)
	}
	if currentAccessToken != "" {
		if claims, err := s.tokens.VerifyAccessToken(currentAccessToken); err == nil && claims.Subject == userID {
			if err := s.blacklistToken(ctx, currentAccessToken, s.tokens.RemainingTTL(claims)); err != nil {
				return err
			}
		}
	}
	s.logger.Info("logged out of all devices",
		zap.String("user_id", userID),
		zap.Int64("revoked_tokens", revoked),
		zap.Int64("deleted_sessions", sessions))
	s.audit.LogEvent(ctx, userID, auditdomain.ActionLogoutAll, map[string]any{"revoked_tokens": revoked})
	s.notifier.Publish(ctx, notify.UserLogoutAllDevices, map[string]any{"userId": userID})
	return nil
}

// Verify checks the blacklist before the signature, then confirms the account is still active.
// Every rejection wraps ErrInvalidCredentials; the codec's reason is joined for logging.
func (s *AuthService) Verify(ctx context.Context, accessToken string) (*VerifyResult, error) {
	if accessToken == "" {
		return nil, ErrInvalidCredentials
	}
	sctx, cancel := s.storeCtx(ctx)
	listed, err := s.blacklist.Contains(sctx, accessToken)
	cancel()
	if err != nil {
		return nil, s.unavailable("check blacklist", err)
	}
	if listed {
		return nil, ErrInvalidCredentials
	}
	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	u, err := s.getUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	return &VerifyResult{User: u.Summary(), Claims: claims}, nil
}

// Me returns the profile of userID.
func (s *AuthService) Me(ctx context.Context, userID string) (*Profile, error) {
	u, err := s.getUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	return &Profile{
		ID:            u.ID,
		Email:         u.Email,
		Role:          u.Role,
		IsActive:      u.IsActive,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		LastLogin:     u.LastLogin,
	}, nil
}

// blacklistToken fails closed: a logout that cannot record the revocation reports
// ServiceUnavailable instead of pretending the token is dead.
func (s *AuthService) blacklistToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.blacklist.Add(sctx, token, ttl); err != nil {
		return s.unavailable("blacklist access token", err)
	}
	return nil
}

func (s *AuthService) deleteSession(ctx context.Context, userID, sessionID string) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.sessions.Delete(sctx, userID, sessionID); err != nil {
		s.logger.Warn("auth: delete named session failed", zap.String("user_id", userID), zap.Error(err))
	}
}
