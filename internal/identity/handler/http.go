package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"credential-lifecycle/backend/internal/identity/service"
	"credential-lifecycle/backend/internal/password"
	"credential-lifecycle/backend/internal/server/middleware"
	userdomain "credential-lifecycle/backend/internal/user/domain"
)

// AuthService is the subset of the token lifecycle engine the HTTP layer calls.
type AuthService interface {
	Register(ctx context.Context, email, pw, confirm string) (*service.TokenPair, error)
	Login(ctx context.Context, email, pw string) (*service.TokenPair, error)
	Refresh(ctx context.Context, secret string) (*service.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshSecret string) error
	LogoutAll(ctx context.Context, userID, currentAccessToken string) error
	Me(ctx context.Context, userID string) (*service.Profile, error)
	ListSessions(ctx context.Context, userID, currentSessionID string) ([]service.SessionInfo, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, secret, pw, confirm string) error
}

// Handler exposes AuthService over HTTP.
type Handler struct {
	auth   AuthService
	logger *zap.Logger
}

// NewHandler returns a Handler. A nil logger is replaced with a no-op.
func NewHandler(auth AuthService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{auth: auth, logger: logger.Named("auth_handler")}
}

// Routes mounts the auth endpoints on rg. requireAuth guards the endpoints that act
// on the caller's own session.
func (h *Handler) Routes(rg *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	rg.POST("/register", h.register)
	rg.POST("/login", h.login)
	rg.POST("/refresh", h.refresh)
	rg.POST("/logout", h.logout)
	rg.POST("/forgot-password", h.forgotPassword)
	rg.POST("/reset-password", h.resetPassword)
	rg.POST("/password-strength", h.passwordStrength)

	authed := rg.Group("", requireAuth)
	authed.POST("/logout-all", h.logoutAll)
	authed.GET("/verify", h.verify)
	authed.GET("/me", h.me)
	authed.GET("/sessions", h.sessions)
}

type registerRequest struct {
	Email           string `json:"email" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetPasswordRequest struct {
	Token           string `json:"token" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type passwordStrengthRequest struct {
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
	ExpiresAt    time.Time          `json:"expiresAt"`
	User         userdomain.Summary `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func toTokenResponse(p *service.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    p.ExpiresAt,
		User:         p.User,
	}
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	pair, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTokenResponse(pair))
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	pair, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(pair))
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(pair))
}

// logout does not require a valid access token: an expired or revoked one is skipped.
// The body is optional; an empty one, chunked or not, binds as no refresh token.
func (h *Handler) logout(c *gin.Context) {
	var req logoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, err)
		return
	}
	accessToken := middleware.ExtractBearer(c.GetHeader("Authorization"))
	if err := h.auth.Logout(c.Request.Context(), accessToken, req.RefreshToken); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handler) logoutAll(c *gin.Context) {
	userID, _ := middleware.GetUserID(c.Request.Context())
	if err := h.auth.LogoutAll(c.Request.Context(), userID, c.GetString(middleware.AccessTokenKey)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handler) verify(c *gin.Context) {
	v, ok := c.Get(middleware.ClaimsKey)
	res, _ := v.(*service.VerifyResult)
	if !ok || res == nil {
		h.fail(c, service.ErrInvalidCredentials)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": res.User, "tokenClaims": res.Claims})
}

func (h *Handler) me(c *gin.Context) {
	userID, _ := middleware.GetUserID(c.Request.Context())
	profile, err := h.auth.Me(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

func (h *Handler) sessions(c *gin.Context) {
	ctx := c.Request.Context()
	userID, _ := middleware.GetUserID(ctx)
	current, _ := middleware.GetSessionID(ctx)
	list, err := h.auth.ListSessions(ctx, userID, current)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (h *Handler) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If the email is registered, a reset link has been sent."})
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req.Token, req.Password, req.ConfirmPassword); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password has been reset."})
}

// passwordStrength is advisory only; it does not apply the denylist or minimum rules.
func (h *Handler) passwordStrength(c *gin.Context) {
	var req passwordStrengthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, password.EvaluateStrength(req.Password))
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.logger.Debug("invalid request body", zap.String("path", c.FullPath()), zap.Error(err))
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: "validation_failed"})
}

// fail maps service errors to status codes. Messages are fixed per code so no
// internal detail reaches the caller.
func (h *Handler) fail(c *gin.Context, err error) {
	status, resp := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, resp)
}

func mapError(err error) (int, errorResponse) {
	var weak *password.WeakPasswordError
	switch {
	case errors.As(err, &weak):
		return http.StatusBadRequest, errorResponse{Error: weak.Error(), Code: "weak_password"}
	case errors.Is(err, service.ErrPasswordMismatch):
		return http.StatusBadRequest, errorResponse{Error: "passwords do not match", Code: "password_mismatch"}
	case errors.Is(err, service.ErrInvalidResetToken):
		return http.StatusBadRequest, errorResponse{Error: "invalid or expired reset token", Code: "invalid_reset_token"}
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation_failed"}
	case errors.Is(err, service.ErrAlreadyExists):
		return http.StatusConflict, errorResponse{Error: "account already exists", Code: "already_exists"}
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorResponse{Error: "invalid credentials", Code: "invalid_credentials"}
	case errors.Is(err, service.ErrAccountLocked):
		return http.StatusForbidden, errorResponse{Error: "account is temporarily locked", Code: "account_locked"}
	case errors.Is(err, service.ErrAccountDisabled):
		return http.StatusForbidden, errorResponse{Error: "account is disabled", Code: "account_disabled"}
	case errors.Is(err, service.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorResponse{Error: "service unavailable", Code: "service_unavailable"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"}
	}
}
