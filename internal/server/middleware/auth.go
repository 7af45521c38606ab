package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"credential-lifecycle/backend/internal/identity/service"
)

const bearerPrefix = "bearer "

// Gin context keys set by Auth.
const (
	AccessTokenKey = "access_token"
	ClaimsKey      = "claims"
)

// Verifier resolves a bearer access token to the identity behind it.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (*service.VerifyResult, error)
}

// Auth returns a handler that requires a valid, non-revoked Bearer access token and
// sets user_id and session_id in the request context. The raw token is kept under
// AccessTokenKey so logout can blacklist it.
func Auth(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
			return
		}
		res, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrServiceUnavailable) {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), res.User.ID, res.Claims.SessionID))
		c.Set(AccessTokenKey, token)
		c.Set(ClaimsKey, res)
		c.Next()
	}
}

// ExtractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func ExtractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
