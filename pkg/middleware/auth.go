package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	pkgjwt "github.com/weiawesome/alumni-chat/pkg/jwt"
	pkglog "github.com/weiawesome/alumni-chat/pkg/log"
	"github.com/weiawesome/alumni-chat/pkg/response"
)

const (
	UserIDKey     = "user_id"
	EmailKey      = "email"
	UsernameKey   = "username"
	RolesKey      = "roles"
	ExpiryKey     = "token_expiry"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	TokenQueryKey = "token"
)

// TokenValidator validates bearer credentials.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*pkgjwt.Claims, error)
}

// AuthMiddleware validates JWT tokens locally with the shared secret.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// ExtractToken reads the bearer token from the Authorization header,
// falling back to the token query parameter used by browser WebSocket clients.
func ExtractToken(c *gin.Context) string {
	if h := c.GetHeader(AuthHeaderKey); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, BearerPrefix))
	}
	return c.Query(TokenQueryKey)
}

// RequireAuth returns a Gin middleware that validates JWT tokens.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.Unauthorized(c, "invalid authorization format")
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := m.validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			l := pkglog.Ctx(c.Request.Context())
			switch {
			case errors.Is(err, pkgjwt.ErrExpiredToken):
				response.Error(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "token has expired")
			case errors.Is(err, pkgjwt.ErrRevokedToken):
				response.Error(c, http.StatusUnauthorized, "TOKEN_REVOKED", "token has been revoked")
			case errors.Is(err, pkgjwt.ErrInvalidToken):
				response.Unauthorized(c, "invalid token")
			default:
				l.Error().Err(err).Msg("token validation failed")
				response.InternalError(c, "failed to validate token")
			}
			c.Abort()
			return
		}

		SetClaims(c, claims)
		c.Next()
	}
}

// SetClaims stores the authenticated identity on the Gin context.
func SetClaims(c *gin.Context, claims *pkgjwt.Claims) {
	c.Set(UserIDKey, claims.UserID)
	c.Set(EmailKey, claims.Email)
	c.Set(UsernameKey, claims.Username)
	c.Set(RolesKey, claims.Roles)
	c.Set(ExpiryKey, claims.Expiry())
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}

// GetRoles extracts roles from Gin context.
func GetRoles(c *gin.Context) []string {
	if roles, exists := c.Get(RolesKey); exists {
		if r, ok := roles.([]string); ok {
			return r
		}
	}
	return nil
}
