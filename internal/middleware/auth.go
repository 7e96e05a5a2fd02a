package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/election-api/pkg/auth"
	"github.com/jwalitptl/election-api/pkg/errors"
	"github.com/jwalitptl/election-api/pkg/httputil"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

type AuthMiddleware struct {
	jwt       auth.JWTService
	adminRole string
}

func NewAuthMiddleware(jwt auth.JWTService, adminRole string) *AuthMiddleware {
	return &AuthMiddleware{
		jwt:       jwt,
		adminRole: adminRole,
	}
}

// Authenticate verifies the bearer token and sets the caller in context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, errors.Unauthorized(fmt.Errorf("missing authorization header")))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.RespondWithError(c, errors.Unauthorized(fmt.Errorf("invalid authorization format")))
			return
		}

		claims, err := m.jwt.ValidateToken(parts[1])
		if err != nil {
			httputil.RespondWithError(c, errors.Unauthorized(err))
			return
		}

		c.Set(ContextUserID, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin lets only the configured admin role through.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.IsAdmin(c) {
			httputil.RespondWithError(c, errors.Forbidden("permission denied"))
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) IsAdmin(c *gin.Context) bool {
	return m.adminRole != "" && c.GetString(ContextRole) == m.adminRole
}

// UserID returns the authenticated caller, or "".
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
