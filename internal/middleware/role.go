package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/pkg/response"
)

// RequireRole lets through callers whose token carries one of roles. It must run after JWT.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextUserRole); !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if !HasRole(c, roles...) {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// HasRole reports whether the authenticated caller has any of roles.
// Anonymous requests on OptionalJWT routes have no role.
func HasRole(c *gin.Context, roles ...models.Role) bool {
	return hasRole(Role(c), roles)
}

// Role returns the caller's role, or "" when the request is anonymous.
func Role(c *gin.Context) models.Role {
	v, _ := c.Get(ContextUserRole)
	s, _ := v.(string)
	return models.Role(s)
}

func hasRole(role models.Role, roles []models.Role) bool {
	if role == "" {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
