package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/aularis/lms-api/internal/models"
	appErrors "github.com/aularis/lms-api/pkg/errors"
	"github.com/aularis/lms-api/pkg/response"
)

// RoleSelf is a pseudo role for RBAC: it admits any authenticated user
// whose ID matches the :id route parameter.
const RoleSelf = "SELF"

// RBAC allows the request through when the authenticated role is in the
// allowed set. Must run after JWT.
func RBAC(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := value.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		allowSelf := false
		for _, entry := range allowed {
			if entry == RoleSelf {
				allowSelf = true
				continue
			}
			if models.UserRole(entry) == claims.Role {
				c.Next()
				return
			}
		}

		if allowSelf {
			if targetID := c.Param("id"); targetID != "" && targetID == claims.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles builds an RBAC middleware from typed roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, role := range roles {
		allowed[i] = string(role)
	}
	return RBAC(allowed...)
}
