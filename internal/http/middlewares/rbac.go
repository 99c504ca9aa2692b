package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRole must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(required string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := RoleFromContext(c)

		if !ok || role == "" {
			abortWith(c, http.StatusUnauthorized, "unauthorized", "Missing identity context")
			return
		}
		if role != required {
			abortWith(c, http.StatusForbidden, "forbidden", "The "+required+" role is required")
			return
		}
		c.Next()
	}
}
