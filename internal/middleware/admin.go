package middleware

import (
	"net/http"

	"fwstore/internal/domain"
	"fwstore/internal/repository"

	"github.com/gin-gonic/gin"
)

// AdminRequired allows callers whose token carries the ADMIN role and whose account is still an
// admin. Tokens outlive role changes and deletions, so the user row is checked on every call.
func AdminRequired(users *repository.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != domain.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		u, err := users.GetByID(c.Request.Context(), GetUserID(c))
		if err != nil || !u.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}
