package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"authsession/internal/models"
)

// RequireRoles must run after Auth. It checks the role of the stored
// identity, never the role claimed by the token.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	roleSet := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, unauthenticatedMessage)
			return
		}

		if _, ok := roleSet[user.Role]; !ok {
			abortJSON(c, http.StatusForbidden, fmt.Sprintf("User role %s is not authorized to access this route", user.Role))
			return
		}

		c.Next()
	}
}
