package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"authsession/internal/middleware"
	"authsession/internal/models"
)

func (h HandlerSet) AdminWelcome(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Welcome Admin! This is a protected admin-only route.",
		"user":    user.Public(),
	})
}

func (h HandlerSet) ListUsers(c *gin.Context) {
	users, err := h.auth.ListUsers(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "Error fetching users")
		return
	}

	items := make([]models.PublicUser, 0, len(users))
	for _, user := range users {
		items = append(items, user.PublicWithCreated())
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(items),
		"users":   items,
	})
}
