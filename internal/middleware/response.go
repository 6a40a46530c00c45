package middleware

import "github.com/gin-gonic/gin"

const internalMessage = "Server error"

func abortJSON(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": message,
	})
}
