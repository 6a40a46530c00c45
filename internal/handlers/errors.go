package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"authsession/internal/middleware"
	"authsession/internal/repository"
	"authsession/internal/service"
)

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": message,
	})
}

// writeError maps the service taxonomy onto status codes. Anything unknown
// is logged and answered with fallback.
func (h HandlerSet) writeError(c *gin.Context, err error, fallback string) {
	var validation *service.ValidationError
	switch {
	case errors.As(err, &validation):
		fail(c, http.StatusBadRequest, validation.Message)
	case errors.Is(err, service.ErrDuplicateEmail):
		fail(c, http.StatusBadRequest, "User already exists with this email")
	case errors.Is(err, service.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, service.ErrIncorrectPassword):
		fail(c, http.StatusUnauthorized, "Current password is incorrect")
	case errors.Is(err, service.ErrUnauthenticated), errors.Is(err, repository.ErrUserNotFound):
		fail(c, http.StatusUnauthorized, "Not authorized to access this route")
	case errors.Is(err, service.ErrForbidden):
		fail(c, http.StatusForbidden, "Not authorized to access this route")
	default:
		_ = c.Error(err)
		h.log.Error().Err(err).
			Str("path", c.Request.URL.Path).
			Str("request_id", middleware.RequestIDFrom(c)).
			Msg(fallback)
		fail(c, http.StatusInternalServerError, fallback)
	}
}
