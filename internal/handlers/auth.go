package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"authsession/internal/middleware"
	"authsession/internal/models"
	"authsession/internal/service"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Token   string            `json:"token"`
	User    models.PublicUser `json:"user"`
}

func (h HandlerSet) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Please provide name, a valid email and password")
		return
	}

	result, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		h.writeError(c, err, "Server error during registration")
		return
	}

	c.JSON(http.StatusCreated, authResponse{
		Success: true,
		Message: "User registered successfully!",
		Token:   result.Token,
		User:    result.User.Public(),
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Please provide an email and password")
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		h.writeError(c, err, "Server error during login")
		return
	}

	c.JSON(http.StatusOK, authResponse{
		Success: true,
		Message: "Login successful!",
		Token:   result.Token,
		User:    result.User.Public(),
	})
}

func (h HandlerSet) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    user.PublicWithCreated(),
	})
}

type updateDetailsRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email" binding:"omitempty,email"`
}

func (h HandlerSet) UpdateDetails(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	var req updateDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Please provide a valid name or email")
		return
	}
	if req.Name == nil && req.Email == nil {
		fail(c, http.StatusBadRequest, "Please provide a name or email to update")
		return
	}

	updated, err := h.auth.UpdateDetails(c.Request.Context(), user, service.ProfileUpdate{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		h.writeError(c, err, "Error updating user details")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "User details updated successfully",
		"user":    updated.Public(),
	})
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h HandlerSet) UpdatePassword(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	var req updatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Please provide current and new password")
		return
	}

	token, err := h.auth.ChangePassword(c.Request.Context(), user, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.writeError(c, err, "Error updating password")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Password updated successfully",
		"token":   token,
	})
}

func (h HandlerSet) Logout(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}
	claims, _ := middleware.TokenClaims(c)

	if err := h.auth.Logout(c.Request.Context(), user, claims); err != nil {
		h.writeError(c, err, "Error logging out")
		return
	}

	message := "Logged out successfully. Please delete your token on client side."
	if h.cfg != nil && h.cfg.Security.Revocation {
		message = "Logged out successfully."
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
	})
}
