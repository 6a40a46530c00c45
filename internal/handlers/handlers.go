package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"authsession/internal/config"
	"authsession/internal/middleware"
	"authsession/internal/models"
	"authsession/internal/service"
)

// Deps are the collaborators of the HTTP surface. Revocations and Metrics
// are optional.
type Deps struct {
	Auth        *service.AuthService
	Tokens      middleware.TokenVerifier
	Revocations middleware.RevocationChecker
	Metrics     *middleware.Metrics
	Checks      []HealthCheck
}

type HandlerSet struct {
	log    zerolog.Logger
	cfg    *config.AppConfig
	auth   *service.AuthService
	guard  gin.HandlerFunc
	checks []HealthCheck
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, deps Deps) HandlerSet {
	opts := []middleware.GuardOption{middleware.WithMetrics(deps.Metrics)}
	if deps.Revocations != nil {
		opts = append(opts, middleware.WithRevocations(deps.Revocations))
	}

	return HandlerSet{
		log:    log,
		cfg:    cfg,
		auth:   deps.Auth,
		guard:  middleware.Auth(deps.Tokens, deps.Auth.Credentials(), log, opts...),
		checks: deps.Checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	auth := router.Group("/auth")
	auth.POST("/register", h.RegisterUser)
	auth.POST("/login", h.Login)

	protected := auth.Group("")
	protected.Use(h.guard)
	protected.GET("/me", h.Me)
	protected.PUT("/updatedetails", h.UpdateDetails)
	protected.PUT("/updatepassword", h.UpdatePassword)
	protected.GET("/logout", h.Logout)

	admin := auth.Group("")
	admin.Use(h.guard, middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/admin", h.AdminWelcome)
	admin.GET("/users", h.ListUsers)
}
