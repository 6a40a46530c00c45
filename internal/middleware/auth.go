package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"authsession/internal/models"
	"authsession/internal/repository"
	"authsession/internal/security"
)

const (
	CurrentUserKey = "current_user"
	TokenClaimsKey = "token_claims"

	unauthenticatedMessage = "Not authorized to access this route"
)

type TokenVerifier interface {
	Verify(token string) (*security.TokenClaims, error)
}

type IdentityResolver interface {
	FindByID(ctx context.Context, id string) (models.User, error)
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type GuardOption func(*guard)

// WithRevocations makes the guard reject token ids present in checker.
func WithRevocations(checker RevocationChecker) GuardOption {
	return func(g *guard) { g.revocations = checker }
}

func WithMetrics(m *Metrics) GuardOption {
	return func(g *guard) { g.metrics = m }
}

type guard struct {
	tokens      TokenVerifier
	users       IdentityResolver
	revocations RevocationChecker
	metrics     *Metrics
	log         zerolog.Logger
}

// Auth authenticates the bearer token and attaches the stored identity. Every
// authentication failure gets the same 401 body.
func Auth(tokens TokenVerifier, users IdentityResolver, log zerolog.Logger, opts ...GuardOption) gin.HandlerFunc {
	g := &guard{tokens: tokens, users: users, log: log}
	for _, opt := range opts {
		opt(g)
	}

	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			g.reject(c, "missing_token")
			return
		}

		claims, err := g.tokens.Verify(tokenStr)
		if err != nil {
			reason := "invalid_token"
			if errors.Is(err, security.ErrTokenExpired) {
				reason = "expired_token"
			}
			g.reject(c, reason)
			return
		}

		ctx := c.Request.Context()
		if g.revocations != nil && claims.ID != "" {
			revoked, err := g.revocations.IsRevoked(ctx, claims.ID)
			if err != nil {
				g.log.Error().Err(err).Str("request_id", RequestIDFrom(c)).Msg("revocation check failed")
				abortJSON(c, http.StatusInternalServerError, internalMessage)
				return
			}
			if revoked {
				g.reject(c, "revoked_token")
				return
			}
		}

		user, err := g.users.FindByID(ctx, claims.SubjectID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				g.reject(c, "unknown_subject")
				return
			}
			g.log.Error().Err(err).Str("request_id", RequestIDFrom(c)).Msg("resolve identity failed")
			abortJSON(c, http.StatusInternalServerError, internalMessage)
			return
		}

		c.Set(CurrentUserKey, user)
		c.Set(TokenClaimsKey, claims)

		c.Next()
	}
}

func (g *guard) reject(c *gin.Context, reason string) {
	g.metrics.authRejected(reason)
	g.log.Debug().Str("reason", reason).Str("path", c.Request.URL.Path).Msg("request not authenticated")
	abortJSON(c, http.StatusUnauthorized, unauthenticatedMessage)
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// CurrentUser returns the identity attached by Auth.
func CurrentUser(c *gin.Context) (models.User, bool) {
	val, exists := c.Get(CurrentUserKey)
	if !exists {
		return models.User{}, false
	}
	user, ok := val.(models.User)
	return user, ok
}

func TokenClaims(c *gin.Context) (*security.TokenClaims, bool) {
	val, exists := c.Get(TokenClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := val.(*security.TokenClaims)
	return claims, ok
}
