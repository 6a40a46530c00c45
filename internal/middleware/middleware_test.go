package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsession/internal/cache"
	"authsession/internal/models"
	"authsession/internal/repository"
	"authsession/internal/security"
)

const testSecret = "middleware-test-secret-middleware-test"

func init() {
	gin.SetMode(gin.TestMode)
}

type repoResolver struct {
	repo *repository.MemoryUserRepository
}

func (r repoResolver) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.repo.GetByID(ctx, id)
}

type brokenResolver struct{}

func (brokenResolver) FindByID(context.Context, string) (models.User, error) {
	return models.User{}, errors.New("connection reset")
}

type guardFixture struct {
	repo    *repository.MemoryUserRepository
	tokens  *security.TokenService
	metrics *Metrics
	router  *gin.Engine
}

func newGuardFixture(t *testing.T, opts ...GuardOption) guardFixture {
	t.Helper()

	f := guardFixture{
		repo:    repository.NewMemoryUserRepository(),
		tokens:  security.NewTokenService(testSecret, time.Hour),
		metrics: NewMetrics("test", prometheus.NewRegistry()),
	}

	opts = append(opts, WithMetrics(f.metrics))
	auth := Auth(f.tokens, repoResolver{f.repo}, zerolog.Nop(), opts...)

	f.router = gin.New()
	f.router.Use(RequestID(), Recovery(zerolog.Nop()), f.metrics.Handler())
	f.router.GET("/me", auth, func(c *gin.Context) {
		user, ok := CurrentUser(c)
		require.True(t, ok)
		claims, ok := TokenClaims(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": user.ID, "role": user.Role, "jti": claims.ID})
	})
	f.router.GET("/users", auth, RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return f
}

func (f guardFixture) createUser(t *testing.T, email string, role models.UserRole) models.User {
	t.Helper()
	user, err := f.repo.Create(context.Background(), models.User{ID: "id-" + email, Name: "N", Email: email, Role: role}, []byte("hash"))
	require.NoError(t, err)
	return user
}

func (f guardFixture) do(t *testing.T, path string, authorization string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestGuardAttachesIdentity(t *testing.T) {
	f := newGuardFixture(t)
	user := f.createUser(t, "ana@x.com", models.RoleUser)
	token, err := f.tokens.Issue(user.ID, user.Role)
	require.NoError(t, err)

	rec, body := f.do(t, "/me", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.ID, body["id"])
	assert.NotEmpty(t, body["jti"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestGuardFailuresAreUniform(t *testing.T) {
	f := newGuardFixture(t)
	user := f.createUser(t, "ana@x.com", models.RoleUser)

	expired, err := f.tokens.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }).Issue(user.ID, user.Role)
	require.NoError(t, err)
	foreign, err := security.NewTokenService("some-other-secret-some-other-secret", time.Hour).Issue(user.ID, user.Role)
	require.NoError(t, err)
	ghost, err := f.tokens.Issue("deleted-account", models.RoleUser)
	require.NoError(t, err)

	headers := []string{
		"",
		"Basic abc",
		"Bearer ",
		"Bearer garbage",
		"Bearer " + expired,
		"Bearer " + foreign,
		"Bearer " + ghost,
	}

	for _, header := range headers {
		rec, body := f.do(t, "/me", header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		assert.Equal(t, map[string]any{"success": false, "message": unauthenticatedMessage}, body, "header %q", header)
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.authRejections.WithLabelValues("missing_token")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.authRejections.WithLabelValues("expired_token")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.authRejections.WithLabelValues("unknown_subject")))
}

func TestGuardRoleIsReadFromStore(t *testing.T) {
	f := newGuardFixture(t)
	admin := f.createUser(t, "boss@x.com", models.RoleAdmin)
	token, err := f.tokens.Issue(admin.ID, models.RoleAdmin)
	require.NoError(t, err)

	rec, _ := f.do(t, "/users", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, f.repo.UpdateRole(context.Background(), admin.ID, models.RoleUser))

	rec, body := f.do(t, "/users", "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestGuardPromotionTakesEffectWithSameToken(t *testing.T) {
	f := newGuardFixture(t)
	user := f.createUser(t, "ana@x.com", models.RoleUser)
	token, err := f.tokens.Issue(user.ID, models.RoleUser)
	require.NoError(t, err)

	rec, _ := f.do(t, "/users", "Bearer "+token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, f.repo.UpdateRole(context.Background(), user.ID, models.RoleAdmin))

	rec, _ = f.do(t, "/users", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardRejectsRevokedToken(t *testing.T) {
	revocations := cache.NewMemoryRevocationList()
	f := newGuardFixture(t, WithRevocations(revocations))
	user := f.createUser(t, "ana@x.com", models.RoleUser)
	token, err := f.tokens.Issue(user.ID, user.Role)
	require.NoError(t, err)

	rec, _ := f.do(t, "/me", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)

	claims, err := f.tokens.Verify(token)
	require.NoError(t, err)
	require.NoError(t, revocations.Revoke(context.Background(), claims.ID, claims.ExpiresAt))

	rec, body := f.do(t, "/me", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, unauthenticatedMessage, body["message"])
}

func TestGuardStorageFailureIsGeneric500(t *testing.T) {
	tokens := security.NewTokenService(testSecret, time.Hour)
	router := gin.New()
	router.GET("/me", Auth(tokens, brokenResolver{}, zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	token, err := tokens.Issue("u1", models.RoleUser)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestRequireRolesWithoutGuard(t *testing.T) {
	router := gin.New()
	router.GET("/admin", RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecoveryReturnsUniformBody(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Recovery(zerolog.Nop()))
	router.GET("/boom", func(c *gin.Context) {
		panic("kaboom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"Server error"}`, rec.Body.String())
}

func TestRequestIDIsPropagated(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFrom(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
	assert.Equal(t, "abc-123", rec.Body.String())
}

func TestRequestIDReplacesUnsafeValues(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFrom(c))
	})

	for _, incoming := range []string{"", "two words", "line\u2028break", strings.Repeat("a", 129)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if incoming != "" {
			req.Header.Set(requestIDHeader, incoming)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		got := rec.Header().Get(requestIDHeader)
		assert.NotEqual(t, incoming, got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err, "incoming %q", incoming)
		assert.Equal(t, got, rec.Body.String())
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	router := gin.New()
	router.Use(m.Handler())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	m.authRejected("x")
}
