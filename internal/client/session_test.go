package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"authsession/internal/config"
	"authsession/internal/handlers"
	"authsession/internal/middleware"
	"authsession/internal/models"
	"authsession/internal/repository"
	"authsession/internal/security"
	"authsession/internal/service"
)

type testServer struct {
	*httptest.Server
	repo *repository.MemoryUserRepository

	mu      sync.Mutex
	gate    chan struct{}
	arrived chan struct{}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher, err := security.NewPasswordHasher(security.AlgorithmBcrypt, bcrypt.MinCost)
	require.NoError(t, err)

	ts := &testServer{repo: repository.NewMemoryUserRepository()}
	tokens := security.NewTokenService("client-test-secret-client-test-secret", time.Hour)
	creds := service.NewCredentialStore(ts.repo, hasher, 6)
	auth := service.NewAuthService(creds, tokens, nil, nil, zerolog.Nop())

	engine := gin.New()
	engine.Use(middleware.Recovery(zerolog.Nop()))
	handlers.NewHandlerSet(zerolog.Nop(), &config.AppConfig{}, handlers.Deps{Auth: auth, Tokens: tokens}).
		Register(engine.Group("/api"))

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login" {
			ts.mu.Lock()
			gate, arrived := ts.gate, ts.arrived
			ts.mu.Unlock()
			if gate != nil {
				arrived <- struct{}{}
				<-gate
			}
		}
		engine.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// holdLogins makes login requests wait until the returned func is called.
func (ts *testServer) holdLogins(buffer int) (<-chan struct{}, func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.gate = make(chan struct{})
	ts.arrived = make(chan struct{}, buffer)
	gate := ts.gate
	var once sync.Once
	return ts.arrived, func() { once.Do(func() { close(gate) }) }
}

func newSession(ts *testServer, store Storage) *Session {
	return NewSession(NewAPI(ts.URL+"/api/auth", nil, store), store, zerolog.Nop())
}

func registerAna(t *testing.T, s *Session) {
	t.Helper()
	res := s.Register(context.Background(), RegisterInput{Name: "Ana", Email: "ana@x.com", Password: "secret1"})
	require.True(t, res.Success, res.Error)
}

func TestRegisterPersistsSession(t *testing.T) {
	ts := newTestServer(t)
	store := NewMemoryStorage()
	s := newSession(ts, store)

	var states []State
	unsubscribe := s.Subscribe(func(st State) { states = append(states, st) })
	defer unsubscribe()

	registerAna(t, s)

	st := s.State()
	require.True(t, st.IsAuthenticated)
	assert.False(t, st.IsAdmin)
	assert.False(t, st.Loading)
	assert.Equal(t, "Ana", st.CurrentUser.Name)
	assert.NotEmpty(t, st.Token)

	token, ok, err := store.Get(TokenKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st.Token, string(token))

	rawUser, ok, err := store.Get(UserKey)
	require.NoError(t, err)
	require.True(t, ok)
	var persisted models.PublicUser
	require.NoError(t, json.Unmarshal(rawUser, &persisted))
	assert.Equal(t, "ana@x.com", persisted.Email)

	require.NotEmpty(t, states)
	assert.True(t, states[0].Loading)
	assert.False(t, states[len(states)-1].Loading)
}

func TestLoginFailureSurfacesServerMessage(t *testing.T) {
	ts := newTestServer(t)
	s := newSession(ts, NewMemoryStorage())
	registerAna(t, s)
	s.Logout(context.Background())

	res := s.Login(context.Background(), Credentials{Email: "ana@x.com", Password: "wrong-one"})
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid credentials", res.Error)

	st := s.State()
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, "Invalid credentials", st.Error)

	res = s.Login(context.Background(), Credentials{Email: "ana@x.com", Password: "secret1"})
	require.True(t, res.Success)
	assert.Empty(t, s.State().Error)
}

func TestRegisterDuplicateSurfacesMessage(t *testing.T) {
	ts := newTestServer(t)
	registerAna(t, newSession(ts, NewMemoryStorage()))

	s := newSession(ts, NewMemoryStorage())
	res := s.Register(context.Background(), RegisterInput{Name: "Ana", Email: "ana@x.com", Password: "secret1"})
	assert.False(t, res.Success)
	assert.Equal(t, "User already exists with this email", res.Error)
	assert.False(t, s.State().IsAuthenticated)
}

func TestTransportFailureUsesFallbackMessage(t *testing.T) {
	ts := newTestServer(t)
	url := ts.URL
	ts.Close()

	store := NewMemoryStorage()
	s := NewSession(NewAPI(url+"/api/auth", nil, store), store, zerolog.Nop())

	res := s.Login(context.Background(), Credentials{Email: "ana@x.com", Password: "secret1"})
	assert.False(t, res.Success)
	assert.Equal(t, "Login failed", res.Error)
}

func TestHydrateRevalidatesSnapshot(t *testing.T) {
	ts := newTestServer(t)
	store := NewMemoryStorage()
	registerAna(t, newSession(ts, store))

	tampered, err := json.Marshal(models.PublicUser{ID: "forged", Name: "Ana", Email: "ana@x.com", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, store.Set(UserKey, tampered))

	s := newSession(ts, store)
	var states []State
	s.Subscribe(func(st State) { states = append(states, st) })

	res := s.Hydrate(context.Background())
	require.True(t, res.Success, res.Error)

	require.NotEmpty(t, states)
	assert.True(t, states[0].IsAdmin, "optimistic snapshot is shown first")

	st := s.State()
	require.True(t, st.IsAuthenticated)
	assert.False(t, st.IsAdmin)
	assert.NotEqual(t, "forged", st.CurrentUser.ID)
	assert.NotNil(t, st.CurrentUser.CreatedAt)
}

func TestHydrateClearsRejectedToken(t *testing.T) {
	ts := newTestServer(t)
	store := NewMemoryStorage()
	require.NoError(t, store.Set(TokenKey, []byte("garbage")))
	require.NoError(t, saveUser(store, models.PublicUser{ID: "u1", Name: "Ana", Role: models.RoleUser}))

	s := newSession(ts, store)
	res := s.Hydrate(context.Background())
	assert.False(t, res.Success)
	assert.False(t, s.State().IsAuthenticated)

	_, ok, err := store.Get(TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Get(UserKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHydrateClearsDeletedAccount(t *testing.T) {
	ts := newTestServer(t)
	store := NewMemoryStorage()
	first := newSession(ts, store)
	registerAna(t, first)
	require.NoError(t, ts.repo.Delete(context.Background(), first.State().CurrentUser.ID))

	s := newSession(ts, store)
	res := s.Hydrate(context.Background())
	assert.False(t, res.Success)
	assert.False(t, s.State().IsAuthenticated)
}

func TestHydrateKeepsSnapshotWhenServerUnreachable(t *testing.T) {
	ts := newTestServer(t)
	store := NewMemoryStorage()
	registerAna(t, newSession(ts, store))
	url := ts.URL
	ts.Close()

	s := NewSession(NewAPI(url+"/api/auth", nil, store), store, zerolog.Nop())
	res := s.Hydrate(context.Background())

	assert.False(t, res.Success)
	st := s.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, "Ana", st.CurrentUser.Name)
	assert.NotEmpty(t, st.Error)

	_, ok, err := store.Get(TokenKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHydrateWithoutSnapshot(t *testing.T) {
	ts := newTestServer(t)
	s := newSession(ts, NewMemoryStorage())

	res := s.Hydrate(context.Background())
	assert.True(t, res.Success)
	assert.False(t, s.State().IsAuthenticated)
}

func TestLogoutClearsState(t *testing.T) {
	ts := newTestServer(t)
	store := NewMemoryStorage()
	s := newSession(ts, store)
	registerAna(t, s)

	res := s.Logout(context.Background())
	assert.True(t, res.Success)

	st := s.State()
	assert.False(t, st.IsAuthenticated)
	assert.Empty(t, st.Token)
	_, ok, err := store.Get(TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLateLoginDoesNotResurrectSession(t *testing.T) {
	ts := newTestServer(t)
	registerAna(t, newSession(ts, NewMemoryStorage()))

	store := NewMemoryStorage()
	s := newSession(ts, store)

	arrived, release := ts.holdLogins(1)
	defer release()

	done := make(chan Result, 1)
	go func() {
		done <- s.Login(context.Background(), Credentials{Email: "ana@x.com", Password: "secret1"})
	}()

	<-arrived
	assert.True(t, s.State().Loading)
	s.Logout(context.Background())
	release()

	res := <-done
	assert.False(t, res.Success)
	assert.Equal(t, staleMessage, res.Error)

	st := s.State()
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.Loading)
	_, ok, err := store.Get(TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOverlappingLoginsLatestWins(t *testing.T) {
	ts := newTestServer(t)
	registerAna(t, newSession(ts, NewMemoryStorage()))

	s := newSession(ts, NewMemoryStorage())
	arrived, release := ts.holdLogins(2)
	defer release()

	results := make(chan Result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- s.Login(context.Background(), Credentials{Email: "ana@x.com", Password: "secret1"})
		}()
	}
	<-arrived
	<-arrived
	assert.True(t, s.State().Loading)
	release()

	successes := 0
	for i := 0; i < 2; i++ {
		if (<-results).Success {
			successes++
		}
	}
	assert.Equal(t, 1, successes)

	st := s.State()
	assert.False(t, st.Loading)
	assert.True(t, st.IsAuthenticated)
}

func TestUpdateProfileAndPassword(t *testing.T) {
	ts := newTestServer(t)
	store := NewMemoryStorage()
	s := newSession(ts, store)
	registerAna(t, s)
	require.True(t, s.Hydrate(context.Background()).Success)
	created := s.State().CurrentUser.CreatedAt

	name := "Ana Maria"
	res := s.UpdateProfile(context.Background(), ProfileInput{Name: &name})
	require.True(t, res.Success, res.Error)
	st := s.State()
	assert.Equal(t, "Ana Maria", st.CurrentUser.Name)
	assert.Equal(t, created, st.CurrentUser.CreatedAt)

	oldToken := st.Token
	res = s.ChangePassword(context.Background(), "wrong-one", "secret2")
	assert.False(t, res.Success)
	assert.Equal(t, "Current password is incorrect", res.Error)
	assert.Equal(t, oldToken, s.State().Token)

	res = s.ChangePassword(context.Background(), "secret1", "secret2")
	require.True(t, res.Success, res.Error)
	assert.NotEqual(t, oldToken, s.State().Token)

	token, _, err := store.Get(TokenKey)
	require.NoError(t, err)
	assert.Equal(t, s.State().Token, string(token))
}

func TestUpdateUserIsLocalOnly(t *testing.T) {
	ts := newTestServer(t)
	store := NewMemoryStorage()
	s := newSession(ts, store)
	registerAna(t, s)
	token := s.State().Token

	user := *s.State().CurrentUser
	user.Name = "Local"
	s.UpdateUser(user)

	st := s.State()
	assert.Equal(t, "Local", st.CurrentUser.Name)
	assert.Equal(t, token, st.Token)
}

func TestUpdateUserWithoutSessionIsIgnored(t *testing.T) {
	ts := newTestServer(t)
	store := NewMemoryStorage()
	s := newSession(ts, store)

	s.UpdateUser(models.PublicUser{ID: "x", Role: models.RoleAdmin})
	st := s.State()
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.IsAdmin)

	registerAna(t, s)
	require.True(t, s.Logout(context.Background()).Success)

	s.UpdateUser(models.PublicUser{ID: "x", Name: "Ghost", Role: models.RoleAdmin})
	st = s.State()
	assert.False(t, st.IsAuthenticated)
	assert.Nil(t, st.CurrentUser)

	_, ok, err := store.Get(UserKey)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Get(TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListenersEndOnLatestState(t *testing.T) {
	ts := newTestServer(t)
	s := newSession(ts, NewMemoryStorage())
	registerAna(t, s)
	base := *s.State().CurrentUser

	var last State
	s.Subscribe(func(st State) { last = st })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := base
			user.Name = fmt.Sprintf("Ana %d", i)
			s.UpdateUser(user)
		}(i)
	}
	wg.Wait()

	require.NotNil(t, last.CurrentUser)
	assert.Equal(t, s.State().CurrentUser.Name, last.CurrentUser.Name)
}

func TestListUsersRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	s := newSession(ts, NewMemoryStorage())
	registerAna(t, s)

	users, res := s.ListUsers(context.Background())
	assert.Nil(t, users)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not authorized")

	require.NoError(t, ts.repo.UpdateRole(context.Background(), s.State().CurrentUser.ID, models.RoleAdmin))

	users, res = s.ListUsers(context.Background())
	require.True(t, res.Success, res.Error)
	require.Len(t, users, 1)
	assert.Equal(t, "Ana", users[0].Name)
}

func TestUnsubscribe(t *testing.T) {
	ts := newTestServer(t)
	s := newSession(ts, NewMemoryStorage())

	calls := 0
	unsubscribe := s.Subscribe(func(State) { calls++ })
	registerAna(t, s)
	seen := calls
	require.Positive(t, seen)

	unsubscribe()
	s.Logout(context.Background())
	assert.Equal(t, seen, calls)
}
