package client

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"authsession/internal/models"
)

const staleMessage = "Session changed while the request was in flight"

// State is a snapshot of the session as seen by subscribers.
type State struct {
	CurrentUser     *models.PublicUser
	Token           string
	Loading         bool
	Error           string
	IsAuthenticated bool
	IsAdmin         bool
}

// Result is returned by every session operation instead of an error.
type Result struct {
	Success bool
	Error   string
}

func failed(message string) Result {
	return Result{Error: message}
}

type listener struct {
	id int
	fn func(State)
}

// Session is the process-wide client session.
//
// Hydrate shows the persisted snapshot right away and then revalidates it with
// GET /me: a 401 clears the session, a transport failure keeps the snapshot
// and records the error. The snapshot only drives display; the server
// re-checks identity and role on every call.
//
// Login, Register, Hydrate and Logout each take a new sequence number. A
// response is applied only while its number is still the latest, so a login
// answered after a Logout cannot bring the session back. Profile and
// password updates apply only if no such operation started meanwhile.
type Session struct {
	api     *API
	storage Storage
	log     zerolog.Logger

	// delivery is held from snapshot to the last listener call, so
	// listeners see states in the order they were taken.
	delivery sync.Mutex

	mu        sync.Mutex
	user      *models.PublicUser
	token     string
	pending   int
	errMsg    string
	seq       uint64
	listeners []listener
	nextID    int
}

func NewSession(api *API, storage Storage, log zerolog.Logger) *Session {
	return &Session{api: api, storage: storage, log: log}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	st := State{
		Token:   s.token,
		Loading: s.pending > 0,
		Error:   s.errMsg,
	}
	if s.user != nil {
		u := *s.user
		st.CurrentUser = &u
		st.IsAuthenticated = true
		st.IsAdmin = u.IsAdmin()
	}
	return st
}

// Subscribe registers fn for every state change. The returned func removes it.
// Listeners run one at a time and must not call Session operations that
// change state.
func (s *Session) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) notify() {
	s.delivery.Lock()
	defer s.delivery.Unlock()

	s.mu.Lock()
	st := s.stateLocked()
	fns := make([]func(State), 0, len(s.listeners))
	for _, l := range s.listeners {
		fns = append(fns, l.fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// begin starts an identity operation and returns its sequence number.
func (s *Session) begin(loading bool) uint64 {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	if loading {
		s.pending++
		s.errMsg = ""
	}
	s.mu.Unlock()

	s.notify()
	return seq
}

func (s *Session) current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// finish runs apply under the lock when seq is still the latest and reports
// whether it did.
func (s *Session) finish(seq uint64, loading bool, apply func()) bool {
	s.mu.Lock()
	if loading {
		s.pending--
	}
	latest := seq == s.seq
	if latest {
		apply()
	}
	s.mu.Unlock()

	s.notify()
	return latest
}

func (s *Session) setLocked(token string, user models.PublicUser) error {
	if err := saveSnapshot(s.storage, token, user); err != nil {
		return err
	}
	s.token = token
	s.user = &user
	return nil
}

func (s *Session) clearLocked() {
	if err := clearSnapshot(s.storage); err != nil {
		s.log.Warn().Err(err).Msg("clear persisted session failed")
	}
	s.token = ""
	s.user = nil
}

func (s *Session) Hydrate(ctx context.Context) Result {
	token, snapshot, err := loadSnapshot(s.storage)
	if err != nil {
		s.log.Warn().Err(err).Msg("read persisted session failed")
		return failed("Could not read saved session")
	}
	if token == "" {
		return Result{Success: true}
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.token = token
	s.user = snapshot
	s.mu.Unlock()
	s.notify()

	user, err := s.api.Me(ctx)

	var result Result
	applied := s.finish(seq, false, func() {
		switch {
		case err == nil:
			if saveErr := saveUser(s.storage, user); saveErr != nil {
				s.log.Warn().Err(saveErr).Msg("persist revalidated user failed")
			}
			s.user = &user
			s.errMsg = ""
			result = Result{Success: true}
		case IsUnauthorized(err):
			s.clearLocked()
			result = failed(messageFor(err, "Session expired"))
		default:
			s.errMsg = "Could not reach server to verify session"
			result = failed(s.errMsg)
		}
	})
	if !applied {
		return failed(staleMessage)
	}
	if err != nil {
		s.log.Debug().Err(err).Msg("session revalidation failed")
	}
	return result
}

func (s *Session) Register(ctx context.Context, input RegisterInput) Result {
	return s.authenticate(ctx, "Registration failed", func() (AuthResponse, error) {
		return s.api.Register(ctx, input)
	})
}

func (s *Session) Login(ctx context.Context, creds Credentials) Result {
	return s.authenticate(ctx, "Login failed", func() (AuthResponse, error) {
		return s.api.Login(ctx, creds)
	})
}

func (s *Session) authenticate(ctx context.Context, fallback string, call func() (AuthResponse, error)) Result {
	seq := s.begin(true)

	resp, err := call()

	var result Result
	applied := s.finish(seq, true, func() {
		if err != nil {
			s.errMsg = messageFor(err, fallback)
			result = failed(s.errMsg)
			return
		}
		if saveErr := s.setLocked(resp.Token, resp.User); saveErr != nil {
			s.log.Warn().Err(saveErr).Msg("persist session failed")
			s.errMsg = "Could not save session"
			result = failed(s.errMsg)
			return
		}
		result = Result{Success: true}
	})
	if !applied {
		return failed(staleMessage)
	}
	return result
}

// Logout asks the server to end the session, then clears local state even if
// the server call fails.
func (s *Session) Logout(ctx context.Context) Result {
	seq := s.begin(false)

	s.mu.Lock()
	hasToken := s.token != ""
	s.mu.Unlock()

	if hasToken {
		if err := s.api.Logout(ctx); err != nil {
			s.log.Warn().Err(err).Msg("server logout failed")
		}
	}

	s.finish(seq, false, func() {
		s.clearLocked()
		s.errMsg = ""
	})
	return Result{Success: true}
}

// UpdateUser replaces the local projection. It does not touch the token and
// does nothing while logged out.
func (s *Session) UpdateUser(user models.PublicUser) {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return
	}
	if err := saveUser(s.storage, user); err != nil {
		s.log.Warn().Err(err).Msg("persist user failed")
	}
	s.user = &user
	s.mu.Unlock()

	s.notify()
}

func (s *Session) UpdateProfile(ctx context.Context, input ProfileInput) Result {
	seq := s.current()

	user, err := s.api.UpdateDetails(ctx, input)
	if err != nil {
		return failed(messageFor(err, "Error updating profile"))
	}

	applied := s.finish(seq, false, func() {
		if user.CreatedAt == nil && s.user != nil {
			user.CreatedAt = s.user.CreatedAt
		}
		if saveErr := saveUser(s.storage, user); saveErr != nil {
			s.log.Warn().Err(saveErr).Msg("persist user failed")
		}
		s.user = &user
	})
	if !applied {
		return failed(staleMessage)
	}
	return Result{Success: true}
}

func (s *Session) ChangePassword(ctx context.Context, current, next string) Result {
	seq := s.current()

	token, err := s.api.UpdatePassword(ctx, current, next)
	if err != nil {
		return failed(messageFor(err, "Error updating password"))
	}

	applied := s.finish(seq, false, func() {
		if err = s.storage.Set(TokenKey, []byte(token)); err == nil {
			s.token = token
		}
	})
	if !applied {
		return failed(staleMessage)
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("persist token failed")
		return failed("Could not save new token")
	}
	return Result{Success: true}
}

func (s *Session) ListUsers(ctx context.Context) ([]models.PublicUser, Result) {
	users, err := s.api.Users(ctx)
	if err != nil {
		return nil, failed(messageFor(err, "Error fetching users"))
	}
	return users, Result{Success: true}
}

func messageFor(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
