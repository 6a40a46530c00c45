package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"authsession/internal/events"
	"authsession/internal/models"
	"authsession/internal/repository"
	"authsession/internal/security"
)

// RevocationList records token ids that must be rejected before expiry.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
}

type AuthService struct {
	creds       *CredentialStore
	tokens      *security.TokenService
	revocations RevocationList
	events      events.Publisher
	log         zerolog.Logger
}

// NewAuthService wires the auth use-cases. revocations may be nil, in which
// case logout is client-side only.
func NewAuthService(
	creds *CredentialStore,
	tokens *security.TokenService,
	revocations RevocationList,
	publisher events.Publisher,
	log zerolog.Logger,
) *AuthService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &AuthService{
		creds:       creds,
		tokens:      tokens,
		revocations: revocations,
		events:      publisher,
		log:         log,
	}
}

func (s *AuthService) Credentials() *CredentialStore {
	return s.creds
}

type RegisterInput struct {
	Name      string
	Email     string
	Password  string
	IPAddress string
}

type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
}

type AuthResult struct {
	Token string
	User  models.User
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	user, err := s.creds.Create(ctx, input.Name, input.Email, input.Password)
	if err != nil {
		return AuthResult{}, err
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}

	s.publish(ctx, events.Event{Type: events.UserRegistered, UserID: user.ID, Email: user.Email, IP: input.IPAddress})
	return AuthResult{Token: token, User: user}, nil
}

// Login returns ErrInvalidCredentials for both an unknown email and a wrong
// password, after spending one hash comparison in either case.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	if input.Email == "" || input.Password == "" {
		return AuthResult{}, validationf("Please provide an email and password")
	}

	user, err := s.creds.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.creds.BurnComparison(input.Password)
			s.publish(ctx, events.Event{Type: events.UserLoginFailed, Email: input.Email, IP: input.IPAddress})
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("find user: %w", err)
	}

	ok, err := s.creds.ComparePassword(ctx, user, input.Password)
	if err != nil {
		return AuthResult{}, err
	}
	if !ok {
		s.publish(ctx, events.Event{Type: events.UserLoginFailed, UserID: user.ID, Email: user.Email, IP: input.IPAddress})
		return AuthResult{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}

	s.publish(ctx, events.Event{Type: events.UserLogin, UserID: user.ID, Email: user.Email, IP: input.IPAddress})
	return AuthResult{Token: token, User: user}, nil
}

func (s *AuthService) UpdateDetails(ctx context.Context, user models.User, update ProfileUpdate) (models.User, error) {
	updated, err := s.creds.UpdateProfile(ctx, user.ID, update)
	if err != nil {
		return models.User{}, err
	}

	s.publish(ctx, events.Event{Type: events.UserProfileUpdated, UserID: updated.ID, Email: updated.Email})
	return updated, nil
}

// ChangePassword verifies current, stores next and mints a fresh token.
// Tokens issued before the change stay valid until they expire.
func (s *AuthService) ChangePassword(ctx context.Context, user models.User, current, next string) (string, error) {
	if current == "" || next == "" {
		return "", validationf("Please provide current and new password")
	}
	if err := s.creds.CheckPassword(next, "New password"); err != nil {
		return "", err
	}

	ok, err := s.creds.ComparePassword(ctx, user, current)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrIncorrectPassword
	}

	if err := s.creds.SetPassword(ctx, user.ID, next); err != nil {
		return "", err
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	s.publish(ctx, events.Event{Type: events.UserPasswordChanged, UserID: user.ID, Email: user.Email})
	return token, nil
}

func (s *AuthService) Logout(ctx context.Context, user models.User, claims *security.TokenClaims) error {
	if s.revocations != nil && claims != nil && claims.ID != "" {
		if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt); err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}
	}

	s.publish(ctx, events.Event{Type: events.UserLogout, UserID: user.ID, Email: user.Email})
	return nil
}

func (s *AuthService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.creds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *AuthService) publish(ctx context.Context, evt events.Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.Warn().Err(err).Str("event", string(evt.Type)).Str("user_id", evt.UserID).Msg("publish auth event failed")
	}
}
