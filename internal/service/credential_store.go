package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"authsession/internal/ids"
	"authsession/internal/models"
	"authsession/internal/repository"
	"authsession/internal/security"
)

// UserRepository is the storage contract behind the CredentialStore. Create
// and UpdateProfile must enforce email uniqueness themselves and report a
// violation as repository.ErrEmailTaken.
type UserRepository interface {
	Create(ctx context.Context, user models.User, passwordHash []byte) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	GetPasswordHash(ctx context.Context, id string) ([]byte, error)
	UpdateProfile(ctx context.Context, id string, name *string, email *string) (models.User, error)
	UpdatePasswordHash(ctx context.Context, id string, passwordHash []byte) error
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.User, error)
}

type ProfileUpdate struct {
	Name  *string
	Email *string
}

// CredentialStore owns identity records and password hashing. Password
// hashes are read only inside ComparePassword.
type CredentialStore struct {
	users             UserRepository
	hasher            *security.PasswordHasher
	minPasswordLength int
}

func NewCredentialStore(users UserRepository, hasher *security.PasswordHasher, minPasswordLength int) *CredentialStore {
	return &CredentialStore{
		users:             users,
		hasher:            hasher,
		minPasswordLength: minPasswordLength,
	}
}

func (s *CredentialStore) Create(ctx context.Context, name, email, password string) (models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" || email == "" || password == "" {
		return models.User{}, validationf("Please provide name, email and password")
	}
	if err := s.CheckPassword(password, "Password"); err != nil {
		return models.User{}, err
	}

	// Fast path for a friendly error; the repository constraint decides races.
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return models.User{}, ErrDuplicateEmail
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, models.User{
		ID:    ids.New(),
		Name:  name,
		Email: email,
		Role:  models.RoleUser,
	}, hash)
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return s.users.FindByEmail(ctx, email)
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (models.User, error) {
	return s.users.GetByID(ctx, id)
}

// ComparePassword reports whether candidate matches the stored hash of user.
// A mismatch is never an error; err is set only when the hash cannot be read.
func (s *CredentialStore) ComparePassword(ctx context.Context, user models.User, candidate string) (bool, error) {
	hash, err := s.users.GetPasswordHash(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.hasher.Burn(candidate)
			return false, nil
		}
		return false, fmt.Errorf("load password hash: %w", err)
	}

	ok, err := s.hasher.Verify(candidate, hash)
	if err != nil {
		return false, fmt.Errorf("verify password: %w", err)
	}
	return ok, nil
}

// BurnComparison spends one hash comparison without touching storage.
func (s *CredentialStore) BurnComparison(candidate string) {
	s.hasher.Burn(candidate)
}

func (s *CredentialStore) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (models.User, error) {
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		if trimmed == "" {
			return models.User{}, validationf("Name cannot be empty")
		}
		update.Name = &trimmed
	}
	if update.Email != nil && *update.Email == "" {
		return models.User{}, validationf("Email cannot be empty")
	}

	if update.Email != nil {
		existing, err := s.users.FindByEmail(ctx, *update.Email)
		switch {
		case err == nil && existing.ID != id:
			return models.User{}, ErrDuplicateEmail
		case err != nil && !errors.Is(err, repository.ErrUserNotFound):
			return models.User{}, fmt.Errorf("lookup email: %w", err)
		}
	}

	user, err := s.users.UpdateProfile(ctx, id, update.Name, update.Email)
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

// SetPassword re-hashes and overwrites. Callers verify the old password.
func (s *CredentialStore) SetPassword(ctx context.Context, id string, newPassword string) error {
	if err := s.CheckPassword(newPassword, "New password"); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, id, hash); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	return nil
}

func (s *CredentialStore) SetRole(ctx context.Context, id string, role models.UserRole) error {
	if !role.Valid() {
		return validationf("Unknown role %q", role)
	}
	return s.users.UpdateRole(ctx, id, role)
}

func (s *CredentialStore) Delete(ctx context.Context, id string) error {
	return s.users.Delete(ctx, id)
}

func (s *CredentialStore) List(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}

// CheckPassword applies the length rules without touching storage.
func (s *CredentialStore) CheckPassword(password string, label string) error {
	if len(password) < s.minPasswordLength {
		return validationf("%s must be at least %d characters", label, s.minPasswordLength)
	}
	if err := s.hasher.CheckLength(password); err != nil {
		return validationf("%s must be at most %d bytes", label, security.MaxBcryptPasswordBytes)
	}
	return nil
}
