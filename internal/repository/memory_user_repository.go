package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"authsession/internal/models"
)

type memoryRecord struct {
	user         models.User
	passwordHash []byte
}

// MemoryUserRepository keeps users in process memory. The email index is
// maintained under the same lock as the records, which gives it the same
// hard uniqueness guarantee as the postgres constraint.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*memoryRecord
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]*memoryRecord),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user models.User, passwordHash []byte) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[user.Email]; taken {
		return models.User{}, ErrEmailTaken
	}

	now := r.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	r.byID[user.ID] = &memoryRecord{user: user, passwordHash: cloneBytes(passwordHash)}
	r.byEmail[user.Email] = user.ID
	return user, nil
}

func (r *MemoryUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return r.byID[id].user, nil
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return rec.user, nil
}

func (r *MemoryUserRepository) GetPasswordHash(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneBytes(rec.passwordHash), nil
}

func (r *MemoryUserRepository) UpdateProfile(ctx context.Context, id string, name *string, email *string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}

	if email != nil && *email != rec.user.Email {
		if _, taken := r.byEmail[*email]; taken {
			return models.User{}, ErrEmailTaken
		}
		delete(r.byEmail, rec.user.Email)
		r.byEmail[*email] = id
		rec.user.Email = *email
	}
	if name != nil {
		rec.user.Name = *name
	}
	rec.user.UpdatedAt = r.now().UTC()
	return rec.user, nil
}

func (r *MemoryUserRepository) UpdatePasswordHash(ctx context.Context, id string, passwordHash []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	rec.passwordHash = cloneBytes(passwordHash)
	rec.user.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryUserRepository) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	rec.user.Role = role
	rec.user.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryUserRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(r.byEmail, rec.user.Email)
	delete(r.byID, id)
	return nil
}

func (r *MemoryUserRepository) List(ctx context.Context) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	users := make([]models.User, 0, len(r.byID))
	for _, rec := range r.byID {
		users = append(users, rec.user)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
