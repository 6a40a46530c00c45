package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"authsession/internal/models"
)

const uniqueViolation = "23505"

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts user with its password hash. The users_email_key unique
// constraint is the authority on email uniqueness; its violation surfaces as
// ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, user models.User, passwordHash []byte) (models.User, error) {
	const query = `
		INSERT INTO users (
			id, name, email, password_hash, role, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, NOW(), NOW()
		)
		RETURNING id, name, email, role, created_at, updated_at
	`

	row := r.pool.QueryRow(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		passwordHash,
		user.Role,
	)
	created, err := scanUser(row)
	if err != nil {
		return models.User{}, translateError(err)
	}
	return created, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `
		SELECT id, name, email, role, created_at, updated_at
		FROM users WHERE email = $1
	`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		return models.User{}, translateError(err)
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	const query = `
		SELECT id, name, email, role, created_at, updated_at
		FROM users WHERE id = $1
	`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return models.User{}, translateError(err)
	}
	return user, nil
}

// GetPasswordHash is the only query that reads password_hash.
func (r *UserRepository) GetPasswordHash(ctx context.Context, id string) ([]byte, error) {
	const query = `SELECT password_hash FROM users WHERE id = $1`

	var hash []byte
	if err := r.pool.QueryRow(ctx, query, id).Scan(&hash); err != nil {
		return nil, translateError(err)
	}
	return hash, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, name *string, email *string) (models.User, error) {
	const query = `
		UPDATE users
		SET name = COALESCE($2, name),
		    email = COALESCE($3, email),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, email, role, created_at, updated_at
	`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, name, email))
	if err != nil {
		return models.User{}, translateError(err)
	}
	return user, nil
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id string, passwordHash []byte) error {
	const query = `
		UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`
	return r.execAffectingOne(ctx, query, id, passwordHash)
}

func (r *UserRepository) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	const query = `
		UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1
	`
	return r.execAffectingOne(ctx, query, id, role)
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	return r.execAffectingOne(ctx, query, id)
}

func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	const query = `
		SELECT id, name, email, role, created_at, updated_at
		FROM users
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *UserRepository) execAffectingOne(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func translateError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}
