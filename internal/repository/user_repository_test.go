package repository

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsession/internal/config"
	"authsession/internal/database"
	"authsession/internal/ids"
	"authsession/internal/models"
)

// postgresPool connects to AUTHSESSION_TEST_POSTGRES_DSN and skips the test
// when it is not set.
func postgresPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("AUTHSESSION_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AUTHSESSION_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, config.PostgresConfig{DSN: dsn, MaxOpen: 5})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE users`)
	require.NoError(t, err)
	return pool
}

func TestPostgresUserLifecycle(t *testing.T) {
	repo := NewUserRepository(postgresPool(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, models.User{
		ID:    ids.New(),
		Name:  "Ana",
		Email: "ana@x.com",
		Role:  models.RoleUser,
	}, []byte("hash"))
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	found, err := repo.FindByEmail(ctx, "ana@x.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = repo.FindByEmail(ctx, "ANA@x.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	hash, err := repo.GetPasswordHash(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hash"), hash)

	name := "Ana Maria"
	updated, err := repo.UpdateProfile(ctx, created.ID, &name, nil)
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", updated.Name)
	assert.Equal(t, "ana@x.com", updated.Email)

	require.NoError(t, repo.UpdateRole(ctx, created.ID, models.RoleAdmin))
	require.NoError(t, repo.UpdatePasswordHash(ctx, created.ID, []byte("hash2")))

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, models.RoleAdmin, users[0].Role)

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPostgresUniqueEmailUnderRace(t *testing.T) {
	repo := NewUserRepository(postgresPool(t))

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Create(context.Background(), models.User{
				ID:    ids.New(),
				Name:  "Racer",
				Email: "race@x.com",
				Role:  models.RoleUser,
			}, []byte("hash"))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrEmailTaken)
	}
	assert.Equal(t, 1, successes)
}
