package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/dom/livechat/internal/domain"
	"github.com/dom/livechat/internal/repository/postgres"
	"github.com/dom/livechat/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_Create(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUserRepository(testDB.DB)
	ctx := context.Background()

	tests := []struct {
		name    string
		user    *domain.User
		wantErr error
	}{
		{
			name: "successful creation",
			user: &domain.User{
				ID:           uuid.New(),
				Username:     "testuser",
				PasswordHash: "hashedpassword",
				CreatedAt:    time.Now(),
			},
		},
		{
			name: "duplicate username",
			user: &domain.User{
				ID:           uuid.New(),
				Username:     "testuser",
				PasswordHash: "hashedpassword2",
				CreatedAt:    time.Now(),
			},
			wantErr: domain.ErrUsernameTaken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Create(ctx, tt.user)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestUserRepository_Get(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUserRepository(testDB.DB)
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().
		WithUsername("lookup_user").
		Build(t, testDB.DB)

	t.Run("by id", func(t *testing.T) {
		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "lookup_user", got.Username)
		assert.Equal(t, user.PasswordHash, got.PasswordHash)
	})

	t.Run("by username", func(t *testing.T) {
		got, err := repo.GetByUsername(ctx, "lookup_user")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("unknown username", func(t *testing.T) {
		_, err := repo.GetByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})
}

func TestRefreshSessionRepository(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewRefreshSessionRepository(testDB.DB)
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().Build(t, testDB.DB)
	session := &domain.RefreshSession{
		ID:         uuid.New(),
		UserID:     user.ID,
		SecretHash: "hash",
		ExpiresAt:  time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Create(ctx, session))

	t.Run("get requires matching user", func(t *testing.T) {
		got, err := repo.Get(ctx, session.ID, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "hash", got.SecretHash)

		_, err = repo.Get(ctx, session.ID, uuid.New())
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("update expiry", func(t *testing.T) {
		later := session.ExpiresAt.Add(8 * time.Hour)
		require.NoError(t, repo.UpdateExpiry(ctx, session.ID, later))

		got, err := repo.Get(ctx, session.ID, user.ID)
		require.NoError(t, err)
		assert.True(t, later.Equal(got.ExpiresAt))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, session.ID))
		require.NoError(t, repo.Delete(ctx, session.ID))

		_, err := repo.Get(ctx, session.ID, user.ID)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		assert.ErrorIs(t, repo.UpdateExpiry(ctx, session.ID, time.Now()), domain.ErrUnauthorized)
	})
}
