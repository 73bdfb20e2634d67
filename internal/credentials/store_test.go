package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vision/backend/internal/database"
	"github.com/vision/backend/internal/db"
)

func newSQLiteStore(t *testing.T, usernames ...string) Store {
	t.Helper()
	sqlDB, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.RunMigrations(sqlDB))

	queries := db.New(sqlDB)
	for _, name := range usernames {
		require.NoError(t, queries.CreateUser(context.Background(), db.CreateUserParams{
			Username:     name,
			PasswordHash: "hash",
			CreatedAt:    time.Now().UnixMilli(),
		}))
	}
	return NewSQLiteStore(queries)
}

func newRedisStore(t *testing.T, _ ...string) Store {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var backends = map[string]func(t *testing.T, usernames ...string) Store{
	"sqlite": newSQLiteStore,
	"redis":  newRedisStore,
}

func testIdentity(username, suffix string, now time.Time) Identity {
	return Identity{
		Username:           username,
		AccessToken:        "access-" + suffix,
		AccessTokenExpiry:  now.Add(time.Hour).Truncate(time.Millisecond),
		RefreshToken:       "refresh-" + suffix,
		RefreshTokenExpiry: now.Add(24 * time.Hour).Truncate(time.Millisecond),
	}
}

func TestStore_IssueAndFind(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, "alice", "bob")
			now := time.Now()

			alice := testIdentity("alice", "a", now)
			require.NoError(t, store.Issue(ctx, alice))

			got, err := store.FindByAccessToken(ctx, "access-a")
			require.NoError(t, err)
			assert.Equal(t, "alice", got.Username)
			assert.True(t, got.AccessTokenExpiry.Equal(alice.AccessTokenExpiry))

			got, err = store.FindByRefreshToken(ctx, "refresh-a")
			require.NoError(t, err)
			assert.Equal(t, "alice", got.Username)
			assert.True(t, got.RefreshTokenExpiry.Equal(alice.RefreshTokenExpiry))

			got, err = store.FindByUsername(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, "access-a", got.AccessToken)

			_, err = store.FindByRefreshToken(ctx, "refresh-unknown")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.FindByAccessToken(ctx, "")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.FindByUsername(ctx, "bob")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ReissueInvalidatesOldTokens(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, "alice")
			now := time.Now()

			require.NoError(t, store.Issue(ctx, testIdentity("alice", "1", now)))
			require.NoError(t, store.Issue(ctx, testIdentity("alice", "2", now)))

			_, err := store.FindByAccessToken(ctx, "access-1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.FindByRefreshToken(ctx, "refresh-1")
			assert.ErrorIs(t, err, ErrNotFound)

			got, err := store.FindByRefreshToken(ctx, "refresh-2")
			require.NoError(t, err)
			assert.Equal(t, "alice", got.Username)
		})
	}
}

func TestStore_ResetTokens(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, "alice")

			require.NoError(t, store.Issue(ctx, testIdentity("alice", "a", time.Now())))
			require.NoError(t, store.ResetTokens(ctx, "alice"))

			_, err := store.FindByAccessToken(ctx, "access-a")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.FindByRefreshToken(ctx, "refresh-a")
			assert.ErrorIs(t, err, ErrNotFound)

			// Resetting again is a no-op.
			assert.NoError(t, store.ResetTokens(ctx, "alice"))
		})
	}
}

func TestStore_ExtendAccessExpiry(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t, "alice")
			now := time.Now()

			err := store.ExtendAccessExpiry(ctx, "alice", now.Add(time.Hour))
			assert.ErrorIs(t, err, ErrNotFound, "extending without tokens")

			require.NoError(t, store.Issue(ctx, testIdentity("alice", "a", now)))

			extended := now.Add(48 * time.Hour).Truncate(time.Millisecond)
			require.NoError(t, store.ExtendAccessExpiry(ctx, "alice", extended))

			got, err := store.FindByAccessToken(ctx, "access-a")
			require.NoError(t, err)
			assert.True(t, got.AccessTokenExpiry.Equal(extended))
		})
	}
}

func TestIdentity_Expiry(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name         string
		identity     Identity
		expired      bool
		accessValid  bool
		refreshValid bool
	}{
		{
			name:         "both valid",
			identity:     Identity{AccessToken: "a", AccessTokenExpiry: now.Add(time.Minute), RefreshToken: "r", RefreshTokenExpiry: now.Add(time.Hour)},
			accessValid:  true,
			refreshValid: true,
		},
		{
			name:         "access expired",
			identity:     Identity{AccessToken: "a", AccessTokenExpiry: now.Add(-time.Minute), RefreshToken: "r", RefreshTokenExpiry: now.Add(time.Hour)},
			expired:      true,
			refreshValid: true,
		},
		{
			name:     "both expired",
			identity: Identity{AccessToken: "a", AccessTokenExpiry: now.Add(-time.Hour), RefreshToken: "r", RefreshTokenExpiry: now.Add(-time.Minute)},
			expired:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, tt.identity.Expired(now))
			assert.Equal(t, tt.accessValid, tt.identity.AccessValid(now))
			assert.Equal(t, tt.refreshValid, tt.identity.RefreshValid(now))
		})
	}
}

func TestNewExpiry_NeverShortens(t *testing.T) {
	now := time.Now()

	far := now.Add(72 * time.Hour)
	assert.True(t, NewExpiry(far, now, time.Hour).Equal(far))

	near := now.Add(time.Minute)
	assert.True(t, NewExpiry(near, now, time.Hour).Equal(now.Add(time.Hour)))
}
