package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vision/backend/internal/db"
)

// SQLiteStore keeps tokens on the users table.
type SQLiteStore struct {
	queries *db.Queries
}

func NewSQLiteStore(queries *db.Queries) *SQLiteStore {
	return &SQLiteStore{queries: queries}
}

func (s *SQLiteStore) FindByAccessToken(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNotFound
	}
	return toIdentity(s.queries.GetUserByAccessToken(ctx, token))
}

func (s *SQLiteStore) FindByRefreshToken(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNotFound
	}
	return toIdentity(s.queries.GetUserByRefreshToken(ctx, token))
}

func (s *SQLiteStore) FindByUsername(ctx context.Context, username string) (Identity, error) {
	return toIdentity(s.queries.GetUser(ctx, username))
}

func (s *SQLiteStore) ResetTokens(ctx context.Context, username string) error {
	if _, err := s.queries.ResetTokens(ctx, username); err != nil {
		return fmt.Errorf("reset tokens: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ExtendAccessExpiry(ctx context.Context, username string, newExpiry time.Time) error {
	res, err := s.queries.SetAccessTokenExpiry(ctx, db.SetAccessTokenExpiryParams{
		Username:          username,
		AccessTokenExpiry: newExpiry.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("extend access expiry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Issue(ctx context.Context, identity Identity) error {
	res, err := s.queries.SetTokens(ctx, db.SetTokensParams{
		Username:           identity.Username,
		AccessToken:        identity.AccessToken,
		AccessTokenExpiry:  identity.AccessTokenExpiry.UnixMilli(),
		RefreshToken:       identity.RefreshToken,
		RefreshTokenExpiry: identity.RefreshTokenExpiry.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("issue tokens: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// toIdentity maps a users row to an Identity. A row without tokens is reported
// as ErrNotFound.
func toIdentity(u db.User, err error) (Identity, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("lookup credentials: %w", err)
	}
	if !u.AccessToken.Valid || !u.RefreshToken.Valid {
		return Identity{}, ErrNotFound
	}
	return Identity{
		Username:           u.Username,
		AccessToken:        u.AccessToken.String,
		AccessTokenExpiry:  time.UnixMilli(u.AccessTokenExpiry.Int64),
		RefreshToken:       u.RefreshToken.String,
		RefreshTokenExpiry: time.UnixMilli(u.RefreshTokenExpiry.Int64),
	}, nil
}
