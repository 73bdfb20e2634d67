package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/vision/backend/internal/credentials"
	"github.com/vision/backend/internal/crypto"
	"github.com/vision/backend/internal/db"
)

var (
	ErrInvalidUsername    = errors.New("username must be 3-32 characters of letters, digits, '.', '_' or '-'")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrSessionExpired     = errors.New("session expired")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,32}$`)

const minPasswordLength = 8

// CredentialService registers users and issues, reuses and revokes their token
// pairs.
type CredentialService struct {
	queries         *db.Queries
	store           credentials.Store
	auth            *AuthService
	accessLifetime  time.Duration
	refreshLifetime time.Duration
	now             func() time.Time
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(queries *db.Queries, store credentials.Store, auth *AuthService, accessLifetime, refreshLifetime time.Duration) *CredentialService {
	return &CredentialService{
		queries:         queries,
		store:           store,
		auth:            auth,
		accessLifetime:  accessLifetime,
		refreshLifetime: refreshLifetime,
		now:             time.Now,
	}
}

// Register creates a user account.
func (s *CredentialService) Register(ctx context.Context, username, password string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	if len(password) < minPasswordLength {
		return ErrWeakPassword
	}

	exists, err := s.queries.UserExists(ctx, username)
	if err != nil {
		return fmt.Errorf("checking username: %w", err)
	}
	if exists > 0 {
		return ErrUsernameTaken
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}

	return s.queries.CreateUser(ctx, db.CreateUserParams{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now().UnixMilli(),
	})
}

// Login verifies the password and returns the identity's token pair. A pair
// that has not expired is reused so every client of one identity shares it.
func (s *CredentialService) Login(ctx context.Context, username, password string) (credentials.Identity, error) {
	user, err := s.queries.GetUser(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return credentials.Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return credentials.Identity{}, fmt.Errorf("loading user: %w", err)
	}

	ok, err := crypto.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return credentials.Identity{}, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return credentials.Identity{}, ErrInvalidCredentials
	}

	now := s.now()
	existing, err := s.store.FindByUsername(ctx, username)
	switch {
	case err == nil && !existing.Expired(now):
		return existing, nil
	case err != nil && !errors.Is(err, credentials.ErrNotFound):
		return credentials.Identity{}, fmt.Errorf("loading tokens: %w", err)
	}

	return s.issue(ctx, username, now)
}

func (s *CredentialService) issue(ctx context.Context, username string, now time.Time) (credentials.Identity, error) {
	refreshExpiry := now.Add(s.refreshLifetime).Truncate(time.Millisecond)

	accessToken, err := s.auth.GenerateToken(username, refreshExpiry)
	if err != nil {
		return credentials.Identity{}, fmt.Errorf("signing access token: %w", err)
	}

	identity := credentials.Identity{
		Username:           username,
		AccessToken:        accessToken,
		AccessTokenExpiry:  now.Add(s.accessLifetime).Truncate(time.Millisecond),
		RefreshToken:       GenerateRefreshToken(),
		RefreshTokenExpiry: refreshExpiry,
	}
	if err := s.store.Issue(ctx, identity); err != nil {
		return credentials.Identity{}, fmt.Errorf("storing tokens: %w", err)
	}
	return identity, nil
}

// Logout clears the identity's tokens.
func (s *CredentialService) Logout(ctx context.Context, username string) error {
	return s.store.ResetTokens(ctx, username)
}

// Authenticate resolves an access token to its identity. The token must be
// correctly signed, currently stored, and unexpired.
func (s *CredentialService) Authenticate(ctx context.Context, accessToken string) (credentials.Identity, *Claims, error) {
	claims, err := s.auth.ValidateToken(accessToken)
	if err != nil {
		return credentials.Identity{}, nil, err
	}

	identity, err := s.store.FindByAccessToken(ctx, accessToken)
	if err != nil {
		return credentials.Identity{}, claims, err
	}
	if identity.Username != claims.Username() {
		return credentials.Identity{}, claims, errors.New("token subject does not match stored identity")
	}
	if !identity.AccessValid(s.now()) {
		return credentials.Identity{}, claims, ErrSessionExpired
	}
	return identity, claims, nil
}
