package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vision/backend/internal/credentials"
	"github.com/vision/backend/internal/database"
	"github.com/vision/backend/internal/db"
)

func newTestCredentialService(t *testing.T) (*CredentialService, *time.Time) {
	t.Helper()
	sqlDB, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.RunMigrations(sqlDB); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	queries := db.New(sqlDB)
	auth := NewAuthService("test-secret")
	svc := NewCredentialService(queries, credentials.NewSQLiteStore(queries), auth, time.Hour, 24*time.Hour)

	now := time.Now().Truncate(time.Millisecond)
	svc.now = func() time.Time { return now }
	auth.now = func() time.Time { return now }
	return svc, &now
}

func TestCredentialService_Register(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCredentialService(t)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid", "alice", "correct horse", nil},
		{"duplicate", "alice", "another password", ErrUsernameTaken},
		{"short username", "al", "correct horse", ErrInvalidUsername},
		{"bad characters", "alice smith", "correct horse", ErrInvalidUsername},
		{"weak password", "bob", "short", ErrWeakPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Register(ctx, tt.username, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCredentialService_LoginIssuesAndReuses(t *testing.T) {
	ctx := context.Background()
	svc, now := newTestCredentialService(t)
	if err := svc.Register(ctx, "alice", "correct horse"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	first, err := svc.Login(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if first.AccessToken == "" || first.RefreshToken == "" {
		t.Fatalf("Login() returned empty tokens: %+v", first)
	}
	if !first.AccessTokenExpiry.Equal(now.Add(time.Hour)) {
		t.Errorf("AccessTokenExpiry = %v, want %v", first.AccessTokenExpiry, now.Add(time.Hour))
	}

	second, err := svc.Login(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if second.RefreshToken != first.RefreshToken || second.AccessToken != first.AccessToken {
		t.Error("a still-valid token pair should be reused")
	}

	*now = now.Add(2 * time.Hour)
	third, err := svc.Login(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("third Login() error = %v", err)
	}
	if third.RefreshToken == first.RefreshToken {
		t.Error("an expired token pair should be replaced")
	}
}

func TestCredentialService_LoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestCredentialService(t)
	if err := svc.Register(ctx, "alice", "correct horse"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login(wrong password) error = %v, want %v", err, ErrInvalidCredentials)
	}
	if _, err := svc.Login(ctx, "nobody", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login(unknown user) error = %v, want %v", err, ErrInvalidCredentials)
	}
}

func TestCredentialService_AuthenticateAndLogout(t *testing.T) {
	ctx := context.Background()
	svc, now := newTestCredentialService(t)
	if err := svc.Register(ctx, "alice", "correct horse"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	identity, err := svc.Login(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	got, claims, err := svc.Authenticate(ctx, identity.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.Username != "alice" || claims.Username() != "alice" {
		t.Errorf("Authenticate() = %q/%q, want alice", got.Username, claims.Username())
	}

	*now = now.Add(2 * time.Hour)
	if _, _, err := svc.Authenticate(ctx, identity.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Authenticate(expired) error = %v, want %v", err, ErrSessionExpired)
	}

	*now = now.Add(-2 * time.Hour)
	if err := svc.Logout(ctx, "alice"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, _, err := svc.Authenticate(ctx, identity.AccessToken); !errors.Is(err, credentials.ErrNotFound) {
		t.Errorf("Authenticate(after logout) error = %v, want %v", err, credentials.ErrNotFound)
	}
}
