// Package credentials stores the access and refresh token pair of every identity.
//
// Two backends implement Store: SQLiteStore keeps the tokens on the users table,
// RedisStore keeps them in Redis with one index key per token.
package credentials

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no identity holds the requested token, or when an
// identity currently holds no tokens at all.
var ErrNotFound = errors.New("credentials not found")

// Identity is the token state of one user.
type Identity struct {
	Username           string
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
}

// Expired reports whether either token is past its expiry at now.
func (i Identity) Expired(now time.Time) bool {
	return now.After(i.AccessTokenExpiry) || now.After(i.RefreshTokenExpiry)
}

// AccessValid reports whether the access token can still authenticate requests.
func (i Identity) AccessValid(now time.Time) bool {
	return i.AccessToken != "" && !i.Expired(now)
}

// RefreshValid reports whether the refresh token can still be used, regardless
// of the access token's state.
func (i Identity) RefreshValid(now time.Time) bool {
	return i.RefreshToken != "" && !now.After(i.RefreshTokenExpiry)
}

// Store is the credential store consumed by the keepalive protocol and the
// credential issuance handlers.
type Store interface {
	FindByAccessToken(ctx context.Context, token string) (Identity, error)
	FindByRefreshToken(ctx context.Context, token string) (Identity, error)
	FindByUsername(ctx context.Context, username string) (Identity, error)
	// ResetTokens clears both tokens. Resetting an identity without tokens is a no-op.
	ResetTokens(ctx context.Context, username string) error
	ExtendAccessExpiry(ctx context.Context, username string, newExpiry time.Time) error
	// Issue replaces the identity's tokens with the given pair.
	Issue(ctx context.Context, identity Identity) error
}

// NewExpiry returns max(current, now+lifetime) so renewals never shorten a session.
func NewExpiry(current, now time.Time, lifetime time.Duration) time.Time {
	candidate := now.Add(lifetime)
	if current.After(candidate) {
		return current
	}
	return candidate
}
