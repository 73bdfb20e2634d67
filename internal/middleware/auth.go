// Package middleware provides HTTP middleware for authentication, CORS
// handling, rate limiting, and request context management.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vision/backend/internal/credentials"
	"github.com/vision/backend/internal/logging"
	"github.com/vision/backend/internal/services"
)

type contextKey string

const (
	// IdentityKey is the context key for the authenticated identity.
	IdentityKey contextKey = "identity"
)

// Authenticator resolves an access token to the identity holding it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (credentials.Identity, *services.Claims, error)
}

// AuthMiddleware validates bearer access tokens and adds the identity to the
// request context. Returns 401 for missing, invalid, revoked or expired tokens.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventMissingAuth, "missing authorization header")
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" || strings.Contains(token, " ") {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidAuthFmt, "invalid authorization header format")
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			identity, _, err := auth.Authenticate(r.Context(), token)
			switch {
			case errors.Is(err, services.ErrSessionExpired):
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventExpiredAccessToken, "expired access token")
				http.Error(w, `{"error":"session expired"}`, http.StatusUnauthorized)
				return
			case err != nil:
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidJWT, "invalid or revoked token")
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity retrieves the authenticated identity from the request context.
// The boolean is false for unauthenticated requests.
func GetIdentity(ctx context.Context) (credentials.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(credentials.Identity)
	return identity, ok
}
