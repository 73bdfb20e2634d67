// Package services contains the core business logic for Vision credential issuance.
package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "vision"

// Claims represents the JWT payload of an access token. The subject is the
// username; the ID makes every issued token unique.
type Claims struct {
	jwt.RegisteredClaims
}

// Username returns the identity the token was issued to.
func (c *Claims) Username() string {
	return c.Subject
}

// AuthService handles access token signing and validation. Whether a token is
// still usable is decided by the credential store, since keepalive extends
// the access expiry after issuance. The signed expiry is only an upper bound.
type AuthService struct {
	secret []byte
	now    func() time.Time
}

// NewAuthService creates an AuthService with the given signing secret.
func NewAuthService(secret string) *AuthService {
	return &AuthService{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// GenerateToken creates a signed access token for username that can never be
// used past notAfter.
func (s *AuthService) GenerateToken(username string, notAfter time.Time) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(notAfter),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken verifies the JWT signature and expiry, returning the claims if valid.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// GenerateRefreshToken returns an opaque, unguessable refresh token.
func GenerateRefreshToken() string {
	return uuid.NewString()
}
