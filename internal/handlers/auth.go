package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/vision/backend/internal/credentials"
	"github.com/vision/backend/internal/logging"
	"github.com/vision/backend/internal/middleware"
	"github.com/vision/backend/internal/models"
	"github.com/vision/backend/internal/services"
)

// SessionCloser closes every live connection of an identity.
type SessionCloser interface {
	CloseIdentity(identity string, code websocket.StatusCode, reason string) int
}

// AuthHandler issues and revokes credentials.
type AuthHandler struct {
	svc      *services.CredentialService
	sessions SessionCloser
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc *services.CredentialService, sessions SessionCloser) *AuthHandler {
	return &AuthHandler{svc: svc, sessions: sessions}
}

// Register creates an account. It does not log the user in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.svc.Register(r.Context(), strings.TrimSpace(req.Username), req.Password)
	switch {
	case errors.Is(err, services.ErrInvalidUsername), errors.Is(err, services.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, services.ErrUsernameTaken):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to register", err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// Token exchanges a username and password for the identity's token pair.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req models.CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	identity, err := h.svc.Login(r.Context(), username, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		logging.LogSecurityEvent(logging.UpdateRequestAttrs(r.Context(), username), logging.SecurityEventBadCredentials, "bad credentials")
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to issue tokens", err)
		return
	}

	writeJSON(w, http.StatusOK, accessInfo(identity))
}

// Logout revokes the caller's tokens and closes all of their connections.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := h.svc.Logout(r.Context(), identity.Username); err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to log out", err)
		return
	}

	n := h.sessions.CloseIdentity(identity.Username, websocket.StatusNormalClosure, models.ReasonLoggedOut)
	slog.InfoContext(r.Context(), "logged out", slog.String("username", identity.Username), slog.Int("connections", n))

	w.WriteHeader(http.StatusNoContent)
}

func accessInfo(identity credentials.Identity) models.AccessInfoResponse {
	return models.AccessInfoResponse{
		Username:           identity.Username,
		AccessToken:        identity.AccessToken,
		AccessTokenExpiry:  identity.AccessTokenExpiry.UTC(),
		RefreshToken:       identity.RefreshToken,
		RefreshTokenExpiry: identity.RefreshTokenExpiry.UTC(),
	}
}
