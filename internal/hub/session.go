package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/vision/backend/internal/credentials"
	"github.com/vision/backend/internal/logging"
	"github.com/vision/backend/internal/models"
)

// State is the lifecycle state of one connection.
type State int

const (
	StateUnbound State = iota
	StateBound
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// session is the per-connection state owned by the connection's read loop.
type session struct {
	handle       Handle
	state        State
	identity     string
	refreshToken string
}

// outcome describes what handling one message requires. The hub applies it
// after the handler returns.
type outcome struct {
	state        State
	identity     string
	refreshToken string
	replies      []models.ServerMessage

	// syncResults requests a full results push to this connection only.
	syncResults bool

	// expireIdentity closes every connection bound to the identity.
	expireIdentity string

	closeCode   websocket.StatusCode
	closeReason string
}

func (o outcome) closing() bool {
	return o.state == StateClosing
}

type handlerFunc func(ctx context.Context, h *Hub, s session, msg models.ClientMessage) (outcome, error)

// handlers maps a client message type to its handler. Unknown types are a
// protocol violation.
var handlers = map[string]handlerFunc{
	models.MessageRefreshToken: handleRefreshToken,
}

func unchanged(s session) outcome {
	return outcome{state: s.state, identity: s.identity, refreshToken: s.refreshToken}
}

// superseded closes a bound connection whose refresh token no longer belongs
// to its identity. The identity's current tokens are left alone.
func superseded(s session) outcome {
	return outcome{
		state:       StateClosing,
		identity:    s.identity,
		closeCode:   websocket.StatusNormalClosure,
		closeReason: models.ReasonSessionExpired,
	}
}

func protocolViolation() outcome {
	return outcome{
		state:       StateClosing,
		closeCode:   websocket.StatusPolicyViolation,
		closeReason: models.ReasonProtocolViolation,
	}
}

// handleRefreshToken binds or renews a session. Unknown refresh tokens are
// ignored, except the token a bound connection was bound with: that one was
// reset or replaced, so the connection's session is over. An expired identity
// has its tokens reset and every connection bound to it is closed. Otherwise
// the access expiry is extended and the remaining milliseconds are returned
// to the client.
func handleRefreshToken(ctx context.Context, h *Hub, s session, msg models.ClientMessage) (outcome, error) {
	h.sessionMu.Lock()
	defer h.sessionMu.Unlock()

	if msg.RefreshToken == "" {
		logging.LogSecurityEvent(ctx, logging.SecurityEventUnknownRefreshToken, "empty refresh token on websocket")
		return unchanged(s), nil
	}

	identity, err := h.store.FindByRefreshToken(ctx, msg.RefreshToken)
	if errors.Is(err, credentials.ErrNotFound) {
		if s.state == StateBound && msg.RefreshToken == s.refreshToken {
			ctx = logging.UpdateRequestAttrs(ctx, s.identity)
			logging.LogSecurityEvent(ctx, logging.SecurityEventSessionExpired, "refresh token no longer current")
			return superseded(s), nil
		}
		logging.LogSecurityEvent(ctx, logging.SecurityEventUnknownRefreshToken, "unknown refresh token on websocket")
		return unchanged(s), nil
	}
	if err != nil {
		return unchanged(s), fmt.Errorf("looking up refresh token: %w", err)
	}

	if s.state == StateBound && identity.Username != s.identity {
		logging.LogSecurityEvent(ctx, logging.SecurityEventProtocolViolation, "refresh token belongs to a different identity")
		return protocolViolation(), nil
	}

	now := h.now()
	if identity.Expired(now) {
		if err := h.store.ResetTokens(ctx, identity.Username); err != nil {
			return unchanged(s), fmt.Errorf("resetting tokens: %w", err)
		}
		ctx = logging.UpdateRequestAttrs(ctx, identity.Username)
		logging.LogSecurityEvent(ctx, logging.SecurityEventSessionExpired, "session expired on refresh")
		return outcome{
			state:          StateClosing,
			identity:       identity.Username,
			expireIdentity: identity.Username,
			closeCode:      websocket.StatusNormalClosure,
			closeReason:    models.ReasonSessionExpired,
		}, nil
	}

	expiry := credentials.NewExpiry(identity.AccessTokenExpiry, now, h.accessLifetime)
	if err := h.store.ExtendAccessExpiry(ctx, identity.Username, expiry); err != nil {
		return unchanged(s), fmt.Errorf("extending access expiry: %w", err)
	}

	return outcome{
		state:        StateBound,
		identity:     identity.Username,
		refreshToken: msg.RefreshToken,
		replies:      []models.ServerMessage{models.NewAccessTokenExpiry(expiry.Sub(now).Milliseconds())},
		syncResults:  s.state == StateUnbound,
	}, nil
}
