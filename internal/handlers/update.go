package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/vision/backend/internal/hub"
)

const maxMessageSize = 4096

// ConnectionServer runs the keepalive protocol on an accepted connection.
type ConnectionServer interface {
	Serve(ctx context.Context, conn hub.Conn)
}

// UpdateHandler upgrades /update requests to websockets. Authentication
// happens inside the protocol, so the upgrade itself is public.
type UpdateHandler struct {
	server         ConnectionServer
	originPatterns []string
}

// NewUpdateHandler creates an UpdateHandler accepting browser connections from
// originPatterns (host patterns, as accepted by websocket.AcceptOptions).
func NewUpdateHandler(server ConnectionServer, originPatterns []string) *UpdateHandler {
	return &UpdateHandler{server: server, originPatterns: originPatterns}
}

// Serve accepts the websocket and blocks until it closes.
func (h *UpdateHandler) Serve(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.DebugContext(r.Context(), "websocket accept failed", slog.Any("error", err))
		return
	}
	c.SetReadLimit(maxMessageSize)

	h.server.Serve(r.Context(), hub.NewWebsocketConn(c))
}
