// Package hub owns the live websocket connections: the keepalive protocol that
// binds them to identities, the registry that indexes them, and the broadcast
// of results and score confirmations.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vision/backend/internal/broker"
	"github.com/vision/backend/internal/credentials"
	"github.com/vision/backend/internal/logging"
	"github.com/vision/backend/internal/models"
)

// ScoreSetter persists one identity's score for one entry.
type ScoreSetter interface {
	SetScore(ctx context.Context, username, entryID string, score int) error
}

// Options tunes session handling. Zero values take defaults, except the sweep
// and unbound timeout where zero disables the behavior.
type Options struct {
	AccessTokenLifetime time.Duration
	SweepInterval       time.Duration
	UnboundTimeout      time.Duration
	WriteTimeout        time.Duration
	Now                 func() time.Time
}

// Hub serves websocket connections and fans out score changes.
type Hub struct {
	store    credentials.Store
	scores   ScoreSetter
	registry *Registry
	bcast    *Broadcaster
	broker   *broker.Broker
	scoreSub *broker.Subscription
	entryIDs []string

	accessLifetime time.Duration
	sweepInterval  time.Duration
	unboundTimeout time.Duration
	now            func() time.Time

	// sessionMu serializes credential validation and renewal with score
	// mutations so an expiry is never observed halfway through either.
	sessionMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a Hub. entryIDs is the full catalog, used for the initial
// results sync of a newly bound connection.
func New(store credentials.Store, scores ScoreSetter, results ResultsComputer, b *broker.Broker, entryIDs []string, opts Options) *Hub {
	if opts.AccessTokenLifetime <= 0 {
		opts.AccessTokenLifetime = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	registry := NewRegistry()
	registry.now = opts.Now

	return &Hub{
		store:          store,
		scores:         scores,
		registry:       registry,
		bcast:          NewBroadcaster(registry, results, opts.WriteTimeout),
		broker:         b,
		scoreSub:       b.Subscribe(broker.TopicScores),
		entryIDs:       entryIDs,
		accessLifetime: opts.AccessTokenLifetime,
		sweepInterval:  opts.SweepInterval,
		unboundTimeout: opts.UnboundTimeout,
		now:            opts.Now,
	}
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Broadcaster exposes the broadcast service.
func (h *Hub) Broadcaster() *Broadcaster {
	return h.bcast
}

// Serve runs the read loop of one connection until it closes or ctx is done.
func (h *Hub) Serve(ctx context.Context, conn Conn) {
	h.wg.Add(1)
	defer h.wg.Done()

	s := session{handle: h.registry.Register(conn), state: StateUnbound}
	ctx = logging.WithConnID(ctx, uint64(s.handle))
	defer h.closeHandle(s.handle, websocket.StatusGoingAway, "")

	slog.DebugContext(ctx, "websocket connected", logging.RequestFields(ctx)...)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			slog.DebugContext(ctx, "websocket read ended", slog.Uint64("conn_id", uint64(s.handle)), slog.Any("error", err))
			return
		}

		s = h.handleMessage(ctx, s, data)
		if s.state == StateClosed {
			return
		}
	}
}

func (h *Hub) handleMessage(ctx context.Context, s session, data []byte) session {
	out, err := h.dispatch(ctx, s, data)
	if err != nil {
		slog.ErrorContext(ctx, "handling websocket message",
			slog.Uint64("conn_id", uint64(s.handle)),
			slog.Any("error", logging.WrapError(err, "handling websocket message")))
		return s
	}
	return h.apply(ctx, s, out)
}

func (h *Hub) dispatch(ctx context.Context, s session, data []byte) (outcome, error) {
	var msg models.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.LogSecurityEvent(ctx, logging.SecurityEventProtocolViolation, "malformed websocket message")
		return protocolViolation(), nil
	}

	handler, ok := handlers[msg.Type]
	if !ok {
		logging.LogSecurityEvent(ctx, logging.SecurityEventProtocolViolation, "unknown websocket message type")
		return protocolViolation(), nil
	}
	return handler(ctx, h, s, msg)
}

// apply performs the side effects of an outcome and returns the new session.
func (h *Hub) apply(ctx context.Context, s session, out outcome) session {
	if out.closing() {
		if out.expireIdentity != "" {
			h.CloseIdentity(out.expireIdentity, out.closeCode, out.closeReason)
		}
		h.closeHandle(s.handle, out.closeCode, out.closeReason)
		s.state = StateClosed
		return s
	}

	if out.state == StateBound {
		if err := h.registry.Bind(s.handle, out.identity, out.refreshToken); err != nil {
			logging.LogSecurityEvent(ctx, logging.SecurityEventProtocolViolation, "binding connection failed")
			h.closeHandle(s.handle, websocket.StatusPolicyViolation, models.ReasonProtocolViolation)
			s.state = StateClosed
			return s
		}
		if s.state == StateUnbound {
			slog.InfoContext(ctx, "websocket bound", slog.Uint64("conn_id", uint64(s.handle)), slog.String("username", out.identity))
		}
	}

	s.state = out.state
	s.identity = out.identity
	s.refreshToken = out.refreshToken

	for _, reply := range out.replies {
		h.bcast.Send(ctx, s.handle, reply)
	}
	if out.syncResults {
		target := s.handle
		if err := h.bcast.SendResults(ctx, h.entryIDs, &target); err != nil {
			slog.ErrorContext(ctx, "initial results sync", slog.Any("error", logging.WrapError(err, "initial results sync")))
		}
	}
	return s
}

// closeHandle unregisters and closes one connection. Only the first call for a
// handle has any effect.
func (h *Hub) closeHandle(handle Handle, code websocket.StatusCode, reason string) {
	conn, ok := h.registry.Unregister(handle)
	if !ok {
		return
	}
	if err := conn.Close(code, reason); err != nil {
		slog.Debug("websocket close", slog.Uint64("conn_id", uint64(handle)), slog.Any("error", err))
	}
}

// CloseIdentity closes every connection bound to identity.
func (h *Hub) CloseIdentity(identity string, code websocket.StatusCode, reason string) int {
	handles := h.registry.ConnectionsFor(identity)
	for _, handle := range handles {
		h.closeHandle(handle, code, reason)
	}
	return len(handles)
}

// UpdateScore persists a score and notifies connections of the change.
func (h *Hub) UpdateScore(ctx context.Context, identity, entryID string, score int) error {
	h.sessionMu.Lock()
	err := h.scores.SetScore(ctx, identity, entryID, score)
	h.sessionMu.Unlock()
	if err != nil {
		return err
	}

	h.NotifyScoreChanged(ctx, identity, entryID, score)
	return nil
}

// NotifyScoreChanged confirms the score to the identity's own connections and
// schedules a results broadcast for the entry.
func (h *Hub) NotifyScoreChanged(ctx context.Context, identity, entryID string, score int) {
	h.bcast.SendScoreUpdate(ctx, identity, entryID, score)
	h.broker.Publish(broker.TopicScores, entryID)
}

// Run broadcasts results for changed entries and sweeps expired sessions until
// ctx is done. Changes arriving while a broadcast is running coalesce into the
// next one. Sweeps run on their own goroutine so slow closes never hold up a
// broadcast.
func (h *Hub) Run(ctx context.Context) {
	defer h.broker.Unsubscribe(h.scoreSub)

	var wg sync.WaitGroup
	defer wg.Wait()
	if h.sweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.runSweeps(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.scoreSub.C():
			h.flushResults(ctx)
		}
	}
}

func (h *Hub) runSweeps(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

func (h *Hub) flushResults(ctx context.Context) {
	entryIDs := h.scoreSub.Drain()
	if len(entryIDs) == 0 {
		return
	}
	if err := h.bcast.SendResults(ctx, entryIDs, nil); err != nil {
		slog.ErrorContext(ctx, "broadcasting results", slog.Any("error", logging.WrapError(err, "broadcasting results")))
	}
}

// Sweep closes connections whose session has ended and connections that
// stayed unbound past the unbound timeout. A session has ended when the
// identity expired or when its refresh token was replaced since the
// connection bound.
func (h *Hub) Sweep(ctx context.Context) {
	now := h.now()

	var ended []Handle
	for _, identity := range h.registry.Identities() {
		current, err := h.currentRefreshToken(ctx, identity, now)
		if err != nil {
			slog.ErrorContext(ctx, "sweeping session", slog.String("username", identity), slog.Any("error", logging.WrapError(err, "sweeping session")))
			continue
		}
		stale := h.registry.StaleFor(identity, current)
		if len(stale) > 0 {
			slog.InfoContext(ctx, "session expired", slog.String("username", identity), slog.Int("connections", len(stale)))
		}
		ended = append(ended, stale...)
	}
	h.closeAll(ended, websocket.StatusNormalClosure, models.ReasonSessionExpired)

	if h.unboundTimeout > 0 {
		h.closeAll(h.registry.UnboundBefore(now.Add(-h.unboundTimeout)), websocket.StatusPolicyViolation, models.ReasonUnauthenticated)
	}
}

// closeAll closes handles concurrently and waits for every close handshake.
func (h *Hub) closeAll(handles []Handle, code websocket.StatusCode, reason string) {
	var wg sync.WaitGroup
	for _, handle := range handles {
		wg.Add(1)
		go func(handle Handle) {
			defer wg.Done()
			h.closeHandle(handle, code, reason)
		}(handle)
	}
	wg.Wait()
}

// currentRefreshToken returns the identity's live refresh token, resetting
// the tokens first if they expired. It returns "" when the identity has no
// live session.
func (h *Hub) currentRefreshToken(ctx context.Context, identity string, now time.Time) (string, error) {
	h.sessionMu.Lock()
	defer h.sessionMu.Unlock()

	id, err := h.store.FindByUsername(ctx, identity)
	if errors.Is(err, credentials.ErrNotFound) {
		// Tokens were already reset elsewhere.
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !id.Expired(now) {
		return id.RefreshToken, nil
	}
	return "", h.store.ResetTokens(ctx, identity)
}

// Shutdown closes every connection and waits for their read loops to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	for _, handle := range h.registry.Handles() {
		h.closeHandle(handle, websocket.StatusGoingAway, models.ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
