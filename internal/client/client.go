// Package client keeps a session alive over the /update websocket. It schedules
// refreshes from the server's expiry replies and reconnects once when the
// connection drops unexpectedly.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vision/backend/internal/models"
)

const (
	DefaultLeeway      = 10 * time.Second
	DefaultMinInterval = 10 * time.Second
)

// ErrStopped is returned by Start after the controller has logged out.
var ErrStopped = errors.New("client stopped")

// Conn is a message-oriented connection to the server.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens connections to the server.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Timer is a scheduled refresh that can be cancelled.
type Timer interface {
	Stop() bool
}

// NoticeKind identifies a user-visible notice.
type NoticeKind int

const (
	NoticeSessionExpired NoticeKind = iota + 1
	NoticeConnectionLost
)

// Notice is shown to the user when the session ends unexpectedly.
type Notice struct {
	Kind    NoticeKind
	Title   string
	Message string
}

var (
	sessionExpiredNotice = Notice{Kind: NoticeSessionExpired, Title: "Session Expired", Message: "Please login again."}
	connectionLostNotice = Notice{Kind: NoticeConnectionLost, Title: "Connection Lost", Message: "Connection to the server has been lost, please login later."}
)

// Handlers receive pushed data and session events. Nil handlers are skipped.
// Handlers run on the connection's read goroutine.
type Handlers struct {
	OnResults     func(models.Results)
	OnScoreUpdate func(models.ScoreUpdate)
	OnNotice      func(Notice)
	// OnLoggedOut runs once when the session ends for any reason.
	OnLoggedOut func()
}

// Options configures a Controller.
type Options struct {
	URL          string
	Dialer       Dialer
	RefreshToken func() string
	Handlers     Handlers

	Leeway      time.Duration
	MinInterval time.Duration

	// AfterFunc schedules refreshes. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
}

// Controller owns one client session.
type Controller struct {
	opts Options

	mu           sync.Mutex
	ctx          context.Context
	conn         Conn
	gen          uint64
	timer        Timer
	reconnecting bool
	stopped      bool
}

// New creates a Controller. It does not connect until Start is called.
func New(opts Options) *Controller {
	if opts.Leeway <= 0 {
		opts.Leeway = DefaultLeeway
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Controller{opts: opts}
}

// Start opens the connection and begins the keepalive cycle. The session
// ends when ctx is done, on Logout, or when the server ends it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.ctx = ctx
	c.mu.Unlock()

	return c.connect()
}

// Logout ends the session without any notice or reconnection.
func (c *Controller) Logout() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	conn := c.stopLocked()
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			slog.Debug("closing websocket on logout", slog.Any("error", err))
		}
	}
	c.loggedOut()
}

// Reconnecting reports whether a reconnection is in progress.
func (c *Controller) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnecting
}

// Stopped reports whether the session has ended.
func (c *Controller) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Controller) connect() error {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		return c.connectFailed(err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return ErrStopped
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(ctx, conn, gen)
	c.sendRefresh(gen)
	return nil
}

func (c *Controller) connectFailed(err error) error {
	c.mu.Lock()
	reconnecting := c.reconnecting
	var wasStopped bool
	if reconnecting {
		wasStopped = c.stopped
		c.stopLocked()
	}
	c.mu.Unlock()

	if !reconnecting {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	if !wasStopped {
		c.notify(connectionLostNotice)
		c.loggedOut()
	}
	return fmt.Errorf("reconnect %s: %w", c.opts.URL, err)
}

// stopLocked marks the session ended, cancels any pending refresh and
// invalidates the current connection generation.
func (c *Controller) stopLocked() Conn {
	c.stopped = true
	c.reconnecting = false
	c.stopTimerLocked()
	c.gen++
	conn := c.conn
	c.conn = nil
	return conn
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(gen, err)
			return
		}

		var msg models.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("ignoring malformed server message", slog.Any("error", err))
			continue
		}
		c.handleMessage(gen, msg)
	}
}

func (c *Controller) handleMessage(gen uint64, msg models.ServerMessage) {
	switch msg.Type {
	case models.MessageAccessTokenExpiry:
		if msg.AccessTokenExpiry != nil {
			c.handleExpiry(gen, time.Duration(*msg.AccessTokenExpiry)*time.Millisecond)
		}
	case models.MessageResults:
		if h := c.opts.Handlers.OnResults; h != nil {
			h(msg.Results)
		}
	case models.MessageScoreUpdate:
		if h := c.opts.Handlers.OnScoreUpdate; h != nil && msg.ScoreUpdate != nil {
			h(*msg.ScoreUpdate)
		}
	default:
		slog.Debug("ignoring unknown server message", slog.String("type", msg.Type))
	}
}

// handleExpiry schedules the next refresh. An expiry reply on a new
// connection also completes a reconnection.
func (c *Controller) handleExpiry(gen uint64, remaining time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.stopped {
		return
	}

	c.reconnecting = false
	c.stopTimerLocked()
	c.timer = c.opts.AfterFunc(c.refreshDelay(remaining), func() { c.sendRefresh(gen) })
}

func (c *Controller) refreshDelay(remaining time.Duration) time.Duration {
	return max(remaining-c.opts.Leeway, c.opts.MinInterval)
}

func (c *Controller) sendRefresh(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.stopped || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn, ctx := c.conn, c.ctx
	c.mu.Unlock()

	token := ""
	if c.opts.RefreshToken != nil {
		token = c.opts.RefreshToken()
	}
	data, err := json.Marshal(models.ClientMessage{Type: models.MessageRefreshToken, RefreshToken: token})
	if err != nil {
		return
	}

	// A failed write surfaces as a close on the read loop.
	if err := conn.Write(ctx, data); err != nil {
		slog.Debug("sending refresh token", slog.Any("error", err))
	}
}

func (c *Controller) handleClose(gen uint64, err error) {
	reason := closeReason(err)

	c.mu.Lock()
	if gen != c.gen || c.stopped {
		c.mu.Unlock()
		return
	}

	switch {
	case c.ctx.Err() != nil:
		c.stopLocked()
		c.mu.Unlock()
		c.loggedOut()
		return
	case reason == models.ReasonSessionExpired:
		c.stopLocked()
		c.mu.Unlock()
		c.notify(sessionExpiredNotice)
		c.loggedOut()
		return
	case reason == models.ReasonLoggedOut:
		c.stopLocked()
		c.mu.Unlock()
		c.loggedOut()
		return
	case c.reconnecting:
		// The reconnected socket closed before the server confirmed the session.
		c.stopLocked()
		c.mu.Unlock()
		c.notify(connectionLostNotice)
		c.loggedOut()
		return
	}

	c.reconnecting = true
	c.stopTimerLocked()
	c.conn = nil
	c.mu.Unlock()

	slog.Info("websocket closed unexpectedly, reconnecting", slog.Any("error", err))
	if err := c.connect(); err != nil {
		slog.Warn("reconnect failed", slog.Any("error", err))
	}
}

func (c *Controller) notify(n Notice) {
	if h := c.opts.Handlers.OnNotice; h != nil {
		h(n)
	}
}

func (c *Controller) loggedOut() {
	if h := c.opts.Handlers.OnLoggedOut; h != nil {
		h()
	}
}

func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// WebsocketDialer dials the server with coder/websocket.
type WebsocketDialer struct {
	Header     http.Header
	HTTPClient *http.Client
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.c.Close(code, reason)
}
