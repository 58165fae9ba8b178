package client

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/advocon/chatgate/internal/infrastructure/logging"
	"github.com/advocon/chatgate/internal/protocol"
)

// Status is the client connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFatalError   Status = "fatal_error"
)

// ErrNoCredential reports a Connect call without an available credential.
// No state change occurs; the caller must authenticate first.
var ErrNoCredential = errors.New("no credential available")

// Config configures one client instance.
type Config struct {
	// URL is the gateway WebSocket endpoint (ws:// or wss://).
	URL string
	// SessionID is the chat session this transport belongs to. The client
	// re-sends join_session after every (re)connect to restore the binding.
	SessionID string
	// Credentials supplies the auth token for the connection query string.
	Credentials func() (string, error)
	// Policy classifies close events; zero value means DefaultPolicy.
	Policy Policy
	// PingInterval is the heartbeat cadence while connected. Default 30s.
	PingInterval time.Duration
	// InboundBuffer sizes the inbound envelope channel. Default 64.
	InboundBuffer int
	// TypingAutoOff and TypingStopDelay tune the typing debouncer.
	// Defaults 3s and 300ms.
	TypingAutoOff   time.Duration
	TypingStopDelay time.Duration
	// Dialer defaults to WebSocketDialer.
	Dialer Dialer
	// Logger defaults to the production logger.
	Logger *logging.Logger
	// OnStatusChange, if set, is called after every state transition.
	OnStatusChange func(from, to Status)
}

func (c *Config) norm() {
	if c.Policy == (Policy{}) {
		c.Policy = DefaultPolicy()
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = 64
	}
	if c.TypingAutoOff <= 0 {
		c.TypingAutoOff = 3 * time.Second
	}
	if c.TypingStopDelay <= 0 {
		c.TypingStopDelay = 300 * time.Millisecond
	}
	if c.Dialer == nil {
		c.Dialer = WebSocketDialer{}
	}
	if c.Logger == nil {
		c.Logger = logging.NewDefault()
	}
}

// Client owns one logical transport. Construct with New; instances are not
// shared across sessions.
type Client struct {
	cfg    Config
	logger *logging.Logger

	inbound chan protocol.Envelope
	typing  *typingState

	mu             sync.Mutex
	status         Status
	conn           Conn
	attempt        int
	sessionID      string
	lastPongAt     time.Time
	reconnectTimer *time.Timer
}

// New creates a client in the disconnected state.
func New(cfg Config) *Client {
	cfg.norm()
	c := &Client{
		cfg:       cfg,
		logger:    cfg.Logger,
		inbound:   make(chan protocol.Envelope, cfg.InboundBuffer),
		status:    StatusDisconnected,
		sessionID: cfg.SessionID,
	}
	c.typing = newTypingState(cfg.TypingAutoOff, cfg.TypingStopDelay, c.sendTypingNow)
	return c
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ReconnectAttempt returns the current retry counter. Zero while connected.
func (c *Client) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Inbound returns the bounded channel of envelopes from the server. Pong
// frames never appear here; unknown kinds are logged and dropped.
func (c *Client) Inbound() <-chan protocol.Envelope {
	return c.inbound
}

// Connect starts the connecting sequence. Idempotent: a no-op while already
// connected or connecting. Fails synchronously, with no state change, when
// no credential is available. Any pre-existing socket for this instance is
// closed first so the client never holds two sockets.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	cred, err := c.cfg.Credentials()
	if err != nil || cred == "" {
		c.mu.Unlock()
		if err != nil {
			return err
		}
		return ErrNoCredential
	}
	c.cancelReconnectLocked()
	old := c.conn
	c.conn = nil
	notify := c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	if old != nil {
		_ = old.Close(protocol.CloseNormal, "superseded")
	}
	notify()
	go c.dial(ctx, cred)
	return nil
}

// Disconnect closes the socket with an intentional close code, cancels any
// pending reconnect timer, and transitions to disconnected. Idempotent and
// side-effect-free when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cancelReconnectLocked()
	conn := c.conn
	c.conn = nil
	c.attempt = 0
	notify := c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	c.typing.reset()
	if conn != nil {
		_ = conn.Close(protocol.CloseNormal, "client disconnect")
	}
	notify()
}

// SendChatMessage sends a new_message envelope tagged with the current
// session. Returns false, without queuing, when not connected.
func (c *Client) SendChatMessage(content string) bool {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	return c.send(protocol.NewMessage(sessionID, protocol.RoleUser, content))
}

// StopGeneration signals the server to stop generating for the current
// session. Best-effort: returns false when not connected.
func (c *Client) StopGeneration() bool {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	return c.send(protocol.NewStopGeneration(sessionID))
}

// SendTyping feeds the typing debouncer; actual envelopes are shaped per
// the debounce rules. Returns false, ignoring the signal, when not connected.
func (c *Client) SendTyping(isTyping bool) bool {
	c.mu.Lock()
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if !connected {
		return false
	}
	c.typing.signal(isTyping)
	return true
}

// JoinSession rebinds the open socket to a different session without a full
// reconnect. Returns false when not connected; the new session id is kept
// either way and used on the next connect.
func (c *Client) JoinSession(sessionID string) bool {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
	return c.send(protocol.NewJoinSession(sessionID))
}

// send writes one envelope on the live socket. False when not connected or
// when the write fails; the read loop notices a dead socket separately.
func (c *Client) send(env protocol.Envelope) bool {
	c.mu.Lock()
	if c.status != StatusConnected || c.conn == nil {
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	c.mu.Unlock()

	data, err := protocol.Encode(env)
	if err != nil {
		return false
	}
	if err := conn.Write(data); err != nil {
		c.logger.Debug("send failed", zap.String("kind", string(env.Type)), zap.Error(err))
		return false
	}
	return true
}

func (c *Client) sendTypingNow(isTyping bool) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	c.send(protocol.NewTyping(sessionID, isTyping))
}

// dial runs the handshake and installs the connection. A dial that loses a
// race with Disconnect closes the socket and walks away.
func (c *Client) dial(ctx context.Context, cred string) {
	target, err := c.buildURL(cred)
	if err != nil {
		c.mu.Lock()
		notify := c.setStatusLocked(StatusFatalError)
		c.mu.Unlock()
		c.logger.Error("invalid gateway url", zap.Error(err))
		notify()
		return
	}

	conn, err := c.cfg.Dialer.Dial(ctx, target)

	c.mu.Lock()
	if c.status != StatusConnecting {
		c.mu.Unlock()
		if err == nil {
			_ = conn.Close(protocol.CloseNormal, "superseded")
		}
		return
	}
	if err != nil {
		// Handshake failure carries no close code; classify as abnormal.
		notify := c.failLocked(websocket.CloseAbnormalClosure)
		c.mu.Unlock()
		c.logger.Warn("handshake failed", zap.Error(err))
		notify()
		return
	}

	c.conn = conn
	c.attempt = 0
	sessionID := c.sessionID
	notify := c.setStatusLocked(StatusConnected)
	c.mu.Unlock()
	notify()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	if sessionID != "" {
		c.send(protocol.NewJoinSession(sessionID))
	}
}

// failLocked classifies a close event and schedules recovery. Caller holds
// c.mu; the returned func fires the status callback after unlock.
func (c *Client) failLocked(code int) func() {
	c.conn = nil

	if protocol.Intentional(code) {
		c.attempt = 0
		return c.setStatusLocked(StatusDisconnected)
	}

	c.attempt++
	decision := c.cfg.Policy.Decide(code, c.attempt)
	if !decision.Retry {
		c.cancelReconnectLocked()
		return c.setStatusLocked(StatusFatalError)
	}

	notify := c.setStatusLocked(StatusReconnecting)
	c.reconnectTimer = time.AfterFunc(decision.Delay, c.redial)
	return notify
}

// redial fires when the backoff delay elapses.
func (c *Client) redial() {
	c.mu.Lock()
	if c.status != StatusReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	cred, err := c.cfg.Credentials()
	if err != nil || cred == "" {
		notify := c.setStatusLocked(StatusFatalError)
		c.mu.Unlock()
		notify()
		return
	}
	notify := c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()
	notify()
	c.dial(context.Background(), cred)
}

func (c *Client) readLoop(conn Conn) {
	for {
		data, err := conn.Read()
		if err != nil {
			c.handleClose(conn, closeCode(err))
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		switch {
		case env.Type == protocol.KindPong:
			// Diagnostic only; the authoritative timeout is server-side.
			c.mu.Lock()
			c.lastPongAt = time.Now()
			c.mu.Unlock()
		case !env.Type.Known():
			c.logger.Warn("dropping envelope of unknown kind", zap.String("kind", string(env.Type)))
		default:
			select {
			case c.inbound <- env:
			default:
				c.logger.Warn("inbound buffer full, dropping envelope", zap.String("kind", string(env.Type)))
			}
		}
	}
}

// handleClose reacts to the read loop ending. Events from superseded
// sockets are ignored.
func (c *Client) handleClose(conn Conn, code int) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	notify := c.failLocked(code)
	c.mu.Unlock()

	c.typing.reset()
	_ = conn.Close(protocol.CloseNormal, "")
	notify()
}

func (c *Client) pingLoop(conn Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		alive := c.conn == conn && c.status == StatusConnected
		sessionID := c.sessionID
		c.mu.Unlock()
		if !alive {
			return
		}

		data, err := protocol.Encode(protocol.NewPing(sessionID))
		if err != nil {
			return
		}
		if err := conn.Write(data); err != nil {
			return
		}
	}
}

// setStatusLocked records a transition and returns the deferred callback.
// Caller holds c.mu and invokes the result after unlocking.
func (c *Client) setStatusLocked(next Status) func() {
	prev := c.status
	if prev == next {
		return func() {}
	}
	c.status = next
	c.logger.Debug("status change",
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)
	cb := c.cfg.OnStatusChange
	if cb == nil {
		return func() {}
	}
	return func() { cb(prev, next) }
}

func (c *Client) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) buildURL(cred string) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", cred)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
