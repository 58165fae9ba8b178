package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/advocon/chatgate/internal/auth"
	"github.com/advocon/chatgate/internal/dispatch"
	"github.com/advocon/chatgate/internal/infrastructure/logging"
	"github.com/advocon/chatgate/internal/infrastructure/monitoring"
	"github.com/advocon/chatgate/internal/protocol"
	"github.com/advocon/chatgate/internal/registry"
	"github.com/advocon/chatgate/internal/shared/id"
)

// Config tunes per-connection transport limits.
type Config struct {
	// MaxMessageSize caps inbound frame size in bytes. Default 64 KiB.
	MaxMessageSize int64
	// WriteTimeout bounds a single frame write. Default 10s.
	WriteTimeout time.Duration
	// SendBuffer sizes the per-connection outbound queue. Default 256.
	SendBuffer int
	// CheckOrigin overrides the upgrade origin check. Default allows all;
	// browsers enforce this, native clients do not send Origin at all.
	CheckOrigin func(r *http.Request) bool
}

func (c *Config) norm() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// Handler accepts WebSocket connections.
type Handler struct {
	cfg       Config
	upgrader  websocket.Upgrader
	reg       *registry.Registry
	disp      *dispatch.Dispatcher
	validator auth.Validator
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// NewHandler creates a WebSocket handler.
func NewHandler(cfg Config, reg *registry.Registry, disp *dispatch.Dispatcher, validator auth.Validator, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	cfg.norm()
	return &Handler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		reg:       reg,
		disp:      disp,
		validator: validator,
		logger:    logger,
		metrics:   metrics,
	}
}

// HandleConnection handles the WebSocket upgrade and owns the read loop
// until the peer goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	token := c.Query("token")
	userID, authErr := h.validator.Validate(token)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// The close code is only deliverable on an upgraded socket, so auth
	// failures are rejected after the handshake.
	if authErr != nil {
		h.metrics.RecordRejection(monitoring.ReasonAuth)
		h.logger.Warn("websocket auth failed",
			zap.String("remote_ip", c.ClientIP()),
			zap.Error(authErr),
		)
		closeAndDrop(conn, protocol.ClosePolicyViolation, "authentication failed")
		return
	}

	sock := newSocket(conn, h.cfg.SendBuffer, h.cfg.WriteTimeout, h.logger)

	connID, err := h.reg.Admit(sock, userID, c.ClientIP())
	if err != nil {
		// Admit already counted the rejection; the handler only maps the
		// error onto a close code.
		if errors.Is(err, registry.ErrRateLimited) {
			closeAndDrop(conn, protocol.CloseRateLimited, "rate limited")
			return
		}
		h.logger.Error("admission failed", zap.Error(err))
		closeAndDrop(conn, protocol.ClosePolicyViolation, "admission failed")
		return
	}

	h.logger.Info("connection open",
		zap.String("conn_id", connID.String()),
		zap.String("user_id", userID),
		zap.String("remote_ip", c.ClientIP()),
	)

	go sock.writePump()
	h.readLoop(connID, sock, conn)
}

func (h *Handler) readLoop(connID id.ConnectionID, sock *socket, conn *websocket.Conn) {
	defer func() {
		h.reg.Remove(connID)
		sock.Close(protocol.CloseNormal, "")
		h.logger.Info("connection closed", zap.String("conn_id", connID.String()))
	}()

	conn.SetReadLimit(h.cfg.MaxMessageSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read error", zap.String("conn_id", connID.String()), zap.Error(err))
			}
			return
		}
		h.disp.DispatchInbound(connID, data)
	}
}

// closeAndDrop delivers a close code to a socket that was never admitted.
func closeAndDrop(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}
