package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/advocon/chatgate/internal/infrastructure/logging"
)

// socket wraps a gorilla connection behind a buffered send queue with a
// single writer goroutine. Send never blocks: a full queue means the
// consumer is too slow and the frame is dropped.
type socket struct {
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	writeTimeout time.Duration
	logger       *logging.Logger

	once      sync.Once
	closeCode int
	reason    string
}

func newSocket(conn *websocket.Conn, sendBuffer int, writeTimeout time.Duration, logger *logging.Logger) *socket {
	return &socket{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Send queues one frame for the write pump. False when the socket is
// closed or the queue is full.
func (s *socket) Send(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return false
	default:
		s.logger.Warn("send queue full, dropping frame",
			zap.String("remote", s.conn.RemoteAddr().String()),
		)
		return false
	}
}

// Close stops the write pump, which delivers the close frame and tears
// down the underlying connection. Idempotent.
func (s *socket) Close(code int, reason string) {
	s.once.Do(func() {
		s.closeCode = code
		s.reason = reason
		close(s.done)
	})
}

// writePump owns all writes on the connection.
func (s *socket) writePump() {
	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				s.Close(websocket.CloseAbnormalClosure, "")
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			deadline := time.Now().Add(s.writeTimeout)
			msg := websocket.FormatCloseMessage(s.closeCode, s.reason)
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			_ = s.conn.Close()
			return
		}
	}
}
