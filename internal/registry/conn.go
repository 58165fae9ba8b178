package registry

import (
	"time"

	"github.com/advocon/chatgate/internal/shared/id"
)

// State is the lifecycle state of a server-side connection record.
type State string

const (
	StateOpen    State = "open"
	StateClosing State = "closing"
	StateClosed  State = "closed"
)

// Socket is the write surface of one accepted connection. Send must be
// non-blocking: all writes for a connection are serialized through its
// single writer pump, and a full buffer means the peer is too slow.
type Socket interface {
	Send(data []byte) bool
	Close(code int, reason string)
}

// Conn is the bookkeeping record for one accepted socket. All mutable
// fields are guarded by the owning Registry's mutex; callers outside the
// package only ever see snapshots.
type Conn struct {
	ID       id.ConnectionID
	UserID   string
	RemoteIP string

	sock Socket

	sessionID      string
	state          State
	createdAt      time.Time
	lastPongAt     time.Time
	lastActivityAt time.Time
	messageCount   int64
	errorCount     int64
}

// Info is a point-in-time copy of a connection record.
type Info struct {
	ID             id.ConnectionID
	UserID         string
	SessionID      string
	RemoteIP       string
	State          State
	CreatedAt      time.Time
	LastPongAt     time.Time
	LastActivityAt time.Time
	MessageCount   int64
	ErrorCount     int64
}

func (c *Conn) snapshot() Info {
	return Info{
		ID:             c.ID,
		UserID:         c.UserID,
		SessionID:      c.sessionID,
		RemoteIP:       c.RemoteIP,
		State:          c.state,
		CreatedAt:      c.createdAt,
		LastPongAt:     c.lastPongAt,
		LastActivityAt: c.lastActivityAt,
		MessageCount:   c.messageCount,
		ErrorCount:     c.errorCount,
	}
}
