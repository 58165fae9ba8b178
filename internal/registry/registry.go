package registry

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/advocon/chatgate/internal/infrastructure/logging"
	"github.com/advocon/chatgate/internal/infrastructure/monitoring"
	"github.com/advocon/chatgate/internal/protocol"
	"github.com/advocon/chatgate/internal/shared/id"
)

var (
	// ErrRateLimited reports an admission rejected for capacity reasons.
	// Transient from the client's point of view: capacity may free up.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound reports an operation on an unknown connection id.
	ErrNotFound = errors.New("connection not found")
)

// Config tunes registry behavior.
type Config struct {
	// MaxPerIP caps concurrent connections per remote IP. <=0 disables.
	MaxPerIP int
	// StaleAfter is the liveness threshold used by Sweep.
	StaleAfter time.Duration
	// AdmitPerSecond and AdmitBurst shape the per-IP admission token bucket.
	// <=0 disables the bucket; the concurrent cap still applies.
	AdmitPerSecond float64
	AdmitBurst     int
	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time
}

func (c *Config) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 90 * time.Second
	}
	if c.AdmitBurst <= 0 {
		c.AdmitBurst = 1
	}
}

// Stats is the read-only view exposed to the admin surface.
type Stats struct {
	Live       int            `json:"live"`
	PerIP      map[string]int `json:"per_ip"`
	PerSession map[string]int `json:"per_session"`
}

// Registry tracks all live connections.
type Registry struct {
	cfg     Config
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu        sync.RWMutex
	conns     map[id.ConnectionID]*Conn
	bySession map[string]map[id.ConnectionID]*Conn
	ipCounts  map[string]int
	ipBuckets map[string]*rate.Limiter
}

// New creates an empty registry.
func New(cfg Config, logger *logging.Logger, metrics *monitoring.Metrics) *Registry {
	cfg.norm()
	return &Registry{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		conns:     make(map[id.ConnectionID]*Conn),
		bySession: make(map[string]map[id.ConnectionID]*Conn),
		ipCounts:  make(map[string]int),
		ipBuckets: make(map[string]*rate.Limiter),
	}
}

// Admit registers a newly accepted socket. Fails with ErrRateLimited when
// the remote IP is over its concurrent cap or admission bucket; a rejected
// admission does not mutate the registry.
func (r *Registry) Admit(sock Socket, userID, remoteIP string) (id.ConnectionID, error) {
	now := r.cfg.Clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxPerIP > 0 && r.ipCounts[remoteIP] >= r.cfg.MaxPerIP {
		r.metrics.RecordRejection(monitoring.ReasonRateLimited)
		return "", ErrRateLimited
	}
	if r.cfg.AdmitPerSecond > 0 {
		bucket, ok := r.ipBuckets[remoteIP]
		if !ok {
			bucket = rate.NewLimiter(rate.Limit(r.cfg.AdmitPerSecond), r.cfg.AdmitBurst)
			r.ipBuckets[remoteIP] = bucket
		}
		if !bucket.AllowN(now, 1) {
			r.metrics.RecordRejection(monitoring.ReasonRateLimited)
			return "", ErrRateLimited
		}
	}

	connID := id.NewConnectionID()
	r.conns[connID] = &Conn{
		ID:             connID,
		UserID:         userID,
		RemoteIP:       remoteIP,
		sock:           sock,
		state:          StateOpen,
		createdAt:      now,
		lastPongAt:     now,
		lastActivityAt: now,
	}
	r.ipCounts[remoteIP]++
	r.metrics.Connections.Inc()

	r.logger.Info("connection admitted",
		zap.String("conn_id", connID.String()),
		zap.String("user_id", userID),
		zap.String("remote_ip", remoteIP),
	)
	return connID, nil
}

// BindSession re-associates an admitted connection with a session. The
// previous binding, if any, is overwritten: a connection is never present
// in two sessions at once.
func (r *Registry) BindSession(connID id.ConnectionID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ErrNotFound
	}

	if c.sessionID != "" {
		r.unbindLocked(c)
	}
	c.sessionID = sessionID
	if sessionID != "" {
		if r.bySession[sessionID] == nil {
			r.bySession[sessionID] = make(map[id.ConnectionID]*Conn)
		}
		r.bySession[sessionID][connID] = c
	}
	return nil
}

// unbindLocked removes c from the session index. Caller holds r.mu.
func (r *Registry) unbindLocked(c *Conn) {
	if c.sessionID == "" {
		return
	}
	if m := r.bySession[c.sessionID]; m != nil {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(r.bySession, c.sessionID)
		}
	}
	c.sessionID = ""
}

// Touch refreshes the activity timestamp. Called on every inbound frame.
func (r *Registry) Touch(connID id.ConnectionID) {
	now := r.cfg.Clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.lastActivityAt = now
	}
}

// MarkPong refreshes the pong timestamp alongside the activity timestamp.
func (r *Registry) MarkPong(connID id.ConnectionID) {
	now := r.cfg.Clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.lastPongAt = now
		c.lastActivityAt = now
	}
}

// RecordMessage increments the diagnostic message counter.
func (r *Registry) RecordMessage(connID id.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.messageCount++
	}
}

// RecordError increments the diagnostic error counter.
func (r *Registry) RecordError(connID id.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.errorCount++
	}
}

// Get returns a snapshot of a connection record.
func (r *Registry) Get(connID id.ConnectionID) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return Info{}, false
	}
	return c.snapshot(), true
}

// SocketOf returns the write surface of a connection.
func (r *Registry) SocketOf(connID id.ConnectionID) (Socket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return c.sock, true
}

// Remove unregisters a connection. Idempotent: removing an unknown or
// already-removed id is a no-op, not an error, and never double-decrements
// counters.
func (r *Registry) Remove(connID id.ConnectionID) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	r.unbindLocked(c)
	if n := r.ipCounts[c.RemoteIP]; n <= 1 {
		delete(r.ipCounts, c.RemoteIP)
	} else {
		r.ipCounts[c.RemoteIP] = n - 1
	}
	c.state = StateClosed
	r.mu.Unlock()

	r.metrics.Connections.Dec()
	r.logger.Debug("connection removed", zap.String("conn_id", connID.String()))
}

// SessionSockets returns the write surfaces of every connection currently
// bound to the session. The slice is a snapshot; sockets may be closing by
// the time the caller writes to them, which Send tolerates.
func (r *Registry) SessionSockets(sessionID string) []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.bySession[sessionID]
	out := make([]Socket, 0, len(m))
	for _, c := range m {
		out = append(out, c.sock)
	}
	return out
}

// PeerSockets returns session sockets excluding one connection, for relaying
// signals (typing) to a session's other tabs.
func (r *Registry) PeerSockets(sessionID string, exclude id.ConnectionID) []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.bySession[sessionID]
	out := make([]Socket, 0, len(m))
	for cid, c := range m {
		if cid == exclude {
			continue
		}
		out = append(out, c.sock)
	}
	return out
}

// Sweep closes and removes every connection whose activity timestamp is
// older than the staleness threshold. Returns the number evicted. Sockets
// are closed outside the lock.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.cfg.StaleAfter)

	var evicted []*Conn
	r.mu.Lock()
	for _, c := range r.conns {
		if c.lastActivityAt.Before(cutoff) {
			c.state = StateClosing
			evicted = append(evicted, c)
		}
	}
	r.mu.Unlock()

	for _, c := range evicted {
		c.sock.Close(protocol.CloseGoingAway, "stale connection")
		r.Remove(c.ID)
		r.metrics.SweepEvictions.Inc()
		r.logger.Info("stale connection evicted",
			zap.String("conn_id", c.ID.String()),
			zap.String("user_id", c.UserID),
		)
	}
	return len(evicted)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats returns a read-only snapshot for the admin surface.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Live:       len(r.conns),
		PerIP:      make(map[string]int, len(r.ipCounts)),
		PerSession: make(map[string]int, len(r.bySession)),
	}
	for ip, n := range r.ipCounts {
		s.PerIP[ip] = n
	}
	for sess, m := range r.bySession {
		s.PerSession[sess] = len(m)
	}
	return s
}

// CloseAll closes every connection with a going-away code, for shutdown.
// Clients classify 1001 as transient and reconnect once the server is back.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.sock.Close(protocol.CloseGoingAway, "server shutting down")
		r.Remove(c.ID)
	}
}
