package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/advocon/chatgate/internal/generation"
	"github.com/advocon/chatgate/internal/infrastructure/logging"
	"github.com/advocon/chatgate/internal/infrastructure/monitoring"
	"github.com/advocon/chatgate/internal/protocol"
	"github.com/advocon/chatgate/internal/registry"
	"github.com/advocon/chatgate/internal/shared/id"
)

// SessionAuthorizer decides whether a user may bind to a session. The real
// implementation lives with the session store; AllowAll is the permissive
// default for deployments that check ownership upstream.
type SessionAuthorizer interface {
	Authorize(userID, sessionID string) bool
}

// AllowAll authorizes every binding.
type AllowAll struct{}

// Authorize always returns true.
func (AllowAll) Authorize(string, string) bool { return true }

// Dispatcher routes validated inbound envelopes to the generation engine and
// fans outbound envelopes back to the right sockets.
type Dispatcher struct {
	registry *registry.Registry
	engine   generation.Engine
	authz    SessionAuthorizer
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// New creates a dispatcher. A nil authorizer defaults to AllowAll.
func New(reg *registry.Registry, engine generation.Engine, authz SessionAuthorizer, logger *logging.Logger, metrics *monitoring.Metrics) *Dispatcher {
	if authz == nil {
		authz = AllowAll{}
	}
	return &Dispatcher{
		registry: reg,
		engine:   engine,
		authz:    authz,
		logger:   logger,
		metrics:  metrics,
	}
}

// DispatchInbound handles one raw frame read from a connection. It never
// returns an error to the read loop: bad frames are dropped with a
// diagnostic, and the connection stays up.
func (d *Dispatcher) DispatchInbound(connID id.ConnectionID, raw []byte) {
	d.registry.Touch(connID)

	env, err := protocol.Decode(raw)
	if err != nil {
		d.registry.RecordError(connID)
		d.metrics.RecordDrop("malformed")
		d.logger.Warn("dropping malformed envelope",
			zap.String("conn_id", connID.String()),
			zap.Error(err),
		)
		return
	}
	d.metrics.RecordEnvelope(string(env.Type), monitoring.DirInbound)

	switch env.Type {
	case protocol.KindPing:
		d.handlePing(connID, env)
	case protocol.KindJoinSession:
		d.handleJoinSession(connID, env)
	case protocol.KindNewMessage:
		d.handleNewMessage(connID, env)
	case protocol.KindTyping:
		d.handleTyping(connID, env)
	case protocol.KindStopGeneration:
		d.handleStopGeneration(connID, env)
	case protocol.KindPong, protocol.KindSessionUpdate, protocol.KindGenerationStopped:
		// Server-to-client kinds arriving inbound carry nothing to act on.
		d.logger.Debug("ignoring inbound server-side envelope",
			zap.String("conn_id", connID.String()),
			zap.String("kind", string(env.Type)),
		)
	default:
		d.metrics.RecordDrop("unknown_kind")
		d.logger.Warn("dropping envelope of unknown kind",
			zap.String("conn_id", connID.String()),
			zap.String("kind", string(env.Type)),
		)
	}
}

// DispatchOutbound writes env to every connection bound to the session.
// Best-effort fan-out: a failed write to one socket is logged and the rest
// still receive the envelope.
func (d *Dispatcher) DispatchOutbound(sessionID string, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		d.logger.Error("failed to encode outbound envelope", zap.Error(err))
		return
	}

	for _, sock := range d.registry.SessionSockets(sessionID) {
		if !sock.Send(data) {
			d.metrics.RecordDrop("slow_consumer")
			d.logger.Warn("outbound envelope dropped for slow connection",
				zap.String("session_id", sessionID),
				zap.String("kind", string(env.Type)),
			)
		}
	}
	d.metrics.RecordEnvelope(string(env.Type), monitoring.DirOutbound)
}

func (d *Dispatcher) handlePing(connID id.ConnectionID, env protocol.Envelope) {
	d.registry.MarkPong(connID)
	sock, ok := d.registry.SocketOf(connID)
	if !ok {
		return
	}
	data, err := protocol.Encode(protocol.NewPong(env.SessionID))
	if err != nil {
		return
	}
	sock.Send(data)
	d.metrics.RecordEnvelope(string(protocol.KindPong), monitoring.DirOutbound)
}

func (d *Dispatcher) handleJoinSession(connID id.ConnectionID, env protocol.Envelope) {
	if env.SessionID == "" {
		d.dropUnowned(connID, env, "join without session id")
		return
	}
	info, ok := d.registry.Get(connID)
	if !ok {
		return
	}
	if !d.authz.Authorize(info.UserID, env.SessionID) {
		// The session does not exist for this user; retrying the same bind
		// cannot succeed, so the close code is fatal.
		d.registry.RecordError(connID)
		d.metrics.RecordDrop("unowned_session")
		d.logger.Warn("closing connection on unauthorized session bind",
			zap.String("conn_id", connID.String()),
			zap.String("user_id", info.UserID),
			zap.String("session_id", env.SessionID),
		)
		if sock, ok := d.registry.SocketOf(connID); ok {
			sock.Close(protocol.CloseSessionNotFound, "session not found")
		}
		return
	}
	if err := d.registry.BindSession(connID, env.SessionID); err != nil {
		d.logger.Warn("session bind failed",
			zap.String("conn_id", connID.String()),
			zap.Error(err),
		)
		return
	}

	if sock, ok := d.registry.SocketOf(connID); ok {
		if data, err := protocol.Encode(protocol.NewSessionUpdate(env.SessionID, "")); err == nil {
			sock.Send(data)
			d.metrics.RecordEnvelope(string(protocol.KindSessionUpdate), monitoring.DirOutbound)
		}
	}
}

func (d *Dispatcher) handleNewMessage(connID id.ConnectionID, env protocol.Envelope) {
	info, ok := d.ownedSession(connID, env)
	if !ok {
		return
	}

	var msg protocol.MessagePayload
	if err := env.DecodePayload(&msg); err != nil {
		d.registry.RecordError(connID)
		d.metrics.RecordDrop("malformed")
		d.logger.Warn("dropping new_message with bad payload",
			zap.String("conn_id", connID.String()),
			zap.Error(err),
		)
		return
	}

	d.registry.RecordMessage(connID)
	if err := d.engine.Submit(context.Background(), info.SessionID, msg); err != nil {
		d.logger.Error("generation submit failed",
			zap.String("session_id", info.SessionID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) handleTyping(connID id.ConnectionID, env protocol.Envelope) {
	info, ok := d.ownedSession(connID, env)
	if !ok {
		return
	}

	data, err := protocol.Encode(env)
	if err != nil {
		return
	}
	// Mirror the flag to the session's other tabs, never back to the sender.
	for _, sock := range d.registry.PeerSockets(info.SessionID, connID) {
		sock.Send(data)
	}
}

func (d *Dispatcher) handleStopGeneration(connID id.ConnectionID, env protocol.Envelope) {
	info, ok := d.ownedSession(connID, env)
	if !ok {
		return
	}
	d.engine.Stop(info.SessionID)
}

// ownedSession validates that the envelope's session id matches the session
// the connection is bound to. Mismatches are dropped with a diagnostic.
func (d *Dispatcher) ownedSession(connID id.ConnectionID, env protocol.Envelope) (registry.Info, bool) {
	info, ok := d.registry.Get(connID)
	if !ok {
		return registry.Info{}, false
	}
	if info.SessionID == "" || env.SessionID != info.SessionID {
		d.dropUnowned(connID, env, "session id does not match binding")
		return registry.Info{}, false
	}
	return info, true
}

func (d *Dispatcher) dropUnowned(connID id.ConnectionID, env protocol.Envelope, reason string) {
	d.registry.RecordError(connID)
	d.metrics.RecordDrop("unowned_session")
	d.logger.Warn("dropping envelope",
		zap.String("conn_id", connID.String()),
		zap.String("kind", string(env.Type)),
		zap.String("session_id", env.SessionID),
		zap.String("reason", reason),
	)
}
