// Package generation defines the boundary to the LLM generation collaborator.
//
// The transport treats chat turns and generated answers as opaque payloads:
// submitting a turn is fire-and-forget, and results come back asynchronously
// through the Outbound sink as new_message / generation_stopped envelopes.
// The engine's internals (inference, retrieval) live outside this repository.
package generation

import (
	"context"

	"github.com/advocon/chatgate/internal/protocol"
)

// Outbound delivers generated envelopes back to every connection bound to a
// session. Satisfied by the message dispatcher.
type Outbound interface {
	DispatchOutbound(sessionID string, env protocol.Envelope)
}

// OutboundFunc adapts a function to the Outbound interface.
type OutboundFunc func(sessionID string, env protocol.Envelope)

// DispatchOutbound calls f.
func (f OutboundFunc) DispatchOutbound(sessionID string, env protocol.Envelope) {
	f(sessionID, env)
}

// Engine accepts submitted chat turns and produces zero or more outbound
// envelopes per turn. Stop is a best-effort cooperative cancellation signal.
type Engine interface {
	Submit(ctx context.Context, sessionID string, msg protocol.MessagePayload) error
	Stop(sessionID string)
}
