package generation

import (
	"context"
	"sync"

	"github.com/advocon/chatgate/internal/protocol"
)

// EchoEngine answers every turn with a canned assistant reply. It stands in
// for the real generation service in development and tests.
type EchoEngine struct {
	out Outbound

	mu      sync.Mutex
	stopped map[string]bool
}

// NewEchoEngine creates an echo engine writing into out.
func NewEchoEngine(out Outbound) *EchoEngine {
	return &EchoEngine{out: out, stopped: make(map[string]bool)}
}

// Submit replies asynchronously with an assistant new_message echoing the turn.
func (e *EchoEngine) Submit(ctx context.Context, sessionID string, msg protocol.MessagePayload) error {
	go func() {
		if ctx.Err() != nil {
			return
		}
		e.mu.Lock()
		stopped := e.stopped[sessionID]
		delete(e.stopped, sessionID)
		e.mu.Unlock()
		if stopped {
			e.out.DispatchOutbound(sessionID, protocol.NewGenerationStopped(sessionID))
			return
		}
		e.out.DispatchOutbound(sessionID, protocol.NewMessage(sessionID, protocol.RoleAssistant, "echo: "+msg.Content))
	}()
	return nil
}

// Stop marks the next reply for the session as stopped.
func (e *EchoEngine) Stop(sessionID string) {
	e.mu.Lock()
	e.stopped[sessionID] = true
	e.mu.Unlock()
}
