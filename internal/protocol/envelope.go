package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates envelope payloads.
type Kind string

// Envelope kinds understood by this build. The wire format is open-ended:
// receivers must treat kinds outside this set as unknown, not as errors.
const (
	KindNewMessage        Kind = "new_message"
	KindTyping            Kind = "typing"
	KindJoinSession       Kind = "join_session"
	KindStopGeneration    Kind = "stop_generation"
	KindSessionUpdate     Kind = "session_update"
	KindGenerationStopped Kind = "generation_stopped"
	KindPing              Kind = "ping"
	KindPong              Kind = "pong"
)

// Known reports whether k is an envelope kind this build understands.
func (k Kind) Known() bool {
	switch k {
	case KindNewMessage, KindTyping, KindJoinSession, KindStopGeneration,
		KindSessionUpdate, KindGenerationStopped, KindPing, KindPong:
		return true
	default:
		return false
	}
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Envelope is one typed frame on the wire. SessionID is empty for pre-join
// control frames. Timestamp is sender-local and used only for latency
// diagnostics, never for ordering. Every constructor stamps it, so it is
// always present on the wire (omitempty would not elide a zero time.Time
// anyway).
type Envelope struct {
	Type      Kind            `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// MessagePayload carries a chat turn in either direction.
type MessagePayload struct {
	MessageID string `json:"message_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content"`
}

// TypingPayload mirrors the sender's debounced typing flag.
type TypingPayload struct {
	IsTyping bool `json:"is_typing"`
}

// SessionPayload is a structured session snapshot sent with session_update
// acknowledgements.
type SessionPayload struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title,omitempty"`
}

// ErrMalformed reports a frame that is not a structurally valid envelope.
var ErrMalformed = errors.New("malformed envelope")

// Decode parses one wire frame. A frame that is valid JSON but carries an
// unknown type decodes successfully; callers check Known() to decide whether
// to drop it.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Encode serializes an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodePayload unmarshals the type-dependent body into dst.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty payload for %s", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%w: payload for %s: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

func mustPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// All payload types are plain structs; this cannot fail at runtime.
		panic(err)
	}
	return data
}

// NewMessage builds a new_message envelope with a fresh message id.
func NewMessage(sessionID, role, content string) Envelope {
	return Envelope{
		Type:      KindNewMessage,
		SessionID: sessionID,
		Payload: mustPayload(MessagePayload{
			MessageID: uuid.New().String(),
			Role:      role,
			Content:   content,
		}),
		Timestamp: time.Now().UTC(),
	}
}

// NewTyping builds a typing envelope.
func NewTyping(sessionID string, isTyping bool) Envelope {
	return Envelope{
		Type:      KindTyping,
		SessionID: sessionID,
		Payload:   mustPayload(TypingPayload{IsTyping: isTyping}),
		Timestamp: time.Now().UTC(),
	}
}

// NewJoinSession builds a join_session envelope rebinding the connection.
func NewJoinSession(sessionID string) Envelope {
	return Envelope{
		Type:      KindJoinSession,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// NewStopGeneration builds a stop_generation envelope.
func NewStopGeneration(sessionID string) Envelope {
	return Envelope{
		Type:      KindStopGeneration,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionUpdate builds a session_update acknowledgement.
func NewSessionUpdate(sessionID, title string) Envelope {
	return Envelope{
		Type:      KindSessionUpdate,
		SessionID: sessionID,
		Payload:   mustPayload(SessionPayload{SessionID: sessionID, Title: title}),
		Timestamp: time.Now().UTC(),
	}
}

// NewGenerationStopped builds a generation_stopped envelope.
func NewGenerationStopped(sessionID string) Envelope {
	return Envelope{
		Type:      KindGenerationStopped,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// NewPing builds a ping envelope.
func NewPing(sessionID string) Envelope {
	return Envelope{Type: KindPing, SessionID: sessionID, Timestamp: time.Now().UTC()}
}

// NewPong builds a pong envelope.
func NewPong(sessionID string) Envelope {
	return Envelope{Type: KindPong, SessionID: sessionID, Timestamp: time.Now().UTC()}
}
