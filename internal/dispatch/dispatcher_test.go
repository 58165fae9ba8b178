package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advocon/chatgate/internal/infrastructure/logging"
	"github.com/advocon/chatgate/internal/infrastructure/monitoring"
	"github.com/advocon/chatgate/internal/protocol"
	"github.com/advocon/chatgate/internal/registry"
	"github.com/advocon/chatgate/internal/shared/id"
)

type fakeSocket struct {
	mu        sync.Mutex
	sent      [][]byte
	refuse    bool
	closed    bool
	closeCode int
}

func (s *fakeSocket) Send(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse {
		return false
	}
	s.sent = append(s.sent, data)
	return true
}

func (s *fakeSocket) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCode = code
}

func (s *fakeSocket) closedWith() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closeCode
}

func (s *fakeSocket) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(s.sent))
	for _, data := range s.sent {
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

type fakeEngine struct {
	mu        sync.Mutex
	submitted []protocol.MessagePayload
	stopped   []string
}

func (e *fakeEngine) Submit(_ context.Context, sessionID string, msg protocol.MessagePayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted = append(e.submitted, msg)
	return nil
}

func (e *fakeEngine) Stop(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = append(e.stopped, sessionID)
}

type denyAll struct{}

func (denyAll) Authorize(string, string) bool { return false }

func newTestDispatcher(t *testing.T, authz SessionAuthorizer) (*Dispatcher, *registry.Registry, *fakeEngine) {
	t.Helper()
	metrics, _ := monitoring.NewMetrics()
	reg := registry.New(registry.Config{}, logging.NewNop(), metrics)
	engine := &fakeEngine{}
	return New(reg, engine, authz, logging.NewNop(), metrics), reg, engine
}

func admit(t *testing.T, reg *registry.Registry, sock registry.Socket, user string) id.ConnectionID {
	t.Helper()
	connID, err := reg.Admit(sock, user, "10.0.0.1")
	require.NoError(t, err)
	return connID
}

func encode(t *testing.T, env protocol.Envelope) []byte {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	return data
}

func TestJoinSessionBindsAndAcks(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, nil)
	sock := &fakeSocket{}
	connID := admit(t, reg, sock, "user-1")

	d.DispatchInbound(connID, encode(t, protocol.NewJoinSession("sess_91")))

	info, ok := reg.Get(connID)
	require.True(t, ok)
	assert.Equal(t, "sess_91", info.SessionID)

	envs := sock.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.KindSessionUpdate, envs[0].Type)
	assert.Equal(t, "sess_91", envs[0].SessionID)
}

func TestJoinSessionUnauthorizedClosesWith4404(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, denyAll{})
	sock := &fakeSocket{}
	connID := admit(t, reg, sock, "user-1")

	d.DispatchInbound(connID, encode(t, protocol.NewJoinSession("sess_91")))

	info, _ := reg.Get(connID)
	assert.Empty(t, info.SessionID)
	assert.Empty(t, sock.envelopes(t))
	assert.Equal(t, int64(1), info.ErrorCount)

	// An unavailable session is unrecoverable by retrying the same bind:
	// the socket closes with the fatal session-not-found code.
	closed, code := sock.closedWith()
	require.True(t, closed)
	assert.Equal(t, protocol.CloseSessionNotFound, code)
}

func TestNewMessageForwardedToEngine(t *testing.T) {
	d, reg, engine := newTestDispatcher(t, nil)
	sock := &fakeSocket{}
	connID := admit(t, reg, sock, "user-1")
	require.NoError(t, reg.BindSession(connID, "sess_91"))

	d.DispatchInbound(connID, encode(t, protocol.NewMessage("sess_91", protocol.RoleUser, "Что такое договор?")))

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.submitted, 1)
	assert.Equal(t, "Что такое договор?", engine.submitted[0].Content)

	info, _ := reg.Get(connID)
	assert.Equal(t, int64(1), info.MessageCount)
}

func TestNewMessageWrongSessionDropped(t *testing.T) {
	d, reg, engine := newTestDispatcher(t, nil)
	sock := &fakeSocket{}
	connID := admit(t, reg, sock, "user-1")
	require.NoError(t, reg.BindSession(connID, "sess_91"))

	d.DispatchInbound(connID, encode(t, protocol.NewMessage("sess_other", protocol.RoleUser, "hi")))

	engine.mu.Lock()
	assert.Empty(t, engine.submitted)
	engine.mu.Unlock()

	info, _ := reg.Get(connID)
	assert.Equal(t, int64(1), info.ErrorCount)
}

func TestPingRepliesPong(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, nil)
	sock := &fakeSocket{}
	connID := admit(t, reg, sock, "user-1")

	d.DispatchInbound(connID, encode(t, protocol.NewPing("")))

	envs := sock.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.KindPong, envs[0].Type)
}

func TestTypingRelayedToPeersOnly(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, nil)
	sender := &fakeSocket{}
	peer := &fakeSocket{}
	senderID := admit(t, reg, sender, "user-1")
	peerID := admit(t, reg, peer, "user-1")
	require.NoError(t, reg.BindSession(senderID, "sess_91"))
	require.NoError(t, reg.BindSession(peerID, "sess_91"))

	d.DispatchInbound(senderID, encode(t, protocol.NewTyping("sess_91", true)))

	assert.Empty(t, sender.envelopes(t), "typing must not echo to the sender")
	envs := peer.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.KindTyping, envs[0].Type)

	var payload protocol.TypingPayload
	require.NoError(t, envs[0].DecodePayload(&payload))
	assert.True(t, payload.IsTyping)
}

func TestStopGeneration(t *testing.T) {
	d, reg, engine := newTestDispatcher(t, nil)
	sock := &fakeSocket{}
	connID := admit(t, reg, sock, "user-1")
	require.NoError(t, reg.BindSession(connID, "sess_91"))

	d.DispatchInbound(connID, encode(t, protocol.NewStopGeneration("sess_91")))

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, []string{"sess_91"}, engine.stopped)
}

func TestMalformedAndUnknownDropped(t *testing.T) {
	d, reg, engine := newTestDispatcher(t, nil)
	sock := &fakeSocket{}
	connID := admit(t, reg, sock, "user-1")
	require.NoError(t, reg.BindSession(connID, "sess_91"))

	d.DispatchInbound(connID, []byte(`{"type":`))
	d.DispatchInbound(connID, []byte(`{"type":"presence_sync","session_id":"sess_91"}`))

	engine.mu.Lock()
	assert.Empty(t, engine.submitted)
	engine.mu.Unlock()
	assert.Empty(t, sock.envelopes(t))

	// Connection survives both.
	_, ok := reg.Get(connID)
	assert.True(t, ok)
}

func TestDispatchOutboundFanOut(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, nil)
	healthy := &fakeSocket{}
	broken := &fakeSocket{refuse: true}
	a := admit(t, reg, healthy, "user-1")
	b := admit(t, reg, broken, "user-1")
	require.NoError(t, reg.BindSession(a, "sess_91"))
	require.NoError(t, reg.BindSession(b, "sess_91"))

	d.DispatchOutbound("sess_91", protocol.NewMessage("sess_91", protocol.RoleAssistant, "ответ"))

	// The broken socket does not block delivery to the healthy one.
	envs := healthy.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.KindNewMessage, envs[0].Type)
	assert.Equal(t, "sess_91", envs[0].SessionID)
}

func TestDispatchOutboundNoConnections(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	// Zero bound connections is a valid fan-out target.
	d.DispatchOutbound("sess_empty", protocol.NewGenerationStopped("sess_empty"))
}

func TestNewMessageBadPayloadDropped(t *testing.T) {
	metrics, _ := monitoring.NewMetrics()
	reg := registry.New(registry.Config{}, logging.NewNop(), metrics)
	d := New(reg, &fakeEngine{}, nil, logging.NewNop(), metrics)
	sock := &fakeSocket{}
	connID := admit(t, reg, sock, "user-1")
	require.NoError(t, reg.BindSession(connID, "sess_1"))

	bad, err := json.Marshal(map[string]any{
		"type":       "new_message",
		"session_id": "sess_1",
		"payload":    "not-an-object",
	})
	require.NoError(t, err)
	d.DispatchInbound(connID, bad)

	info, _ := reg.Get(connID)
	assert.Equal(t, int64(1), info.ErrorCount)
	assert.Equal(t, int64(0), info.MessageCount)
}
