package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advocon/chatgate/internal/infrastructure/logging"
	"github.com/advocon/chatgate/internal/infrastructure/monitoring"
	"github.com/advocon/chatgate/internal/shared/id"
)

// fakeSocket records sends and closes for assertions.
type fakeSocket struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	code   int
}

func (s *fakeSocket) Send(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, data)
	return true
}

func (s *fakeSocket) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.code = code
}

func (s *fakeSocket) closedWith() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.code
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	metrics, _ := monitoring.NewMetrics()
	return New(cfg, logging.NewNop(), metrics)
}

func TestAdmitAndRemove(t *testing.T) {
	r := newTestRegistry(t, Config{})

	connID, err := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	info, ok := r.Get(connID)
	require.True(t, ok)
	assert.Equal(t, "user-1", info.UserID)
	assert.Equal(t, "10.0.0.1", info.RemoteIP)
	assert.Equal(t, StateOpen, info.State)
	assert.Empty(t, info.SessionID)

	r.Remove(connID)
	assert.Equal(t, 0, r.Len())
	_, ok = r.Get(connID)
	assert.False(t, ok)
}

func TestRemoveIdempotent(t *testing.T) {
	r := newTestRegistry(t, Config{})

	connID, err := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	require.NoError(t, err)

	// Read-loop close path and a concurrent sweeper pass may both remove.
	r.Remove(connID)
	r.Remove(connID)

	assert.Equal(t, 0, r.Len())
	stats := r.Stats()
	assert.Empty(t, stats.PerIP, "double remove must not double-decrement")
}

func TestAdmitPerIPCap(t *testing.T) {
	r := newTestRegistry(t, Config{MaxPerIP: 3})

	for i := 0; i < 3; i++ {
		_, err := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
		require.NoError(t, err)
	}

	_, err := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, r.Len(), "rejected admit must not mutate the registry")

	// A different IP is unaffected.
	_, err = r.Admit(&fakeSocket{}, "user-2", "10.0.0.2")
	assert.NoError(t, err)
}

func TestAdmitTokenBucket(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	r := newTestRegistry(t, Config{AdmitPerSecond: 1, AdmitBurst: 2, Clock: clock})

	// The burst admits immediately; the next attempt in the same instant
	// finds the bucket empty.
	for i := 0; i < 2; i++ {
		_, err := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
		require.NoError(t, err)
	}
	_, err := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 2, r.Len(), "rejected admit must not mutate the registry")

	// Other IPs have their own bucket.
	_, err = r.Admit(&fakeSocket{}, "user-2", "10.0.0.2")
	assert.NoError(t, err)

	// A second of refill buys one more admission.
	now = now.Add(time.Second)
	_, err = r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	assert.NoError(t, err)
}

func TestAdmitRejectionCountedOnce(t *testing.T) {
	metrics, _ := monitoring.NewMetrics()
	r := New(Config{MaxPerIP: 1}, logging.NewNop(), metrics)

	_, err := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	require.NoError(t, err)
	_, err = r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	require.ErrorIs(t, err, ErrRateLimited)

	counter := metrics.AdmissionRejected.WithLabelValues(monitoring.ReasonRateLimited)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))
}

func TestAdmitCapFreesOnRemove(t *testing.T) {
	r := newTestRegistry(t, Config{MaxPerIP: 1})

	connID, err := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	require.NoError(t, err)

	_, err = r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	require.ErrorIs(t, err, ErrRateLimited)

	r.Remove(connID)

	_, err = r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	assert.NoError(t, err)
}

func TestBindSession(t *testing.T) {
	r := newTestRegistry(t, Config{})

	connID, err := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	require.NoError(t, err)

	require.NoError(t, r.BindSession(connID, "sess_a"))
	info, _ := r.Get(connID)
	assert.Equal(t, "sess_a", info.SessionID)
	assert.Len(t, r.SessionSockets("sess_a"), 1)

	// Rebinding overwrites, never creates a second entry.
	require.NoError(t, r.BindSession(connID, "sess_b"))
	info, _ = r.Get(connID)
	assert.Equal(t, "sess_b", info.SessionID)
	assert.Empty(t, r.SessionSockets("sess_a"))
	assert.Len(t, r.SessionSockets("sess_b"), 1)

	assert.ErrorIs(t, r.BindSession(id.ConnectionID("conn_unknown"), "sess_a"), ErrNotFound)
}

func TestPeerSockets(t *testing.T) {
	r := newTestRegistry(t, Config{})

	a, _ := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	b, _ := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	require.NoError(t, r.BindSession(a, "sess_a"))
	require.NoError(t, r.BindSession(b, "sess_a"))

	assert.Len(t, r.PeerSockets("sess_a", a), 1)
	assert.Len(t, r.SessionSockets("sess_a"), 2)
}

func TestSweepEvictsStale(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	r := newTestRegistry(t, Config{StaleAfter: time.Minute, Clock: clock})

	staleSock := &fakeSocket{}
	freshSock := &fakeSocket{}
	stale, _ := r.Admit(staleSock, "user-1", "10.0.0.1")
	fresh, _ := r.Admit(freshSock, "user-2", "10.0.0.2")

	// The fresh connection keeps sending frames; the stale one goes quiet.
	now = now.Add(2 * time.Minute)
	r.Touch(fresh)

	evicted := r.Sweep(now)
	assert.Equal(t, 1, evicted)

	closed, code := staleSock.closedWith()
	assert.True(t, closed)
	assert.Equal(t, 1001, code, "sweeper must close with a transient code")

	closed, _ = freshSock.closedWith()
	assert.False(t, closed)

	_, ok := r.Get(stale)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Stats().Live)
}

func TestSweepRefreshedByPong(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	r := newTestRegistry(t, Config{StaleAfter: time.Minute, Clock: clock})

	connID, _ := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")

	now = now.Add(50 * time.Second)
	r.MarkPong(connID)

	now = now.Add(50 * time.Second)
	assert.Equal(t, 0, r.Sweep(now), "pong within threshold keeps the connection")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep(now))
}

func TestStats(t *testing.T) {
	r := newTestRegistry(t, Config{})

	a, _ := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	_, _ = r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
	require.NoError(t, r.BindSession(a, "sess_a"))

	stats := r.Stats()
	assert.Equal(t, 2, stats.Live)
	assert.Equal(t, 2, stats.PerIP["10.0.0.1"])
	assert.Equal(t, 1, stats.PerSession["sess_a"])
}

func TestConcurrentRemoveAndSweep(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	r := newTestRegistry(t, Config{StaleAfter: time.Millisecond, Clock: clock})

	var ids []id.ConnectionID
	for i := 0; i < 50; i++ {
		connID, err := r.Admit(&fakeSocket{}, "user-1", "10.0.0.1")
		require.NoError(t, err)
		ids = append(ids, connID)
	}

	mu.Lock()
	now = now.Add(time.Second)
	mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, connID := range ids {
			r.Remove(connID)
		}
	}()
	go func() {
		defer wg.Done()
		r.Sweep(clock())
	}()
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Stats().PerIP)
}
