package client

import (
	"sync"
	"time"
)

// typingState shapes raw typing signals into the envelopes peers see.
// Duplicate "true" signals are suppressed, an auto-off timer bounds how
// long a stale indicator can live, and explicit stops are debounced so a
// brief pause mid-sentence does not flicker the indicator.
type typingState struct {
	autoOff   time.Duration
	stopDelay time.Duration
	send      func(isTyping bool)

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

func newTypingState(autoOff, stopDelay time.Duration, send func(bool)) *typingState {
	return &typingState{
		autoOff:   autoOff,
		stopDelay: stopDelay,
		send:      send,
	}
}

// signal ingests one raw keystroke-level typing signal.
func (t *typingState) signal(isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isTyping {
		if !t.active {
			t.active = true
			t.send(true)
		}
		// Every keystroke pushes the auto-off horizon out.
		t.rearmLocked(t.autoOff, t.fire)
		return
	}

	if !t.active {
		return
	}
	t.rearmLocked(t.stopDelay, t.fire)
}

func (t *typingState) fire() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.timer = nil
	t.mu.Unlock()
	t.send(false)
}

// reset clears local state without emitting anything; used on disconnect
// where the server drops the indicator with the connection.
func (t *typingState) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.active = false
}

// rearmLocked replaces the single pending timer. Only one of auto-off or
// stop-debounce is ever armed at a time.
func (t *typingState) rearmLocked(d time.Duration, fn func()) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, fn)
}
