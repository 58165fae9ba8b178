package client

import (
	"time"

	"github.com/advocon/chatgate/internal/protocol"
)

// Decision is the outcome of classifying one close event.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy decides whether and when to reconnect after a close event. It is a
// pure function of (close code, attempt number); all counters live in the
// Client.
//
// Backoff is deliberately linear, not exponential: the chat backend restarts
// on a predictable cadence during deploys, so the goal is a bounded total
// wait, not infinite patience.
type Policy struct {
	// BaseDelay scales linearly with the attempt number.
	BaseDelay time.Duration
	// MaxAttempts bounds retries; attempts beyond it surface fatal_error.
	MaxAttempts int
}

// DefaultPolicy returns the production policy: 1s base delay, 3 attempts.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: time.Second, MaxAttempts: 3}
}

// Decide classifies a close code at a given attempt number (starting at 1).
func (p Policy) Decide(closeCode, attempt int) Decision {
	if protocol.Intentional(closeCode) || protocol.Fatal(closeCode) {
		return Decision{}
	}
	if attempt > p.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.BaseDelay * time.Duration(attempt)}
}
