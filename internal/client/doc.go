// Package client maintains one logical chat transport per session, hiding
// reconnection behind a stable send API.
//
// A Client owns exactly one socket at a time and moves through explicit
// states: disconnected, connecting, connected, reconnecting, fatal_error.
// Failures are classified by close code: intentional closes stay down, fatal
// application codes surface fatal_error and require a manual Connect after
// re-authentication, everything else retries with linear backoff up to a
// bounded attempt ceiling.
//
// Send methods return false instead of queuing when the transport is not
// connected; callers surface "not sent, retry" rather than buffering across
// an outage. Inbound envelopes arrive on one bounded channel; pong frames
// are consumed silently and unknown kinds are logged and dropped.
package client
