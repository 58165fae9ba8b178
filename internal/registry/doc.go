// Package registry is the single source of truth for live WebSocket
// connections: which sockets are alive, for which user and session, from
// which IP.
//
// The registry is shared mutable state accessed by the accept path (Admit),
// each connection's read loop (Touch, Remove) and the background sweeper
// (Sweep). All access goes through one mutex; removal is idempotent so the
// read-loop close path and a concurrent sweep racing on the same connection
// id are harmless.
//
// Admission enforces a per-IP concurrent connection cap and a per-IP
// admission token bucket. Rejection is a normal error value so the transport
// can close the socket with a rate-limited close code the client classifies
// as transient.
package registry
