// Package monitoring provides Prometheus metrics for the gateway.
//
// Metrics cover the HTTP surface (request counts, durations) and the
// transport layer: live WebSocket connections, envelopes by kind and
// direction, admission rejections by reason, and sweeper evictions.
package monitoring
