// Package middleware provides gin middleware for the gateway's HTTP
// surface: CORS and request rate limiting. WebSocket admission control
// lives in the registry, not here.
package middleware
