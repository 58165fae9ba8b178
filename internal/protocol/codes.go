package protocol

import "github.com/gorilla/websocket"

// Close codes in the application range (4000+) supplement the standard
// WebSocket codes for conditions the standard set does not name.
const (
	CloseNormal          = websocket.CloseNormalClosure   // 1000: intentional close
	CloseGoingAway       = websocket.CloseGoingAway       // 1001: server-initiated, transient
	CloseUnsupported     = websocket.CloseUnsupportedData // 1003: protocol violation
	ClosePolicyViolation = websocket.ClosePolicyViolation // 1008: auth rejected
	CloseSessionNotFound = 4404                           // session or resource gone
	CloseRateLimited     = 4429                           // per-IP capacity exceeded
)

// Fatal reports whether a close code must never be retried automatically.
// Rate limiting is deliberately not fatal: capacity may free up.
func Fatal(code int) bool {
	switch code {
	case CloseUnsupported, ClosePolicyViolation, CloseSessionNotFound:
		return true
	default:
		return false
	}
}

// Intentional reports whether a close code signals a deliberate close that
// needs no recovery at all.
func Intentional(code int) bool {
	return code == CloseNormal
}
