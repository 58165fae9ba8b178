// Package ws upgrades HTTP requests to WebSocket connections and bridges
// them into the registry and dispatcher. Each accepted socket gets a single
// writer goroutine; reads happen on the handler goroutine and feed inbound
// envelopes to the dispatcher.
package ws
