// Package server assembles the gateway: configuration, logging, metrics,
// the connection registry and its sweeper, the dispatcher, and the HTTP
// routes they hang off of.
package server
