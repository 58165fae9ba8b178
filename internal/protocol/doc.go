// Package protocol defines the typed wire format exchanged over the chat
// transport.
//
// Every frame is one JSON-encoded Envelope with a `type` discriminator and a
// type-dependent payload. The package also owns the close-code taxonomy used
// by both ends to classify connection failures as fatal or transient.
//
// Forward compatibility: decoding distinguishes malformed JSON from a
// structurally valid envelope whose kind this build does not know about, so
// receivers can log-and-drop unknown kinds instead of tearing down the
// connection during rolling deploys.
package protocol
