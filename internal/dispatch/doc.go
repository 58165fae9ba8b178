// Package dispatch routes envelopes between connections and the generation
// collaborator.
//
// Inbound: each connection's read loop hands raw frames to DispatchInbound,
// which decodes, validates session ownership, and switches exhaustively on
// the envelope kind. Malformed and unknown frames are dropped with a logged
// diagnostic; they never tear down the connection, so the protocol can skew
// during rolling deploys.
//
// Outbound: DispatchOutbound fans an envelope out to every connection bound
// to a session (a session may have several tabs). Delivery is best-effort
// per socket; one slow or broken socket never blocks the others.
package dispatch
