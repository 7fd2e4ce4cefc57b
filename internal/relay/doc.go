// Package relay forwards targeted signaling messages (offer, answer,
// ice-candidate) between two connected clients.
//
// Payloads are checked for size and shape only. Their SDP/ICE content is never
// interpreted; the relay forwards the bytes it received.
package relay
