// Package signaling is the WebSocket surface of the relay.
//
// Each connection gets a server-assigned identity, an ordered read loop that
// drives the room controller and the relay, and a write pump fed by a bounded
// queue. Hub tracks live connections and implements room.Notifier.
package signaling
