package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
)

// Config wires a Relay. Registry and Notifier are required.
type Config struct {
	Registry *room.Registry
	Notifier room.Notifier

	// MaxPayloadBytes defaults to DefaultMaxPayloadBytes.
	MaxPayloadBytes int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Relay struct {
	registry *room.Registry
	notifier room.Notifier
	maxBytes int
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func New(cfg Config) *Relay {
	r := &Relay{
		registry: cfg.Registry,
		notifier: cfg.Notifier,
		maxBytes: cfg.MaxPayloadBytes,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if r.maxBytes <= 0 {
		r.maxBytes = DefaultMaxPayloadBytes
	}
	if r.log == nil {
		r.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

// Handle decodes a client signaling message of the given kind and forwards it.
func (r *Relay) Handle(kind Kind, senderID string, data []byte) (bool, error) {
	req, err := ParseRequest(kind, data)
	if err != nil {
		r.metrics.Inc(metrics.RelayRejectedInvalid)
		return false, err
	}
	return r.Forward(kind, senderID, req.Target, req.Payload)
}

// Forward validates payload and delivers {<field>: payload, from: senderID} to
// targetID. It reports whether the message was handed to the target's
// connection. A target that is not connected is dropped without error.
func (r *Relay) Forward(kind Kind, senderID, targetID string, payload json.RawMessage) (bool, error) {
	if targetID == "" {
		r.metrics.Inc(metrics.RelayRejectedInvalid)
		return false, fmt.Errorf("%w: missing target", ErrInvalidPayload)
	}
	if err := ValidatePayload(kind, payload, r.maxBytes); err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			r.metrics.Inc(metrics.RelayRejectedTooLarge)
		} else {
			r.metrics.Inc(metrics.RelayRejectedInvalid)
		}
		return false, err
	}

	roomID, _ := r.registry.CurrentRoom(senderID)
	if targetID == senderID || !r.registry.IsLive(targetID) {
		r.drop(kind, senderID, targetID, roomID)
		return false, nil
	}

	msg := map[string]json.RawMessage{
		kind.Field(): payload,
		"from":       mustQuote(senderID),
	}
	if err := r.notifier.Send(targetID, string(kind), msg); err != nil {
		r.drop(kind, senderID, targetID, roomID)
		return false, nil
	}

	r.metrics.Inc(metrics.RelayForwarded)
	r.log.Debug("signal relayed", "kind", string(kind), "from", senderID, "to", targetID, "room_id", roomID, "bytes", len(payload))
	return true, nil
}

func (r *Relay) drop(kind Kind, from, to, roomID string) {
	r.metrics.Inc(metrics.RelayDroppedTargetGone)
	r.log.Debug("signal target gone", "kind", string(kind), "from", from, "to", to, "room_id", roomID)
}

func mustQuote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
