package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
)

const (
	msgCreateRoom = "create-room"
	msgJoinRoom   = "join-room"
	msgLeaveRoom  = "leave-room"

	msgAck            = "ack"
	msgConnected      = "connected"
	msgError          = "error"
	msgServerShutdown = "server-shutdown"
)

// inbound is the envelope of every client message. ID, when present, asks for
// an ack and is echoed back verbatim.
type inbound struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
	Data any             `json:"data,omitempty"`
}

type connectedData struct {
	UserID string `json:"userId"`
}

type ackData struct {
	Success       bool     `json:"success"`
	RoomID        string   `json:"roomId,omitempty"`
	ExistingUsers []string `json:"existingUsers,omitempty"`
	Error         string   `json:"error,omitempty"`
	Code          string   `json:"code,omitempty"`
}

type errorData struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type shutdownData struct {
	Message string `json:"message"`
}

var errBadMessage = errors.New("bad message")

func parseInbound(data []byte) (inbound, error) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return inbound{}, fmt.Errorf("%w: %v", errBadMessage, err)
	}
	if msg.Type == "" {
		return inbound{}, fmt.Errorf("%w: missing type", errBadMessage)
	}
	return msg, nil
}

func hasAckID(id json.RawMessage) bool {
	trimmed := bytes.TrimSpace(id)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func encode(eventType string, id json.RawMessage, data any) ([]byte, error) {
	return json.Marshal(outbound{Type: eventType, ID: id, Data: data})
}

// errorCode maps domain errors to the stable codes sent to clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrInvalidIdentifier):
		return "invalid_room_id"
	case errors.Is(err, room.ErrAlreadyInRoom):
		return "already_in_room"
	case errors.Is(err, room.ErrRoomAlreadyExists):
		return "room_exists"
	case errors.Is(err, room.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, room.ErrUnknownClient):
		return "unknown_client"
	case errors.Is(err, relay.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, relay.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, errBadMessage):
		return "bad_message"
	default:
		return "internal_error"
	}
}

func failedAck(err error) ackData {
	return ackData{Success: false, Error: err.Error(), Code: errorCode(err)}
}
