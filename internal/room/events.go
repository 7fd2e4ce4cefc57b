package room

import "time"

// Outbound event types emitted by the controller.
const (
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
)

// UserEvent is the payload of user-joined and user-left.
type UserEvent struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers an event to one connected client. Implementations must not
// block on a slow client; they return an error when the client is gone or its
// queue is full.
type Notifier interface {
	Send(clientID, eventType string, data any) error
}

// Recorder mirrors lifecycle transitions to durable storage. The Table calls
// it while holding the locks that guard the transition, so calls for one room
// arrive in transition order. Implementations must not block and must not
// call back into the Table.
type Recorder interface {
	RoomCreated(roomID, founder string, at time.Time)
	ParticipantJoined(roomID, clientID string, at time.Time)
	ParticipantLeft(roomID, clientID string, at time.Time)
	RoomClosed(roomID string, at time.Time)
}

type nopRecorder struct{}

func (nopRecorder) RoomCreated(string, string, time.Time)       {}
func (nopRecorder) ParticipantJoined(string, string, time.Time) {}
func (nopRecorder) ParticipantLeft(string, string, time.Time)   {}
func (nopRecorder) RoomClosed(string, time.Time)                {}
