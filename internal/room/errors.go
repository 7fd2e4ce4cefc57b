package room

import "errors"

var (
	ErrInvalidIdentifier = errors.New("invalid room identifier")
	ErrAlreadyInRoom     = errors.New("client is already in a room")
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrRoomNotFound      = errors.New("room not found")
	// ErrNotMember is returned by Table.RemoveMember when the identity is not in
	// the room's member set. The controller treats it as an already-completed
	// teardown.
	ErrNotMember = errors.New("client is not a member of the room")
)

// ErrUnknownClient is returned when a lifecycle operation names an identity
// that has no registered connection.
var ErrUnknownClient = errors.New("unknown client")
