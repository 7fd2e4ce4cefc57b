// Package store mirrors room lifecycle transitions into durable storage.
//
// The in-memory room table stays authoritative. Storage is written
// asynchronously by Mirror and read only to enrich the room listing.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrPersistenceUnavailable wraps every failure to reach the backing store.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

// RoomRecord is a room row that has not been closed.
type RoomRecord struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	Participants int
}

type Store interface {
	// CreateRoom inserts the room or reopens a closed record with the same id.
	CreateRoom(ctx context.Context, id, name string, at time.Time) error
	CloseRoom(ctx context.Context, id string, at time.Time) error
	AddParticipant(ctx context.Context, roomID, clientID string, at time.Time) error
	MarkParticipantLeft(ctx context.Context, roomID, clientID string, at time.Time) error
	// ActiveRooms lists rooms without a close time, newest first.
	ActiveRooms(ctx context.Context) ([]RoomRecord, error)
	Close() error
}
