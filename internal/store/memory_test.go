package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_ActiveRoomsTracksLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Unix(1_700_000_000, 0)

	if err := m.CreateRoom(ctx, "old", "old", t0); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := m.CreateRoom(ctx, "new", "new", t0.Add(time.Second)); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if err := m.AddParticipant(ctx, "old", id, t0); err != nil {
			t.Fatalf("AddParticipant: %v", err)
		}
	}
	if err := m.MarkParticipantLeft(ctx, "old", "a", t0.Add(2*time.Second)); err != nil {
		t.Fatalf("MarkParticipantLeft: %v", err)
	}

	rooms, err := m.ActiveRooms(ctx)
	if err != nil {
		t.Fatalf("ActiveRooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].ID != "new" || rooms[1].ID != "old" {
		t.Fatalf("rooms=%+v, want [new old]", rooms)
	}
	if rooms[1].Participants != 1 {
		t.Fatalf("old participants=%d, want 1", rooms[1].Participants)
	}

	if err := m.CloseRoom(ctx, "old", t0.Add(3*time.Second)); err != nil {
		t.Fatalf("CloseRoom: %v", err)
	}
	rooms, _ = m.ActiveRooms(ctx)
	if len(rooms) != 1 || rooms[0].ID != "new" {
		t.Fatalf("rooms=%+v, want [new]", rooms)
	}

	// Reusing a closed identifier reopens it with no participants.
	if err := m.CreateRoom(ctx, "old", "old", t0.Add(4*time.Second)); err != nil {
		t.Fatalf("CreateRoom reuse: %v", err)
	}
	rooms, _ = m.ActiveRooms(ctx)
	if len(rooms) != 2 || rooms[0].ID != "old" || rooms[0].Participants != 0 {
		t.Fatalf("rooms=%+v, want reopened old first", rooms)
	}
}

func TestMemory_ClosedStoreIsUnavailable(t *testing.T) {
	m := NewMemory()
	_ = m.Close()
	err := m.CreateRoom(context.Background(), "r", "r", time.Now())
	if !errors.Is(err, ErrPersistenceUnavailable) {
		t.Fatalf("err=%v, want ErrPersistenceUnavailable", err)
	}
}
