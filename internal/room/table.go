package room

import (
	"sort"
	"sync"
	"time"
)

// Room is a live collaboration session. Members are stored as identities in
// join order; the room never holds references to connection objects.
type Room struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	members  []string
	closedAt time.Time
}

// Members returns a copy of the member identities in join order.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.members...)
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// ClosedAt is zero while the room is live.
func (r *Room) ClosedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closedAt
}

func (r *Room) indexLocked(id string) int {
	for i, m := range r.members {
		if m == id {
			return i
		}
	}
	return -1
}

// RoomInfo is a point-in-time view of a live room.
type RoomInfo struct {
	ID        string
	Name      string
	Members   int
	CreatedAt time.Time
}

// Table owns every live Room.
//
// Lock order is always Table.mu before Room.mu. Every transition is handed to
// the Recorder while those locks are held, so the recorder sees transitions of
// one room in the order they happened. Recorder calls must not block or call
// back into the Table.
type Table struct {
	now      func() time.Time
	recorder Recorder

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewTable returns an empty table. A nil recorder records nothing.
func NewTable(now func() time.Time, recorder Recorder) *Table {
	if now == nil {
		now = time.Now
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Table{
		now:      now,
		recorder: recorder,
		rooms:    make(map[string]*Room),
	}
}

// Create adds a live room whose member set is {founder}. The founder is added
// in the same critical section so a live room is never observed empty.
func (t *Table) Create(roomID, founder string) (*Room, error) {
	if err := ValidateID(roomID); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rooms[roomID]; ok {
		return nil, ErrRoomAlreadyExists
	}
	r := &Room{
		ID:        roomID,
		CreatedAt: t.now(),
		members:   []string{founder},
	}
	t.rooms[roomID] = r
	t.recorder.RoomCreated(roomID, founder, r.CreatedAt)
	return r, nil
}

// Get returns the live room with roomID.
func (t *Table) Get(roomID string) (*Room, error) {
	if err := ValidateID(roomID); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// AddMember adds id to the room and returns the identities that were already
// members, in join order. Adding an existing member changes nothing.
func (t *Table) AddMember(roomID, id string) ([]string, error) {
	if err := ValidateID(roomID); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	existing := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m != id {
			existing = append(existing, m)
		}
	}
	if r.indexLocked(id) < 0 {
		r.members = append(r.members, id)
		t.recorder.ParticipantJoined(roomID, id, t.now())
	}
	return existing, nil
}

// RemoveMember removes id and returns the resulting member count. When the
// count reaches zero the room is unlinked and stamped closed before the table
// lock is released, so its identifier is free the moment the call returns.
// Exactly one caller observes the zero.
func (t *Table) RemoveMember(roomID, id string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[roomID]
	if !ok {
		return 0, ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return len(r.members), ErrNotMember
	}
	now := t.now()
	r.members = append(r.members[:i], r.members[i+1:]...)
	t.recorder.ParticipantLeft(roomID, id, now)
	if len(r.members) == 0 {
		r.closedAt = now
		delete(t.rooms, roomID)
		t.recorder.RoomClosed(roomID, now)
	}
	return len(r.members), nil
}

// Snapshot lists live rooms, newest first.
func (t *Table) Snapshot() []RoomInfo {
	t.mu.RLock()
	out := make([]RoomInfo, 0, len(t.rooms))
	for _, r := range t.rooms {
		r.mu.Lock()
		out = append(out, RoomInfo{
			ID:        r.ID,
			Name:      r.ID,
			Members:   len(r.members),
			CreatedAt: r.CreatedAt,
		})
		r.mu.Unlock()
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of live rooms.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

// Members returns the member identities of a live room, or nil.
func (t *Table) Members(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.members...)
}
