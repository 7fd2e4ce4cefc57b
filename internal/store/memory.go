package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryRoom struct {
	name      string
	createdAt time.Time
	closedAt  time.Time
	// present maps client id to join time for participants without leftAt.
	present map[string]time.Time
}

// Memory is a Store kept in process memory. It is used when no database is
// configured.
type Memory struct {
	mu     sync.Mutex
	rooms  map[string]*memoryRoom
	closed bool
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]*memoryRoom)}
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	if m.closed {
		return fmt.Errorf("%w: store closed", ErrPersistenceUnavailable)
	}
	return nil
}

func (m *Memory) CreateRoom(ctx context.Context, id, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	m.rooms[id] = &memoryRoom{name: name, createdAt: at, present: make(map[string]time.Time)}
	return nil
}

func (m *Memory) CloseRoom(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	r, ok := m.rooms[id]
	if !ok {
		return nil
	}
	r.closedAt = at
	clear(r.present)
	return nil
}

func (m *Memory) AddParticipant(ctx context.Context, roomID, clientID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	r, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("add participant: unknown room %q", roomID)
	}
	r.present[clientID] = at
	return nil
}

func (m *Memory) MarkParticipantLeft(ctx context.Context, roomID, clientID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	if r, ok := m.rooms[roomID]; ok {
		delete(r.present, clientID)
	}
	return nil
}

func (m *Memory) ActiveRooms(ctx context.Context) ([]RoomRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	out := make([]RoomRecord, 0, len(m.rooms))
	for id, r := range m.rooms {
		if !r.closedAt.IsZero() {
			continue
		}
		out = append(out, RoomRecord{ID: id, Name: r.name, CreatedAt: r.createdAt, Participants: len(r.present)})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
