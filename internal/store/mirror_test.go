package store

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
)

// flakyStore fails every write while down is set and can block writes until
// release is closed.
type flakyStore struct {
	*Memory

	mu      sync.Mutex
	down    bool
	release chan struct{}
}

func (s *flakyStore) gate(ctx context.Context) error {
	s.mu.Lock()
	down, release := s.down, s.release
	s.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if down {
		return errors.New("connection refused")
	}
	return nil
}

func (s *flakyStore) CreateRoom(ctx context.Context, id, name string, at time.Time) error {
	if err := s.gate(ctx); err != nil {
		return err
	}
	return s.Memory.CreateRoom(ctx, id, name, at)
}

func (s *flakyStore) AddParticipant(ctx context.Context, roomID, clientID string, at time.Time) error {
	if err := s.gate(ctx); err != nil {
		return err
	}
	return s.Memory.AddParticipant(ctx, roomID, clientID, at)
}

func TestMirror_AppliesTransitionsInOrder(t *testing.T) {
	mem := NewMemory()
	mir := NewMirror(MirrorConfig{Store: mem})
	t0 := time.Unix(1_700_000_000, 0)

	mir.RoomCreated("r1", "A", t0)
	mir.ParticipantJoined("r1", "B", t0.Add(time.Second))
	mir.ParticipantLeft("r1", "A", t0.Add(2*time.Second))
	mir.RoomCreated("r2", "C", t0.Add(3*time.Second))
	mir.ParticipantLeft("r2", "C", t0.Add(4*time.Second))
	mir.RoomClosed("r2", t0.Add(4*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mir.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rooms, err := mem.ActiveRooms(context.Background())
	if err != nil {
		t.Fatalf("ActiveRooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "r1" || rooms[0].Participants != 1 {
		t.Fatalf("rooms=%+v, want r1 with one participant", rooms)
	}
}

func TestMirror_FailuresAreCountedNotPropagated(t *testing.T) {
	m := metrics.New()
	fs := &flakyStore{Memory: NewMemory(), down: true}
	mir := NewMirror(MirrorConfig{Store: fs, Metrics: m})

	mir.RoomCreated("r1", "A", time.Now())
	mir.ParticipantJoined("r1", "B", time.Now())

	if err := mir.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := m.Get(metrics.MirrorFailures); got != 2 {
		t.Fatalf("mirror_failures=%d, want 2", got)
	}
}

func TestMirror_DropsWhenQueueFull(t *testing.T) {
	m := metrics.New()
	release := make(chan struct{})
	fs := &flakyStore{Memory: NewMemory(), release: release}
	mir := NewMirror(MirrorConfig{Store: fs, QueueSize: 1, WriteTimeout: 5 * time.Second, Metrics: m})

	// The worker takes the first event and blocks on it; the second fills
	// the queue; the rest are dropped.
	mir.RoomCreated("r1", "A", time.Now())
	deadline := time.Now().Add(2 * time.Second)
	for mir.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("worker never picked up the first event")
		}
		time.Sleep(time.Millisecond)
	}
	mir.ParticipantJoined("r1", "B", time.Now())
	mir.ParticipantJoined("r1", "C", time.Now())
	mir.ParticipantJoined("r1", "D", time.Now())

	if got := m.Get(metrics.MirrorDropped); got != 2 {
		t.Fatalf("mirror_dropped=%d, want 2", got)
	}

	close(release)
	if err := mir.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rooms, _ := fs.Memory.ActiveRooms(context.Background())
	if len(rooms) != 1 || rooms[0].Participants != 2 {
		t.Fatalf("rooms=%+v, want r1 with A and B", rooms)
	}
}

func TestMirror_CloseHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	fs := &flakyStore{Memory: NewMemory(), release: release}
	mir := NewMirror(MirrorConfig{Store: fs, WriteTimeout: time.Minute})

	mir.RoomCreated("r1", "A", time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := mir.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close err=%v, want DeadlineExceeded", err)
	}

	// Events after Close are dropped rather than panicking on a closed queue.
	mir.ParticipantJoined("r1", "B", time.Now())
}

func TestMirror_PersistedRoomsMatchLiveTableUnderReuse(t *testing.T) {
	const iterations = 100

	m := metrics.New()
	mem := NewMemory()
	mir := NewMirror(MirrorConfig{Store: mem, QueueSize: 8 * iterations, Metrics: m})
	ctrl := room.NewController(room.Config{Recorder: mir, Metrics: m})

	for i := 0; i < iterations; i++ {
		roomID := fmt.Sprintf("r%d", i)
		a, b, c := "a"+roomID, "b"+roomID, "c"+roomID
		for _, id := range []string{a, b, c} {
			ctrl.Connect(id)
		}
		if _, err := ctrl.CreateRoom(a, roomID); err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			ctrl.LeaveRoom(a)
		}()
		go func() {
			defer wg.Done()
			for {
				_, err := ctrl.CreateRoom(c, roomID)
				if err == nil {
					return
				}
				if !errors.Is(err, room.ErrRoomAlreadyExists) {
					t.Errorf("CreateRoom %s: %v", c, err)
					return
				}
				runtime.Gosched()
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := ctrl.JoinRoom(b, roomID); err == nil {
				ctrl.LeaveRoom(b)
			}
		}()
		wg.Wait()
	}

	if err := mir.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := m.Get(metrics.MirrorFailures); got != 0 {
		t.Fatalf("mirror_failures=%d, want 0", got)
	}
	if got := m.Get(metrics.MirrorDropped); got != 0 {
		t.Fatalf("mirror_dropped=%d, want 0", got)
	}

	persisted, err := mem.ActiveRooms(context.Background())
	if err != nil {
		t.Fatalf("ActiveRooms: %v", err)
	}
	live := ctrl.Table().Snapshot()
	if len(persisted) != len(live) || len(live) != iterations {
		t.Fatalf("persisted %d rooms, live %d, want %d", len(persisted), len(live), iterations)
	}
	byID := make(map[string]RoomRecord, len(persisted))
	for _, rec := range persisted {
		byID[rec.ID] = rec
	}
	for _, info := range live {
		rec, ok := byID[info.ID]
		if !ok {
			t.Fatalf("live room %s recorded as closed", info.ID)
		}
		if rec.Participants != info.Members {
			t.Fatalf("room %s: persisted participants=%d, live=%d", info.ID, rec.Participants, info.Members)
		}
	}
}
