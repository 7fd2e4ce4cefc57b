package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
)

const (
	DefaultMirrorQueueSize    = 1024
	DefaultMirrorWriteTimeout = 5 * time.Second
)

type MirrorConfig struct {
	Store Store

	// QueueSize bounds the number of pending writes. When full, new
	// transitions are dropped.
	QueueSize    int
	WriteTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type mirrorEvent struct {
	kind   string
	roomID string
	write  func(ctx context.Context, s Store) error
}

// Mirror records room transitions to a Store without blocking the caller.
// Writes are applied in submission order by a single worker. Failures are
// logged and counted, never returned.
type Mirror struct {
	store        Store
	writeTimeout time.Duration
	log          *slog.Logger
	metrics      *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan mirrorEvent
	done   chan struct{}
}

var _ room.Recorder = (*Mirror)(nil)

func NewMirror(cfg MirrorConfig) *Mirror {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultMirrorQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultMirrorWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Mirror{
		store:        cfg.Store,
		writeTimeout: cfg.WriteTimeout,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		queue:        make(chan mirrorEvent, cfg.QueueSize),
		done:         make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mirror) RoomCreated(roomID, founder string, at time.Time) {
	m.enqueue(mirrorEvent{kind: "room_created", roomID: roomID, write: func(ctx context.Context, s Store) error {
		if err := s.CreateRoom(ctx, roomID, roomID, at); err != nil {
			return err
		}
		return s.AddParticipant(ctx, roomID, founder, at)
	}})
}

func (m *Mirror) ParticipantJoined(roomID, clientID string, at time.Time) {
	m.enqueue(mirrorEvent{kind: "participant_joined", roomID: roomID, write: func(ctx context.Context, s Store) error {
		return s.AddParticipant(ctx, roomID, clientID, at)
	}})
}

func (m *Mirror) ParticipantLeft(roomID, clientID string, at time.Time) {
	m.enqueue(mirrorEvent{kind: "participant_left", roomID: roomID, write: func(ctx context.Context, s Store) error {
		return s.MarkParticipantLeft(ctx, roomID, clientID, at)
	}})
}

func (m *Mirror) RoomClosed(roomID string, at time.Time) {
	m.enqueue(mirrorEvent{kind: "room_closed", roomID: roomID, write: func(ctx context.Context, s Store) error {
		return s.CloseRoom(ctx, roomID, at)
	}})
}

// Pending returns the number of queued writes.
func (m *Mirror) Pending() int {
	return len(m.queue)
}

func (m *Mirror) enqueue(ev mirrorEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.metrics.Inc(metrics.MirrorDropped)
		m.log.Warn("mirror closed, dropping event", "event", ev.kind, "room_id", ev.roomID)
		return
	}
	select {
	case m.queue <- ev:
	default:
		m.metrics.Inc(metrics.MirrorDropped)
		m.log.Warn("mirror queue full, dropping event", "event", ev.kind, "room_id", ev.roomID)
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for ev := range m.queue {
		m.apply(ev)
	}
}

func (m *Mirror) apply(ev mirrorEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()

	err := ev.write(ctx, m.store)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrPersistenceUnavailable) {
		err = errors.Join(ErrPersistenceUnavailable, err)
	}
	m.metrics.Inc(metrics.MirrorFailures)
	m.log.Error("mirror write failed", "event", ev.kind, "room_id", ev.roomID, "err", err)
}

// Close stops accepting events and waits until queued writes are applied or
// ctx is done.
func (m *Mirror) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
