package room

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
)

// Config wires together the dependencies of a Controller.
type Config struct {
	Registry *Registry

	// Notifier delivers user-joined/user-left to room members. Required.
	Notifier Notifier

	// Recorder mirrors transitions to durable storage. If nil, nothing is
	// recorded.
	Recorder Recorder

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller drives the room lifecycle: create, join, leave and disconnect.
//
// Calls for a single client must not run concurrently; the transport processes
// each connection's events sequentially. Calls for different clients may run
// concurrently and are serialized per room by the Table.
type Controller struct {
	registry *Registry
	table    *Table
	notifier Notifier
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewController(cfg Config) *Controller {
	c := &Controller{
		registry: cfg.Registry,
		notifier: cfg.Notifier,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	c.table = NewTable(c.now, cfg.Recorder)
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

func (c *Controller) Registry() *Registry { return c.registry }
func (c *Controller) Table() *Table       { return c.table }

// CreateResult is acknowledged to the client after a successful create-room.
type CreateResult struct {
	RoomID string
}

// JoinResult is acknowledged to the client after a successful join-room.
type JoinResult struct {
	RoomID        string
	ExistingUsers []string
}

// Connect registers a newly connected client with no room.
func (c *Controller) Connect(clientID string) {
	c.registry.Register(clientID)
	c.log.Debug("client connected", "client_id", clientID)
}

func (c *Controller) CreateRoom(clientID, roomID string) (CreateResult, error) {
	if err := ValidateID(roomID); err != nil {
		return CreateResult{}, err
	}
	if err := c.requireUnjoined(clientID); err != nil {
		return CreateResult{}, err
	}

	if _, err := c.table.Create(roomID, clientID); err != nil {
		return CreateResult{}, err
	}
	c.registry.SetRoom(clientID, roomID)

	c.metrics.Inc(metrics.RoomsCreated)
	c.log.Info("room created", "room_id", roomID, "client_id", clientID)

	return CreateResult{RoomID: roomID}, nil
}

func (c *Controller) JoinRoom(clientID, roomID string) (JoinResult, error) {
	if err := ValidateID(roomID); err != nil {
		return JoinResult{}, err
	}
	if err := c.requireUnjoined(clientID); err != nil {
		return JoinResult{}, err
	}

	existing, err := c.table.AddMember(roomID, clientID)
	if err != nil {
		return JoinResult{}, err
	}
	c.registry.SetRoom(clientID, roomID)

	now := c.now()
	c.broadcast(existing, EventUserJoined, UserEvent{UserID: clientID, Timestamp: now.UTC()})

	c.metrics.Inc(metrics.RoomJoins)
	c.log.Info("room joined", "room_id", roomID, "client_id", clientID, "members", len(existing)+1)

	return JoinResult{RoomID: roomID, ExistingUsers: existing}, nil
}

// LeaveRoom removes the client from its room. It reports whether a transition
// happened; leaving while not in a room is a no-op.
func (c *Controller) LeaveRoom(clientID string) bool {
	return c.teardown(clientID, "leave-room")
}

// Disconnect runs the same teardown as LeaveRoom and then forgets the client.
// It is safe to call after LeaveRoom or more than once.
func (c *Controller) Disconnect(clientID, reason string) {
	c.teardown(clientID, reason)
	c.registry.Deregister(clientID)
	c.log.Debug("client disconnected", "client_id", clientID, "reason", reason)
}

func (c *Controller) requireUnjoined(clientID string) error {
	if !c.registry.IsLive(clientID) {
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	if current, ok := c.registry.CurrentRoom(clientID); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyInRoom, current)
	}
	return nil
}

// teardown is the single exit path shared by leave-room and disconnect.
func (c *Controller) teardown(clientID, reason string) bool {
	roomID, ok := c.registry.CurrentRoom(clientID)
	if !ok {
		return false
	}

	remaining, err := c.table.RemoveMember(roomID, clientID)
	c.registry.SetRoom(clientID, "")
	if err != nil {
		if !errors.Is(err, ErrNotMember) && !errors.Is(err, ErrRoomNotFound) {
			c.log.Error("remove member failed", "room_id", roomID, "client_id", clientID, "err", err)
		}
		return false
	}

	c.metrics.Inc(metrics.RoomLeaves)
	c.log.Info("room left", "room_id", roomID, "client_id", clientID, "remaining", remaining, "reason", reason)

	if remaining > 0 {
		c.broadcast(c.table.Members(roomID), EventUserLeft, UserEvent{UserID: clientID, Timestamp: c.now().UTC()})
		return true
	}

	// The table already unlinked the room; the identifier may be live again.
	c.metrics.Inc(metrics.RoomsClosed)
	c.log.Info("room closed", "room_id", roomID)
	return true
}

func (c *Controller) broadcast(recipients []string, eventType string, data any) {
	if c.notifier == nil {
		return
	}
	for _, id := range recipients {
		if err := c.notifier.Send(id, eventType, data); err != nil {
			c.log.Debug("notify failed", "client_id", id, "event", eventType, "err", err)
		}
	}
}
