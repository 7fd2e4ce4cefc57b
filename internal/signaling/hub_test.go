package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// detachedClient has no socket and no write pump, so queued messages stay in
// its channel.
func detachedClient(id string, queueSize int, m *metrics.Metrics) *client {
	return newClient(id, nil, queueSize, time.Second, time.Second, discardLogger(), m)
}

func TestHub_SendUnknownClient(t *testing.T) {
	h := NewHub(nil)
	err := h.Send("nobody", room.EventUserJoined, room.UserEvent{UserID: "x"})
	if !errors.Is(err, ErrClientGone) {
		t.Fatalf("err=%v, want ErrClientGone", err)
	}
}

func TestHub_SendEncodesEnvelope(t *testing.T) {
	h := NewHub(nil)
	c := detachedClient("A", 4, nil)
	h.add(c)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := h.Send("A", room.EventUserLeft, room.UserEvent{UserID: "B", Timestamp: at}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got struct {
		Type string         `json:"type"`
		Data room.UserEvent `json:"data"`
	}
	if err := json.Unmarshal(<-c.out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "user-left" || got.Data.UserID != "B" || !got.Data.Timestamp.Equal(at) {
		t.Fatalf("got %+v", got)
	}
}

func TestHub_FullQueueDisconnectsSlowClient(t *testing.T) {
	m := metrics.New()
	h := NewHub(nil)
	c := detachedClient("slow", 1, m)
	h.add(c)

	if err := h.Send("slow", "x", nil); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := h.Send("slow", "x", nil); !errors.Is(err, errSendQueueFull) {
		t.Fatalf("second Send err=%v, want errSendQueueFull", err)
	}
	if reason, ok := c.closedByServer(); !ok || reason != "send queue full" {
		t.Fatalf("closedByServer=(%q, %v), want send queue full", reason, ok)
	}
	if err := h.Send("slow", "x", nil); !errors.Is(err, ErrClientGone) {
		t.Fatalf("Send after close err=%v, want ErrClientGone", err)
	}
	if got := m.Get(metrics.SendQueueFull); got != 1 {
		t.Fatalf("send_queue_full=%d, want 1", got)
	}
}

func TestHub_BroadcastAndRemove(t *testing.T) {
	h := NewHub(nil)
	a := detachedClient("A", 4, nil)
	b := detachedClient("B", 4, nil)
	h.add(a)
	h.add(b)

	if n := h.Broadcast(msgServerShutdown, shutdownData{Message: "bye"}); n != 2 {
		t.Fatalf("Broadcast=%d, want 2", n)
	}

	// A stale handle must not remove a newer registration with the same id.
	h.remove(detachedClient("A", 1, nil))
	if h.Len() != 2 {
		t.Fatalf("Len=%d, want 2", h.Len())
	}
	h.remove(a)
	if h.Len() != 1 {
		t.Fatalf("Len=%d, want 1", h.Len())
	}
}
