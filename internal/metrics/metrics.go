package metrics

import "sync"

// Event counter names.
const (
	RoomsCreated = "rooms_created"
	RoomsClosed  = "rooms_closed"
	RoomJoins    = "room_joins"
	RoomLeaves   = "room_leaves"

	RelayForwarded         = "relay_forwarded"
	RelayDroppedTargetGone = "relay_dropped_target_gone"
	RelayRejectedInvalid   = "relay_rejected_invalid"
	RelayRejectedTooLarge  = "relay_rejected_too_large"

	MirrorFailures = "mirror_failures"
	MirrorDropped  = "mirror_dropped"

	SignalingRateLimited = "signaling_rate_limited"
	SendQueueFull        = "send_queue_full"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics discards
// every update so components can run without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
