package room

import "sync"

// Registry maps live client identities to the room each one is currently in.
//
// Unknown identities are never an error: disconnects can race with other
// cleanup, so every mutation on a missing entry is a no-op.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]string
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]string)}
}

// Register adds id with no room. Registering an existing id keeps its room.
func (r *Registry) Register(id string) {
	r.mu.Lock()
	if _, ok := r.clients[id]; !ok {
		r.clients[id] = ""
	}
	r.mu.Unlock()
}

// CurrentRoom returns the room id is in. ok is false when the client is not in
// a room or is not registered.
func (r *Registry) CurrentRoom(id string) (roomID string, ok bool) {
	r.mu.RLock()
	roomID = r.clients[id]
	r.mu.RUnlock()
	return roomID, roomID != ""
}

// SetRoom replaces the room mapping for id. An empty roomID clears it.
func (r *Registry) SetRoom(id, roomID string) {
	r.mu.Lock()
	if _, ok := r.clients[id]; ok {
		r.clients[id] = roomID
	}
	r.mu.Unlock()
}

func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

// IsLive reports whether id currently holds a registered connection.
func (r *Registry) IsLive(id string) bool {
	r.mu.RLock()
	_, ok := r.clients[id]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
