package httpserver

import (
	"context"
	"net/http"
	"time"
)

// storeQueryTimeout bounds how long GET /rooms waits for the store before
// answering from the live table alone.
const storeQueryTimeout = 2 * time.Second

type healthResponse struct {
	Status            string  `json:"status"`
	ActiveConnections int     `json:"activeConnections"`
	ActiveRooms       int     `json:"activeRooms"`
	Uptime            float64 `json:"uptime"`
	Timestamp         string  `json:"timestamp"`
}

type roomSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserCount int       `json:"userCount"`
	CreatedAt time.Time `json:"createdAt"`
}

type roomsResponse struct {
	Rooms []roomSummary `json:"rooms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	now := s.deps.Now()
	WriteJSON(w, http.StatusOK, healthResponse{
		Status:            "ok",
		ActiveConnections: s.deps.Controller.Registry().Len(),
		ActiveRooms:       s.deps.Controller.Table().Len(),
		Uptime:            now.Sub(s.started).Seconds(),
		Timestamp:         now.UTC().Format(time.RFC3339),
	})
}

// handleRooms lists live rooms. The in-memory table decides which rooms exist;
// the store only supplies display names.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	live := s.deps.Controller.Table().Snapshot()
	names := s.persistedNames(r.Context())

	resp := roomsResponse{Rooms: make([]roomSummary, 0, len(live))}
	for _, info := range live {
		name := info.Name
		if persisted, ok := names[info.ID]; ok && persisted != "" {
			name = persisted
		}
		resp.Rooms = append(resp.Rooms, roomSummary{
			ID:        info.ID,
			Name:      name,
			UserCount: info.Members,
			CreatedAt: info.CreatedAt.UTC(),
		})
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) persistedNames(ctx context.Context) map[string]string {
	if s.deps.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, storeQueryTimeout)
	defer cancel()

	records, err := s.deps.Store.ActiveRooms(ctx)
	if err != nil {
		s.log.Warn("room listing without store", "err", err)
		return nil
	}
	names := make(map[string]string, len(records))
	for _, rec := range records {
		names[rec.ID] = rec.Name
	}
	return names
}
