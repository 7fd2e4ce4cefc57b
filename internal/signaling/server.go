package signaling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
)

const (
	defaultIdleTimeout     = 60 * time.Second
	defaultPingInterval    = 20 * time.Second
	defaultWriteWait       = 10 * time.Second
	defaultSendQueueSize   = 64
	defaultMaxMessageBytes = 256 * 1024
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Controller *room.Controller
	Relay      *relay.Relay
	Hub        *Hub

	// CheckOrigin is used by the WebSocket upgrader. If nil, all origins are
	// accepted; the production binary passes origin.Policy.CheckOrigin.
	CheckOrigin func(r *http.Request) bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// NewClientID defaults to uuid.NewString.
	NewClientID func() string

	// IdleTimeout closes connections that send nothing (not even a pong) for
	// this long. PingInterval must be shorter.
	IdleTimeout  time.Duration
	PingInterval time.Duration
	WriteWait    time.Duration

	SendQueueSize   int
	MaxMessageBytes int64
	// MaxMessagesPerSecond limits inbound messages per connection. Zero
	// disables the limit.
	MaxMessagesPerSecond int

	// Clock drives the per-connection rate limiter.
	Clock ratelimit.Clock
}

// Server implements the relay's WebSocket signaling endpoint:
//
//   - GET /ws : room membership (create/join/leave) and offer/answer/candidate
//     relay between clients
type Server struct {
	controller *room.Controller
	relay      *relay.Relay
	hub        *Hub
	log        *slog.Logger
	metrics    *metrics.Metrics
	newID      func() string
	upgrader   websocket.Upgrader

	idleTimeout          time.Duration
	pingInterval         time.Duration
	writeWait            time.Duration
	sendQueueSize        int
	maxMessageBytes      int64
	maxMessagesPerSecond int
	clock                ratelimit.Clock

	wg sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	s := &Server{
		controller:           cfg.Controller,
		relay:                cfg.Relay,
		hub:                  cfg.Hub,
		log:                  cfg.Logger,
		metrics:              cfg.Metrics,
		newID:                cfg.NewClientID,
		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,
		writeWait:            cfg.WriteWait,
		sendQueueSize:        cfg.SendQueueSize,
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		clock:                cfg.Clock,
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.hub == nil {
		s.hub = NewHub(s.log)
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	if s.pingInterval <= 0 || s.pingInterval >= s.idleTimeout {
		s.pingInterval = min(defaultPingInterval, s.idleTimeout/2)
	}
	if s.writeWait <= 0 {
		s.writeWait = defaultWriteWait
	}
	if s.sendQueueSize <= 0 {
		s.sendQueueSize = defaultSendQueueSize
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = defaultMaxMessageBytes
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/ws" {
		s.handleWebSocket(w, r)
		return
	}
	http.NotFound(w, r)
}

// Announce broadcasts server-shutdown to every client.
func (s *Server) Announce(message string) int {
	return s.hub.Broadcast(msgServerShutdown, shutdownData{Message: message})
}

// Close closes every connection and waits for their disconnect cleanup to
// finish or ctx to expire.
func (s *Server) Close(ctx context.Context) error {
	s.hub.CloseAll(websocket.CloseGoingAway, "server shutdown")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	c := newClient(s.newID(), conn, s.sendQueueSize, s.writeWait, s.pingInterval, s.log, s.metrics)
	go c.writePump()
	s.hub.add(c)
	s.controller.Connect(c.id)
	s.log.Info("client connected", "client_id", c.id, "remote_addr", r.RemoteAddr)

	reason := "transport error"
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("signaling handler panic", "client_id", c.id, "panic", p, "stack", string(debug.Stack()))
			reason = "internal error"
			c.shutdown(websocket.CloseInternalServerErr, "internal error")
		}
		s.hub.remove(c)
		s.controller.Disconnect(c.id, reason)
		c.shutdown(0, "")
		<-c.pumpDone
		s.log.Info("client disconnected", "client_id", c.id, "reason", reason)
	}()

	if err := c.enqueue(mustEncode(msgConnected, nil, connectedData{UserID: c.id})); err != nil {
		return
	}

	reason = s.readLoop(c)
}

// readLoop processes one client's messages in order until the connection
// ends, and returns the disconnect reason.
func (s *Server) readLoop(c *client) string {
	limiter := ratelimit.NewLimiter(s.clock, s.maxMessagesPerSecond, s.maxMessagesPerSecond)

	c.conn.SetReadLimit(s.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return s.disconnectReason(c, err)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))

		// The rate limit is applied after reading so the message bytes are
		// consumed and the client reliably sees the close frame.
		if !limiter.Allow() {
			s.metrics.Inc(metrics.SignalingRateLimited)
			c.sendError("protocol-error", "rate_limited", "rate limit exceeded")
			c.shutdown(websocket.ClosePolicyViolation, "rate limit exceeded")
			return "rate limit exceeded"
		}
		if msgType != websocket.TextMessage {
			c.sendError("protocol-error", "bad_message", "expected text message")
			c.shutdown(websocket.CloseUnsupportedData, "expected text message")
			return "unsupported data"
		}

		s.dispatch(c, data)
	}
}

func (s *Server) dispatch(c *client, data []byte) {
	msg, err := parseInbound(data)
	if err != nil {
		c.sendError("protocol-error", errorCode(err), err.Error())
		return
	}

	switch msg.Type {
	case msgCreateRoom, msgJoinRoom:
		if !hasAckID(msg.ID) {
			c.sendError("protocol-error", "missing_ack_id", msg.Type+" requires an id to acknowledge")
			return
		}
		c.sendAck(msg.ID, s.roomAction(c.id, msg))
	case msgLeaveRoom:
		s.controller.LeaveRoom(c.id)
		if hasAckID(msg.ID) {
			c.sendAck(msg.ID, ackData{Success: true})
		}
	default:
		kind, ok := relay.ParseKind(msg.Type)
		if !ok {
			c.sendError("protocol-error", "bad_message", "unknown message type "+msg.Type)
			return
		}
		if _, err := s.relay.Handle(kind, c.id, msg.Data); err != nil {
			s.log.Debug("signal rejected", "client_id", c.id, "kind", msg.Type, "err", err)
			c.sendError(string(kind)+"-error", errorCode(err), err.Error())
		}
	}
}

func (s *Server) roomAction(clientID string, msg inbound) ackData {
	roomID, err := room.ParseID(msg.Data)
	if err != nil {
		return failedAck(err)
	}
	if msg.Type == msgCreateRoom {
		res, err := s.controller.CreateRoom(clientID, roomID)
		if err != nil {
			return failedAck(err)
		}
		return ackData{Success: true, RoomID: res.RoomID}
	}
	res, err := s.controller.JoinRoom(clientID, roomID)
	if err != nil {
		return failedAck(err)
	}
	return ackData{Success: true, RoomID: res.RoomID, ExistingUsers: res.ExistingUsers}
}

func (s *Server) disconnectReason(c *client, err error) string {
	if reason, ok := c.closedByServer(); ok {
		return reason
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			return closeErr.Text
		}
		return "client closed"
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return "message too large"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "idle timeout"
	}
	return "transport error"
}

func (c *client) sendAck(id []byte, data ackData) {
	msg, err := encode(msgAck, id, data)
	if err != nil {
		c.log.Error("encode ack failed", "client_id", c.id, "err", err)
		return
	}
	_ = c.enqueue(msg)
}

func (c *client) sendError(typ, code, message string) {
	_ = c.enqueue(mustEncode(msgError, nil, errorData{Type: typ, Code: code, Message: message}))
}

func mustEncode(eventType string, id []byte, data any) []byte {
	msg, err := encode(eventType, id, data)
	if err != nil {
		panic(err)
	}
	return msg
}
