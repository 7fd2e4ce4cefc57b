package signaling

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
)

var errSendQueueFull = errors.New("send queue full")

// client is one signaling connection. Only writePump writes data frames to
// conn; the read side belongs to the server's handler goroutine.
type client struct {
	id      string
	conn    *websocket.Conn
	log     *slog.Logger
	metrics *metrics.Metrics

	writeWait    time.Duration
	pingInterval time.Duration

	out  chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string

	pumpDone chan struct{}
}

func newClient(id string, conn *websocket.Conn, queueSize int, writeWait, pingInterval time.Duration, log *slog.Logger, m *metrics.Metrics) *client {
	return &client{
		id:           id,
		conn:         conn,
		log:          log,
		metrics:      m,
		writeWait:    writeWait,
		pingInterval: pingInterval,
		out:          make(chan []byte, queueSize),
		done:         make(chan struct{}),
		pumpDone:     make(chan struct{}),
	}
}

// enqueue hands msg to the write pump. A client whose queue is full is too
// slow to keep up and is disconnected.
func (c *client) enqueue(msg []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrClientGone, c.id)
	default:
	}
	select {
	case c.out <- msg:
		return nil
	default:
		c.metrics.Inc(metrics.SendQueueFull)
		c.log.Warn("signaling send queue full, closing", "client_id", c.id)
		c.shutdown(websocket.ClosePolicyViolation, "send queue full")
		return fmt.Errorf("%w: %s", errSendQueueFull, c.id)
	}
}

// shutdown stops the write pump. A non-zero code is sent as a close frame
// after the queued messages are flushed.
func (c *client) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// closedByServer returns the reason passed to shutdown, if any.
func (c *client) closedByServer() (string, bool) {
	select {
	case <-c.done:
		return c.closeReason, c.closeReason != ""
	default:
		return "", false
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.pumpDone)
	}()

	for {
		select {
		case msg := <-c.out:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.log.Debug("signaling write failed", "client_id", c.id, "err", err)
				c.shutdown(0, "")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.shutdown(0, "")
				return
			}
		case <-c.done:
			c.flush()
			if c.closeCode != 0 {
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason), time.Now().Add(c.writeWait))
			}
			return
		}
	}
}

// flush writes whatever is still queued, so an error event sent right before
// a close reaches the client.
func (c *client) flush() {
	for {
		select {
		case msg := <-c.out:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(messageType, data)
}
