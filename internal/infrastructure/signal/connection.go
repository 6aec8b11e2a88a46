package signal

import (
	"sync"
	"time"

	"teamdesk/internal/core/domain"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type connection struct {
	id      domain.EndpointID
	conn    *websocket.Conn
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newConnection(id domain.EndpointID, conn *websocket.Conn, buffer int, limiter *rate.Limiter) *connection {
	return &connection{
		id:      id,
		conn:    conn,
		limiter: limiter,
		send:    make(chan []byte, buffer),
	}
}

func (c *connection) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close stops the write pump after it flushes what is already queued.
func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// kick drops the underlying socket so the read loop exits.
func (c *connection) kick() {
	_ = c.conn.Close()
}

func (c *connection) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *connection) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
