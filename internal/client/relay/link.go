package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// link is one websocket connection to the relay. The Client replaces it
// on reconnect.
type link struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newLink(conn *websocket.Conn, buffer int) *link {
	return &link{conn: conn, send: make(chan []byte, buffer)}
}

func (l *link) enqueue(msg []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	select {
	case l.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close stops the write pump, which closes the socket after a close frame.
func (l *link) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		l.closed = true
		close(l.send)
	}
}

func (l *link) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = l.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = l.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
