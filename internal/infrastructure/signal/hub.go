package signal

import (
	"encoding/json"
	"sync"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"

	"go.uber.org/zap"
)

// Hub tracks the endpoints connected to this relay instance.
type Hub struct {
	connections map[domain.EndpointID]*connection
	mu          sync.RWMutex
	logger      *zap.SugaredLogger
}

var _ ports.Deliverer = (*Hub)(nil)

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		connections: make(map[domain.EndpointID]*connection),
		logger:      logger,
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	h.connections[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(id domain.EndpointID) {
	h.mu.Lock()
	delete(h.connections, id)
	h.mu.Unlock()
}

// Deliver queues an event for a local endpoint. It reports false when the
// endpoint is not connected here or its send buffer is full.
func (h *Hub) Deliver(endpoint domain.EndpointID, event string, data []byte) bool {
	h.mu.RLock()
	c, ok := h.connections[endpoint]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if !c.enqueue(encodeFrame(event, data)) {
		h.logger.Warnw("dropping slow endpoint", "endpoint_id", endpoint, "event", event)
		c.kick()
		return false
	}
	return true
}

func (h *Hub) IsConnected(endpoint domain.EndpointID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connections[endpoint]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// CloseAll asks every endpoint to go away. Their read loops run the
// normal disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

// encodeFrame splices data into the frame without re-encoding it, so
// forwarded envelopes reach the peer byte for byte.
func encodeFrame(event string, data []byte) []byte {
	name, _ := json.Marshal(event)
	if len(data) == 0 {
		data = []byte("null")
	}
	buf := make([]byte, 0, len(name)+len(data)+20)
	buf = append(buf, `{"event":`...)
	buf = append(buf, name...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}
