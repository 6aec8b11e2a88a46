package connection

import (
	"context"
	"sync"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"

	"go.uber.org/zap"
)

type ManagerOptions struct {
	Alias              string
	NegotiationTimeout time.Duration
}

// reconnectNotifier is implemented by signaling clients that can recover a
// dropped relay connection.
type reconnectNotifier interface {
	OnReconnect(fn func(domain.EndpointID)) func()
}

// Manager owns one Session per room on top of a shared signaling client.
type Manager struct {
	relay   ports.SignalingClient
	factory ports.PeerFactory
	opts    ManagerOptions
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[domain.RoomID]*Session

	stopReconnect func()
}

func NewManager(relay ports.SignalingClient, factory ports.PeerFactory, opts ManagerOptions, logger *zap.SugaredLogger) *Manager {
	m := &Manager{
		relay:         relay,
		factory:       factory,
		opts:          opts,
		logger:        logger,
		sessions:      make(map[domain.RoomID]*Session),
		stopReconnect: func() {},
	}
	if rn, ok := relay.(reconnectNotifier); ok {
		m.stopReconnect = rn.OnReconnect(m.relayReconnected)
	}
	return m
}

// Open mounts a session for room. A room that is already open returns its
// existing session unchanged.
func (m *Manager) Open(ctx context.Context, room domain.RoomID, role domain.Role, stream *ports.MediaStream) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[room]; ok {
		return s, nil
	}

	s := NewSession(m.relay, m.factory, Options{
		Room:               room,
		Role:               role,
		Alias:              m.opts.Alias,
		Stream:             stream,
		NegotiationTimeout: m.opts.NegotiationTimeout,
	}, m.logger)
	if err := s.Mount(ctx); err != nil {
		return nil, err
	}
	m.sessions[room] = s
	return s, nil
}

func (m *Manager) Get(room domain.RoomID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[room]
	return s, ok
}

func (m *Manager) Close(ctx context.Context, room domain.RoomID) error {
	m.mu.Lock()
	s, ok := m.sessions[room]
	delete(m.sessions, room)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Unmount(ctx)
}

// Switch closes from and opens to.
func (m *Manager) Switch(ctx context.Context, from, to domain.RoomID, role domain.Role, stream *ports.MediaStream) (*Session, error) {
	if from != to {
		if err := m.Close(ctx, from); err != nil {
			m.logger.Warnw("failed to leave previous room", "room_id", from, "error", err)
		}
	}
	return m.Open(ctx, to, role, stream)
}

func (m *Manager) CloseAll(ctx context.Context) {
	m.stopReconnect()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[domain.RoomID]*Session)
	m.mu.Unlock()

	for room, s := range sessions {
		if err := s.Unmount(ctx); err != nil {
			m.logger.Warnw("failed to unmount session", "room_id", room, "error", err)
		}
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// relayReconnected restarts negotiation on initiator sessions that lost
// their peer while the relay was away.
func (m *Manager) relayReconnected(id domain.EndpointID) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if s.Role() != domain.RoleInitiator || s.IsConnected() {
			continue
		}
		m.logger.Infow("relay reconnected, restarting negotiation", "room_id", s.Room(), "endpoint_id", id)
		if err := s.Restart(); err != nil {
			m.logger.Warnw("failed to restart session", "room_id", s.Room(), "error", err)
		}
	}
}
