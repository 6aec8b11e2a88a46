// Package connection manages the WebRTC peer behind a remote desktop
// session: it reacts to relayed signals, replaces peers on renegotiation
// and exposes a small state machine to the rest of the client.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"

	"go.uber.org/zap"
)

type Options struct {
	Room  domain.RoomID
	Role  domain.Role
	Alias string
	// Stream is attached to every peer the session creates.
	Stream *ports.MediaStream
	// NegotiationTimeout of zero disables the timer.
	NegotiationTimeout time.Duration
}

type Session struct {
	opts    Options
	relay   ports.SignalingClient
	factory ports.PeerFactory
	logger  *zap.SugaredLogger

	// opMu serializes peer lifecycle operations. Peer events never take it.
	opMu sync.Mutex

	mu         sync.Mutex
	state      domain.ConnectionState
	connected  bool
	peer       ports.Peer
	generation uint64
	mounted    bool
	unsubs     []func()
	timer      *time.Timer

	listenersMu  sync.RWMutex
	listeners    map[uint64]Listener
	nextListener uint64
}

func NewSession(relay ports.SignalingClient, factory ports.PeerFactory, opts Options, logger *zap.SugaredLogger) *Session {
	return &Session{
		opts:      opts,
		relay:     relay,
		factory:   factory,
		logger:    logger.With("room_id", opts.Room, "role", opts.Role),
		state:     domain.StateIdle,
		listeners: make(map[uint64]Listener),
	}
}

func (s *Session) Room() domain.RoomID { return s.opts.Room }

func (s *Session) Role() domain.Role { return s.opts.Role }

func (s *Session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// AddListener registers l and returns a func that removes it.
func (s *Session) AddListener(l Listener) func() {
	s.listenersMu.Lock()
	s.nextListener++
	key := s.nextListener
	s.listeners[key] = l
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, key)
		s.listenersMu.Unlock()
	}
}

// Mount subscribes to relayed signals, joins the room and, for the
// initiator, starts negotiating. Subscriptions are in place before the
// join so an early offer is not lost.
func (s *Session) Mount(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	unsubs := []func(){
		s.relay.Subscribe(domain.SignalOffer, s.handleOffer),
		s.relay.Subscribe(domain.SignalAnswer, s.handleAnswer),
		s.relay.Subscribe(domain.SignalICECandidate, s.handleCandidate),
	}
	if err := s.relay.JoinRoom(ctx, s.opts.Room, s.opts.Alias); err != nil {
		for _, unsub := range unsubs {
			unsub()
		}
		return fmt.Errorf("join room %s: %w", s.opts.Room, err)
	}

	s.mu.Lock()
	s.mounted = true
	s.unsubs = unsubs
	s.mu.Unlock()
	s.logger.Infow("session mounted")

	if s.opts.Role == domain.RoleInitiator {
		return s.replacePeer(true)
	}
	s.setState(domain.StateIdle)
	return nil
}

// Unmount tears the session down synchronously. Events still in flight
// from the old peer are discarded.
func (s *Session) Unmount(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return nil
	}
	s.mounted = false
	unsubs := s.unsubs
	s.unsubs = nil
	s.generation++
	old := s.peer
	s.peer = nil
	s.connected = false
	s.stopTimerLocked()
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if old != nil {
		old.Destroy()
	}
	s.setState(domain.StateIdle)
	s.logger.Infow("session unmounted")

	if err := s.relay.LeaveRoom(ctx, s.opts.Room); err != nil {
		return fmt.Errorf("leave room %s: %w", s.opts.Room, err)
	}
	return nil
}

// Restart replaces the initiator's peer and offers again. Receivers wait
// for the next offer instead, so Restart is a no-op for them.
func (s *Session) Restart() error {
	if s.opts.Role != domain.RoleInitiator {
		return nil
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	mounted := s.mounted
	s.mu.Unlock()
	if !mounted {
		return nil
	}
	return s.replacePeer(true)
}

// SendData JSON-encodes payload and sends it over the data channel. It
// does nothing unless the session is connected; in that case it logs at
// debug and returns ErrNotConnected, which callers may ignore.
func (s *Session) SendData(payload interface{}) error {
	s.mu.Lock()
	peer, state := s.peer, s.state
	s.mu.Unlock()

	if state != domain.StateConnected || peer == nil || peer.Destroyed() {
		s.logger.Debugw("dropping data, session not connected", "state", state.String())
		return domain.ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	if err := peer.Send(raw); err != nil {
		s.logger.Warnw("failed to send data", "error", err)
		return err
	}
	return nil
}

// replacePeer destroys the current peer and builds a new one. Callers hold
// opMu.
func (s *Session) replacePeer(initiator bool) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	old := s.peer
	s.peer = nil
	s.connected = false
	s.mu.Unlock()

	if old != nil {
		old.Destroy()
	}

	peer, err := s.factory.NewPeer(ports.PeerOptions{
		Initiator: initiator,
		Stream:    s.opts.Stream,
	}, s.eventsFor(gen))
	if err != nil {
		s.setState(domain.StateFailed)
		return fmt.Errorf("create peer: %w", err)
	}

	s.mu.Lock()
	if s.generation != gen || !s.mounted {
		s.mu.Unlock()
		peer.Destroy()
		return nil
	}
	s.peer = peer
	changed := s.state != domain.StateNegotiating
	s.state = domain.StateNegotiating
	s.armTimerLocked()
	s.mu.Unlock()

	s.logger.Debugw("peer created", "initiator", initiator, "generation", gen)
	if changed {
		s.notifyState(domain.StateNegotiating)
	}
	return nil
}

func (s *Session) livePeer() ports.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil || s.peer.Destroyed() {
		return nil
	}
	return s.peer
}

func (s *Session) accepts(env domain.Envelope) bool {
	return env.Target == s.opts.Room
}

func (s *Session) handleOffer(env domain.Envelope) {
	if !s.accepts(env) {
		return
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	mounted := s.mounted
	s.mu.Unlock()
	if !mounted {
		return
	}

	if s.opts.Role == domain.RoleReceiver {
		s.logger.Infow("offer received, resetting peer", "caller", env.Caller)
		if err := s.replacePeer(false); err != nil {
			s.logger.Errorw("failed to create peer for offer", "error", err)
			return
		}
	}
	s.signalPeer(env, "offer")
}

func (s *Session) handleAnswer(env domain.Envelope) {
	if !s.accepts(env) {
		return
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.signalPeer(env, "answer")
}

func (s *Session) handleCandidate(env domain.Envelope) {
	if !s.accepts(env) {
		return
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.signalPeer(env, "candidate")
}

func (s *Session) signalPeer(env domain.Envelope, what string) {
	peer := s.livePeer()
	if peer == nil {
		s.logger.Debugw("no live peer, dropping signal", "signal", what, "caller", env.Caller)
		return
	}
	if err := peer.Signal(env.Signal); err != nil {
		if domain.IsNegotiationRace(err) {
			s.logger.Debugw("ignoring renegotiation race", "signal", what, "error", err)
			return
		}
		s.logger.Warnw("failed to apply signal", "signal", what, "error", err)
	}
}

// eventsFor binds peer callbacks to generation gen. Once the session moves
// past gen they are ignored.
func (s *Session) eventsFor(gen uint64) ports.PeerEvents {
	return ports.PeerEvents{
		OnSignal: func(payload domain.SignalPayload) {
			if !s.current(gen) {
				return
			}
			kind, err := payload.Kind()
			if err != nil {
				s.logger.Warnw("peer emitted unknown signal", "error", err)
				return
			}
			env := domain.Envelope{Target: s.opts.Room, Caller: s.relay.ID(), Signal: payload}
			if err := s.relay.Send(kind, env); err != nil {
				s.logger.Warnw("failed to relay signal", "kind", kind, "error", err)
			}
		},
		OnConnect: func() {
			s.mu.Lock()
			if s.generation != gen {
				s.mu.Unlock()
				return
			}
			s.connected = true
			s.mu.Unlock()
			s.logger.Infow("peer connected")
			s.setState(domain.StateConnected)
		},
		OnStream: func(stream ports.RemoteStream) {
			if !s.current(gen) {
				return
			}
			for _, l := range s.snapshotListeners() {
				l.OnStream(stream)
			}
		},
		OnData: func(data []byte) {
			if !s.current(gen) {
				return
			}
			if !json.Valid(data) {
				s.logger.Warnw("discarding malformed peer data", "bytes", len(data))
				return
			}
			raw := make(json.RawMessage, len(data))
			copy(raw, data)
			for _, l := range s.snapshotListeners() {
				l.OnData(raw)
			}
		},
		OnError: func(err error) {
			if !s.current(gen) {
				return
			}
			if domain.IsNegotiationRace(err) {
				s.logger.Debugw("ignoring renegotiation race", "error", err)
				return
			}
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			s.logger.Warnw("peer error", "error", err)
			s.setState(domain.StateFailed)
		},
		OnClose: func() {
			s.mu.Lock()
			if s.generation != gen {
				s.mu.Unlock()
				return
			}
			s.connected = false
			s.peer = nil
			s.mu.Unlock()
			s.logger.Infow("peer closed")
			s.setState(domain.StateClosed)
			s.setState(domain.StateIdle)
		},
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

// setState records the transition, manages the negotiation timer and
// notifies listeners outside the lock.
func (s *Session) setState(state domain.ConnectionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	if state == domain.StateNegotiating {
		s.armTimerLocked()
	} else {
		s.stopTimerLocked()
	}
	s.mu.Unlock()
	s.notifyState(state)
}

func (s *Session) notifyState(state domain.ConnectionState) {
	for _, l := range s.snapshotListeners() {
		l.OnStateChange(state)
	}
}

func (s *Session) armTimerLocked() {
	s.stopTimerLocked()
	if s.opts.NegotiationTimeout <= 0 {
		return
	}
	gen := s.generation
	s.timer = time.AfterFunc(s.opts.NegotiationTimeout, func() {
		s.negotiationTimedOut(gen)
	})
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) negotiationTimedOut(gen uint64) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	stale := s.generation != gen || s.state != domain.StateNegotiating || !s.mounted
	s.mu.Unlock()
	if stale {
		return
	}

	s.logger.Warnw("negotiation timed out", "timeout", s.opts.NegotiationTimeout)
	s.setState(domain.StateFailed)

	if s.opts.Role == domain.RoleInitiator {
		if err := s.replacePeer(true); err != nil {
			s.logger.Errorw("failed to restart negotiation", "error", err)
		}
	}
}

func (s *Session) snapshotListeners() []Listener {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}
