package services

import (
	"context"
	"encoding/json"
	"fmt"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"

	"go.uber.org/zap"
)

// relayService routes envelopes between endpoints by room. It never looks
// past an envelope's target.
type relayService struct {
	rooms     ports.RoomRepository
	delivery  ports.Deliverer
	directory ports.RoomDirectory
	publisher ports.BroadcastPublisher
	metrics   ports.RelayMetrics
	logger    *zap.SugaredLogger
}

type RelayOption func(*relayService)

// WithDirectory mirrors memberships into a cluster-wide directory.
func WithDirectory(d ports.RoomDirectory) RelayOption {
	return func(s *relayService) { s.directory = d }
}

// WithPublisher replays every room fan-out on other relay instances.
func WithPublisher(p ports.BroadcastPublisher) RelayOption {
	return func(s *relayService) { s.publisher = p }
}

func WithMetrics(m ports.RelayMetrics) RelayOption {
	return func(s *relayService) { s.metrics = m }
}

func NewRelayService(rooms ports.RoomRepository, delivery ports.Deliverer, logger *zap.SugaredLogger, opts ...RelayOption) ports.RelayService {
	s := &relayService{
		rooms:    rooms,
		delivery: delivery,
		metrics:  noopMetrics{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *relayService) Connect(ctx context.Context, endpoint domain.EndpointID) error {
	if _, err := s.rooms.Join(ctx, domain.Membership{Room: endpoint.Room(), Endpoint: endpoint}); err != nil {
		return fmt.Errorf("register endpoint room: %w", err)
	}
	s.metrics.ConnectionOpened()
	s.updateRoomGauge(ctx)
	return nil
}

func (s *relayService) Join(ctx context.Context, endpoint domain.EndpointID, room domain.RoomID, alias string) error {
	m := domain.Membership{Room: room, Endpoint: endpoint, Alias: alias}
	added, err := s.rooms.Join(ctx, m)
	if err != nil {
		return fmt.Errorf("join room %s: %w", room, err)
	}
	if !added {
		s.logger.Debugw("duplicate join ignored", "room_id", room, "endpoint_id", endpoint)
		return nil
	}

	s.logger.Infow("endpoint joined room", "room_id", room, "endpoint_id", endpoint, "alias", alias)
	s.updateRoomGauge(ctx)

	if s.directory != nil {
		if err := s.directory.Register(ctx, room, endpoint); err != nil {
			s.logger.Warnw("failed to register membership in directory", "room_id", room, "endpoint_id", endpoint, "error", err)
		}
	}

	data, err := json.Marshal(domain.UserConnectedNotice{ID: m.DisplayName(), RoomID: room})
	if err != nil {
		return fmt.Errorf("encode user-connected: %w", err)
	}
	s.fanout(ctx, domain.EventUserConnected, room, endpoint, data)
	return nil
}

func (s *relayService) Leave(ctx context.Context, endpoint domain.EndpointID, room domain.RoomID) error {
	if room == endpoint.Room() {
		return nil
	}
	if err := s.rooms.Leave(ctx, room, endpoint); err != nil {
		return fmt.Errorf("leave room %s: %w", room, err)
	}
	s.updateRoomGauge(ctx)

	if s.directory != nil {
		if err := s.directory.Unregister(ctx, room, endpoint); err != nil {
			s.logger.Warnw("failed to unregister membership from directory", "room_id", room, "endpoint_id", endpoint, "error", err)
		}
	}
	s.logger.Infow("endpoint left room", "room_id", room, "endpoint_id", endpoint)
	return nil
}

// Forward delivers envelope verbatim to every member of its target except
// the sender and returns the local recipient count. A target with no other
// members is not an error.
func (s *relayService) Forward(ctx context.Context, kind domain.SignalKind, from domain.EndpointID, envelope json.RawMessage) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownSignal, kind)
	}

	var header struct {
		Target domain.RoomID `json:"target"`
	}
	if err := json.Unmarshal(envelope, &header); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
	}
	if header.Target == "" {
		return 0, fmt.Errorf("%w: missing target", domain.ErrInvalidEnvelope)
	}

	n := s.fanout(ctx, string(kind), header.Target, from, envelope)
	if n == 0 {
		s.metrics.RoutingMiss(kind)
		s.logger.Debugw("no local recipients for envelope", "kind", kind, "target", header.Target, "caller", from)
	}
	s.metrics.EnvelopeForwarded(kind, n)
	return n, nil
}

func (s *relayService) Disconnect(ctx context.Context, endpoint domain.EndpointID) error {
	left, err := s.rooms.LeaveAll(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("remove endpoint %s: %w", endpoint, err)
	}
	if len(left) == 0 {
		return nil
	}

	if s.directory != nil {
		for _, room := range left {
			if room == endpoint.Room() {
				continue
			}
			if err := s.directory.Unregister(ctx, room, endpoint); err != nil {
				s.logger.Warnw("failed to unregister membership from directory", "room_id", room, "endpoint_id", endpoint, "error", err)
			}
		}
	}

	s.metrics.ConnectionClosed()
	s.updateRoomGauge(ctx)
	s.logger.Infow("endpoint disconnected", "endpoint_id", endpoint, "rooms", len(left))
	return nil
}

// HandleBroadcast replays a fan-out published by another relay instance.
func (s *relayService) HandleBroadcast(ctx context.Context, b *domain.Broadcast) error {
	n := s.deliverLocal(ctx, b.Event, b.Room, b.Exclude, b.Data)
	s.logger.Debugw("replayed remote broadcast", "event", b.Event, "room_id", b.Room, "recipients", n)
	return nil
}

func (s *relayService) fanout(ctx context.Context, event string, room domain.RoomID, exclude domain.EndpointID, data []byte) int {
	n := s.deliverLocal(ctx, event, room, exclude, data)

	if s.publisher != nil {
		b := &domain.Broadcast{Event: event, Room: room, Exclude: exclude, Data: data}
		if err := s.publisher.Publish(ctx, b); err != nil {
			s.logger.Warnw("failed to publish broadcast", "event", event, "room_id", room, "error", err)
		}
	}
	return n
}

func (s *relayService) deliverLocal(ctx context.Context, event string, room domain.RoomID, exclude domain.EndpointID, data []byte) int {
	members, err := s.rooms.Members(ctx, room)
	if err != nil {
		s.logger.Errorw("failed to list room members", "room_id", room, "error", err)
		return 0
	}

	delivered := 0
	for _, m := range members {
		if m.Endpoint == exclude {
			continue
		}
		if s.delivery.Deliver(m.Endpoint, event, data) {
			delivered++
		}
	}
	return delivered
}

func (s *relayService) updateRoomGauge(ctx context.Context) {
	if n, err := s.rooms.RoomCount(ctx); err == nil {
		s.metrics.SetActiveRooms(n)
	}
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()                        {}
func (noopMetrics) ConnectionClosed()                        {}
func (noopMetrics) EnvelopeForwarded(domain.SignalKind, int) {}
func (noopMetrics) RoutingMiss(domain.SignalKind)            {}
func (noopMetrics) FrameRejected(string)                     {}
func (noopMetrics) SetActiveRooms(int)                       {}
