package ports

import (
	"context"
	"encoding/json"

	"teamdesk/internal/core/domain"
)

type RelayService interface {
	// Connect registers the endpoint in its own singleton room.
	Connect(ctx context.Context, endpoint domain.EndpointID) error
	Join(ctx context.Context, endpoint domain.EndpointID, room domain.RoomID, alias string) error
	Leave(ctx context.Context, endpoint domain.EndpointID, room domain.RoomID) error
	Forward(ctx context.Context, kind domain.SignalKind, from domain.EndpointID, envelope json.RawMessage) (int, error)
	Disconnect(ctx context.Context, endpoint domain.EndpointID) error
	HandleBroadcast(ctx context.Context, b *domain.Broadcast) error
}

// Deliverer pushes an event to a locally connected endpoint.
type Deliverer interface {
	Deliver(endpoint domain.EndpointID, event string, data []byte) bool
}

type BroadcastPublisher interface {
	Publish(ctx context.Context, b *domain.Broadcast) error
}

type RelayMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	EnvelopeForwarded(kind domain.SignalKind, recipients int)
	RoutingMiss(kind domain.SignalKind)
	FrameRejected(reason string)
	SetActiveRooms(n int)
}
