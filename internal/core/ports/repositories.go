package ports

import (
	"context"

	"teamdesk/internal/core/domain"
)

// RoomRepository is the relay's local routing table.
type RoomRepository interface {
	// Join records the membership and reports whether it was new.
	Join(ctx context.Context, m domain.Membership) (bool, error)
	Leave(ctx context.Context, room domain.RoomID, endpoint domain.EndpointID) error
	// LeaveAll drops every membership of the endpoint and returns the rooms
	// it was removed from. Calling it twice is harmless.
	LeaveAll(ctx context.Context, endpoint domain.EndpointID) ([]domain.RoomID, error)
	Members(ctx context.Context, room domain.RoomID) ([]domain.Membership, error)
	Count(ctx context.Context, room domain.RoomID) (int, error)
	RoomCount(ctx context.Context) (int, error)
}

type RoomCounter interface {
	Count(ctx context.Context, room domain.RoomID) (int, error)
}

// RoomDirectory mirrors membership across relay instances.
type RoomDirectory interface {
	RoomCounter
	Register(ctx context.Context, room domain.RoomID, endpoint domain.EndpointID) error
	Unregister(ctx context.Context, room domain.RoomID, endpoint domain.EndpointID) error
}
