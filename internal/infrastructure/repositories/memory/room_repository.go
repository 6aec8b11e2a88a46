package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"
)

// MemoryRoomRepository keeps the room -> members relation plus the reverse
// index needed to drop an endpoint from every room at once.
type MemoryRoomRepository struct {
	rooms     map[domain.RoomID]map[domain.EndpointID]domain.Membership
	endpoints map[domain.EndpointID]map[domain.RoomID]struct{}
	mu        sync.RWMutex
	now       func() time.Time
}

func NewMemoryRoomRepository() *MemoryRoomRepository {
	return &MemoryRoomRepository{
		rooms:     make(map[domain.RoomID]map[domain.EndpointID]domain.Membership),
		endpoints: make(map[domain.EndpointID]map[domain.RoomID]struct{}),
		now:       time.Now,
	}
}

var _ ports.RoomRepository = (*MemoryRoomRepository)(nil)

func (r *MemoryRoomRepository) Join(ctx context.Context, m domain.Membership) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[m.Room]
	if !ok {
		members = make(map[domain.EndpointID]domain.Membership)
		r.rooms[m.Room] = members
	}
	if existing, ok := members[m.Endpoint]; ok {
		if m.Alias != "" && m.Alias != existing.Alias {
			existing.Alias = m.Alias
			members[m.Endpoint] = existing
		}
		return false, nil
	}

	if m.JoinedAt.IsZero() {
		m.JoinedAt = r.now()
	}
	members[m.Endpoint] = m

	rooms, ok := r.endpoints[m.Endpoint]
	if !ok {
		rooms = make(map[domain.RoomID]struct{})
		r.endpoints[m.Endpoint] = rooms
	}
	rooms[m.Room] = struct{}{}
	return true, nil
}

func (r *MemoryRoomRepository) Leave(ctx context.Context, room domain.RoomID, endpoint domain.EndpointID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(room, endpoint)
	return nil
}

func (r *MemoryRoomRepository) LeaveAll(ctx context.Context, endpoint domain.EndpointID) ([]domain.RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.endpoints[endpoint]
	left := make([]domain.RoomID, 0, len(rooms))
	for room := range rooms {
		left = append(left, room)
	}
	for _, room := range left {
		r.removeLocked(room, endpoint)
	}

	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left, nil
}

// Members returns the room's memberships in join order.
func (r *MemoryRoomRepository) Members(ctx context.Context, room domain.RoomID) ([]domain.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	result := make([]domain.Membership, 0, len(members))
	for _, m := range members {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].Endpoint < result[j].Endpoint
		}
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result, nil
}

func (r *MemoryRoomRepository) Count(ctx context.Context, room domain.RoomID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room]), nil
}

func (r *MemoryRoomRepository) RoomCount(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), nil
}

func (r *MemoryRoomRepository) removeLocked(room domain.RoomID, endpoint domain.EndpointID) {
	if members, ok := r.rooms[room]; ok {
		delete(members, endpoint)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.endpoints[endpoint]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.endpoints, endpoint)
		}
	}
}
