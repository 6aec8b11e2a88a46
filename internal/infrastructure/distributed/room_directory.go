package distributed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"
	"teamdesk/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "teamdesk:"

// RoomDirectory mirrors room membership into Redis sets so every relay
// instance can answer room queries. Entries expire unless refreshed.
type RoomDirectory struct {
	client     redis.UniversalClient
	instanceID string
	ttl        time.Duration
	logger     *zap.SugaredLogger
}

var _ ports.RoomDirectory = (*RoomDirectory)(nil)

func NewRoomDirectory(client redis.UniversalClient, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *RoomDirectory {
	return &RoomDirectory{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
	}
}

func (d *RoomDirectory) Register(ctx context.Context, room domain.RoomID, endpoint domain.EndpointID) error {
	ctx, span := tracing.TraceRedisOperation(ctx, "register")
	defer span.End()

	roomKey := d.roomKey(room)
	instanceKey := d.instanceKey(d.instanceID)

	_, err := d.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, roomKey, string(endpoint))
		p.Expire(ctx, roomKey, d.ttl)
		p.SAdd(ctx, instanceKey, membershipMember(room, endpoint))
		p.Expire(ctx, instanceKey, d.ttl)
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to register membership: %w", err)
	}
	return nil
}

func (d *RoomDirectory) Unregister(ctx context.Context, room domain.RoomID, endpoint domain.EndpointID) error {
	ctx, span := tracing.TraceRedisOperation(ctx, "unregister")
	defer span.End()

	_, err := d.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, d.roomKey(room), string(endpoint))
		p.SRem(ctx, d.instanceKey(d.instanceID), membershipMember(room, endpoint))
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to unregister membership: %w", err)
	}
	return nil
}

func (d *RoomDirectory) Count(ctx context.Context, room domain.RoomID) (int, error) {
	n, err := d.client.SCard(ctx, d.roomKey(room)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count room members: %w", err)
	}
	return int(n), nil
}

// Refresh extends the TTL of every membership owned by this instance.
func (d *RoomDirectory) Refresh(ctx context.Context) error {
	members, err := d.client.SMembers(ctx, d.instanceKey(d.instanceID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list instance memberships: %w", err)
	}

	_, err = d.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Expire(ctx, d.instanceKey(d.instanceID), d.ttl)
		for _, m := range members {
			if room, _, ok := parseMembershipMember(m); ok {
				p.Expire(ctx, d.roomKey(room), d.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to refresh memberships: %w", err)
	}
	return nil
}

// CleanupInstance removes every membership registered by this instance,
// for use on shutdown.
func (d *RoomDirectory) CleanupInstance(ctx context.Context) error {
	instanceKey := d.instanceKey(d.instanceID)
	members, err := d.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list instance memberships: %w", err)
	}

	_, err = d.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, m := range members {
			if room, endpoint, ok := parseMembershipMember(m); ok {
				p.SRem(ctx, d.roomKey(room), string(endpoint))
			}
		}
		p.Del(ctx, instanceKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cleanup instance memberships: %w", err)
	}

	d.logger.Infow("cleaned up instance memberships", "instance_id", d.instanceID, "count", len(members))
	return nil
}

func (d *RoomDirectory) roomKey(room domain.RoomID) string {
	return keyPrefix + "room:" + string(room) + ":members"
}

func (d *RoomDirectory) instanceKey(instanceID string) string {
	return keyPrefix + "instance:" + instanceID + ":memberships"
}

// Room IDs never contain '|', see validation.RoomIDRegex.
func membershipMember(room domain.RoomID, endpoint domain.EndpointID) string {
	return string(room) + "|" + string(endpoint)
}

func parseMembershipMember(s string) (domain.RoomID, domain.EndpointID, bool) {
	room, endpoint, ok := strings.Cut(s, "|")
	if !ok || room == "" || endpoint == "" {
		return "", "", false
	}
	return domain.RoomID(room), domain.EndpointID(endpoint), true
}
