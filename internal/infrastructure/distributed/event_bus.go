package distributed

import (
	"context"
	"fmt"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Event is the on-wire form of a room fan-out shared between relay
// instances.
type Event struct {
	InstanceID string `msgpack:"instance_id"`
	Timestamp  int64  `msgpack:"ts"`
	Event      string `msgpack:"event"`
	Room       string `msgpack:"room"`
	Exclude    string `msgpack:"exclude,omitempty"`
	Data       []byte `msgpack:"data"`
}

// EventBus replays room fan-outs across relay instances over Redis pub/sub.
type EventBus struct {
	client     redis.UniversalClient
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

var _ ports.BroadcastPublisher = (*EventBus)(nil)

func NewEventBus(client redis.UniversalClient, instanceID, channel string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

func (eb *EventBus) Publish(ctx context.Context, b *domain.Broadcast) error {
	payload, err := eb.encode(b)
	if err != nil {
		return err
	}
	if err := eb.client.Publish(ctx, eb.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe blocks, handing every foreign event to handler, until ctx is
// done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(context.Context, *domain.Broadcast) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}
	eb.logger.Infow("subscribed to relay event bus", "channel", eb.channel, "instance_id", eb.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b, ok := eb.decode([]byte(msg.Payload))
			if !ok {
				continue
			}
			if err := handler(ctx, b); err != nil {
				eb.logger.Warnw("error handling event", "event", b.Event, "room_id", b.Room, "error", err)
			}
		}
	}
}

func (eb *EventBus) encode(b *domain.Broadcast) ([]byte, error) {
	payload, err := msgpack.Marshal(&Event{
		InstanceID: eb.instanceID,
		Timestamp:  time.Now().UnixMilli(),
		Event:      b.Event,
		Room:       string(b.Room),
		Exclude:    string(b.Exclude),
		Data:       b.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return payload, nil
}

// decode drops malformed payloads and events this instance published.
func (eb *EventBus) decode(payload []byte) (*domain.Broadcast, bool) {
	var ev Event
	if err := msgpack.Unmarshal(payload, &ev); err != nil {
		eb.logger.Warnw("failed to unmarshal event", "error", err)
		return nil, false
	}
	if ev.InstanceID == eb.instanceID {
		return nil, false
	}
	return &domain.Broadcast{
		Event:   ev.Event,
		Room:    domain.RoomID(ev.Room),
		Exclude: domain.EndpointID(ev.Exclude),
		Data:    ev.Data,
	}, true
}
