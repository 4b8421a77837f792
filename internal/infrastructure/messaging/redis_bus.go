package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// DefaultEventChannel is the pub/sub channel shared by all instances.
const DefaultEventChannel = "gamification:events"

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisEventBus fans events out over Redis Pub/Sub so the server and the
// worker see each other's events. Events are always handled locally first;
// events received back from Redis with this instance's id are skipped.
type RedisEventBus struct {
	client     redis.UniversalClient
	local      *InMemoryEventBus
	channel    string
	instanceID string
	logger     *slog.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ shared.EventBus = (*RedisEventBus)(nil)

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Channel    string
	InstanceID string
	Logger     *slog.Logger
}

// NewRedisEventBus subscribes to the channel and starts the receive loop.
// Subscriptions confirmed before return, so no event published afterwards
// is missed.
func NewRedisEventBus(ctx context.Context, client redis.UniversalClient, local *InMemoryEventBus, config RedisEventBusConfig) (*RedisEventBus, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if local == nil {
		return nil, errors.New("local bus is required")
	}
	if config.Channel == "" {
		config.Channel = DefaultEventChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = ulid.Make().String()
	}

	pubsub := client.Subscribe(ctx, config.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", config.Channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	bus := &RedisEventBus{
		client:     client,
		local:      local,
		channel:    config.Channel,
		instanceID: config.InstanceID,
		logger:     logger.OrDefault(config.Logger).With(logger.Component("redis_event_bus")),
		pubsub:     pubsub,
		cancel:     cancel,
	}

	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		bus.receiveLoop(loopCtx, pubsub.Channel())
	}()
	return bus, nil
}

// Subscribe registers a handler on the local bus.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events on the local bus.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish handles the event locally and forwards it to Redis. A Redis
// failure is logged; local delivery still happens.
func (b *RedisEventBus) Publish(ctx context.Context, event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(eventEnvelope{
		InstanceID:  b.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Error("failed to publish to redis",
			slog.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
	return b.local.Publish(ctx, event)
}

func (b *RedisEventBus) receiveLoop(ctx context.Context, messages <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.handleMessage(ctx, msg.Payload)
		}
	}
}

func (b *RedisEventBus) handleMessage(ctx context.Context, payload string) {
	var env eventEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error("failed to unmarshal event", logger.Err(err))
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}

	event := &remoteEvent{
		eventType:   env.EventType,
		aggregateID: env.AggregateID,
		occurredAt:  env.OccurredAt,
		payload:     env.Payload,
	}
	if err := b.local.Publish(ctx, event); err != nil {
		b.logger.Error("failed to process remote event",
			slog.String("event_type", string(env.EventType)),
			logger.Err(err),
		)
	}
}

// Close stops the receive loop, unsubscribes and closes the local bus. The
// Redis client itself stays open.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()

	return errors.Join(err, b.local.Close())
}

// InstanceID returns the id stamped on outgoing events.
func (b *RedisEventBus) InstanceID() string {
	return b.instanceID
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

type eventEnvelope struct {
	InstanceID  string           `json:"instance_id"`
	EventType   shared.EventType `json:"event_type"`
	AggregateID string           `json:"aggregate_id"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Payload     map[string]any   `json:"payload"`
}

// remoteEvent is an event decoded from another instance. Numbers in its
// payload arrive as float64.
type remoteEvent struct {
	eventType   shared.EventType
	aggregateID string
	occurredAt  time.Time
	payload     map[string]any
}

func (e *remoteEvent) EventType() shared.EventType { return e.eventType }
func (e *remoteEvent) AggregateID() string         { return e.aggregateID }
func (e *remoteEvent) OccurredAt() time.Time       { return e.occurredAt }
func (e *remoteEvent) Payload() map[string]any     { return e.payload }
