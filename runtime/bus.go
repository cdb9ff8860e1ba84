package runtime

import (
	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"chat-engine/observability"
	"chat-engine/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type BusConfig struct {
	Shards             int
	ShardBuffer        int
	SubscriptionBuffer int
	SinkTimeout        time.Duration
	LatencyThreshold   time.Duration
}

// Bus is the in-process publish/subscribe hub keyed by topic.
//
// Events are routed to a shard chosen from the hash of their topic and each
// shard is drained by exactly one fan-out worker: the events of a topic keep
// their publish order while different topics are delivered in parallel.
// Delivery is at-most-once. A slow subscriber loses events instead of
// slowing down the publisher or the other subscribers.
type Bus struct {
	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	log      *slog.Logger
	registry *Registry
	metrics  *observability.Metrics
	shards   []chan event.DomainEvent
	config   BusConfig
}

func NewBus(log *slog.Logger, registry *Registry, metrics *observability.Metrics, config BusConfig) *Bus {
	config.Shards = max(1, config.Shards)
	shards := make([]chan event.DomainEvent, config.Shards)
	for i := range shards {
		shards[i] = make(chan event.DomainEvent, config.ShardBuffer)
	}
	return &Bus{
		done:     make(chan struct{}),
		log:      log,
		registry: registry,
		metrics:  metrics,
		shards:   shards,
		config:   config,
	}
}

// Subscribe registers handler for every event of topic published from now on.
func (b *Bus) Subscribe(topic domain.Topic, subscriberID string, handler contract.Handler) (contract.Subscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errors.ErrBusClosed
	}

	s := newSubscription(b.log, topic, subscriberID, handler, b.config.SubscriptionBuffer, b.unsubscribe)
	b.registry.add(s)
	b.metrics.AddSubscriptions(1)
	go s.run()
	b.log.Debug("Subscribed", "topic", topic, "subscriber_id", subscriberID, "subscription_id", s.id)
	return s, nil
}

func (b *Bus) unsubscribe(s *subscription) {
	if b.registry.remove(s) {
		b.metrics.AddSubscriptions(-1)
		b.log.Debug("Unsubscribed", "topic", s.topic, "subscriber_id", s.subscriberID, "subscription_id", s.id)
	}
}

// Publish blocks until the event is queued on its shard, ctx is done or the
// bus is closed.
func (b *Bus) Publish(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-b.done:
		return errors.ErrBusClosed
	default:
	}
	shard := b.shards[xxhash.Sum64String(string(e.Topic()))%uint64(len(b.shards))]
	select {
	case shard <- e:
		return nil
	case <-b.done:
		return errors.ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Workers returns one fan-out worker per shard, to be run by a supervisor.
func (b *Bus) Workers() []contract.Worker {
	var handlers []event.Handler
	if b.config.LatencyThreshold > 0 {
		handlers = append(handlers, event.NewLatencyHandler(b.log, b.config.LatencyThreshold))
	}
	res := make([]contract.Worker, 0, len(b.shards))
	for i, shard := range b.shards {
		fanout := workers.NewEventFanout(b.log, b.registry, shard, b.metrics, b.config.SinkTimeout).
			WithHandlers(handlers...)
		res = append(res, fanout.WithName(fmt.Sprintf("fanout-%d", i)))
	}
	return res
}

// Channels exposes the shard queues for sampling.
func (b *Bus) Channels() []workers.NamedChannel {
	res := make([]workers.NamedChannel, 0, len(b.shards))
	for i, shard := range b.shards {
		res = append(res, workers.NamedChannel{Name: fmt.Sprintf("fanout-%d", i), Channel: shard})
	}
	return res
}

// Close rejects further publications and subscriptions and cancels every
// live subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	subscriptions := b.registry.all()
	for _, s := range subscriptions {
		s.Cancel()
	}
	b.log.Info("Event bus closed", "cancelled_subscriptions", len(subscriptions))
}

// Healthy fails once the bus is closed.
func (b *Bus) Healthy(context.Context) error {
	select {
	case <-b.done:
		return errors.ErrBusClosed
	default:
		return nil
	}
}
