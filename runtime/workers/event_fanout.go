package workers

import (
	"chat-engine/contract"
	"chat-engine/domain/event"
	"chat-engine/observability"
	"context"
	"log/slog"
	"time"
)

// EventFanout drains one shard of the bus and hands every event to the
// subscriptions of its topic.
//
// Sinks are called one after the other, never concurrently, so the order
// in which a shard receives the events of a topic is the order in which
// each subscription receives them. A sink that fails or exceeds
// sinkTimeout loses the event; the other sinks are not affected.
type EventFanout struct {
	log         *slog.Logger
	Name        contract.WorkerName
	events      <-chan event.DomainEvent
	registry    contract.IRegistry
	metrics     *observability.Metrics
	sinkTimeout time.Duration
	handlers    []event.Handler
}

func NewEventFanout(log *slog.Logger, registry contract.IRegistry, events <-chan event.DomainEvent,
	metrics *observability.Metrics, sinkTimeout time.Duration) *EventFanout {
	return &EventFanout{
		log:         log,
		events:      events,
		registry:    registry,
		metrics:     metrics,
		sinkTimeout: sinkTimeout,
	}
}

// WithHandlers chains observers called for every event before delivery.
func (w *EventFanout) WithHandlers(handlers ...event.Handler) *EventFanout {
	w.handlers = append(w.handlers, handlers...)
	return w
}

func (w *EventFanout) WithName(name string) contract.Worker {
	w.Name = contract.WorkerName(name)
	return w
}

func (w *EventFanout) GetName() contract.WorkerName { return w.Name }

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case evt := <-w.events:
			w.Fanout(ctx, evt)
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fanout", "name", w.Name)
			return nil
		}
	}
}

// Fanout One sink for each subscription of the event topic
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	w.metrics.IncrPublished(evt.Type())
	for _, h := range w.handlers {
		h.Handle(evt)
	}
	for _, sink := range w.registry.GetSinksForTopic(evt.Topic()) {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		err := sink.Consume(sinkCtx, evt)
		cancel()
		if err != nil {
			w.metrics.IncrDropped(evt.Type())
			w.log.Warn("Event not delivered",
				"topic", evt.Topic(),
				"type", evt.Type(),
				"persisted", event.Persisted(evt),
				"error", err)
		}
	}
}
