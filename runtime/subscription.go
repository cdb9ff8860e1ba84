package runtime

import (
	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscription is both the caller's handle and the sink the fan-out workers
// write to. Events are buffered and handed to the handler by a single
// goroutine, so a subscriber sees the events of its topic in publish order.
type subscription struct {
	id           string
	subscriberID string
	topic        domain.Topic
	handler      contract.Handler
	log          *slog.Logger
	events       chan event.DomainEvent
	done         chan struct{}
	once         sync.Once
	onCancel     func(s *subscription)
}

func newSubscription(log *slog.Logger, topic domain.Topic, subscriberID string,
	handler contract.Handler, bufferSize int, onCancel func(s *subscription)) *subscription {
	return &subscription{
		id:           uuid.NewString(),
		subscriberID: subscriberID,
		topic:        topic,
		handler:      handler,
		log:          log,
		events:       make(chan event.DomainEvent, bufferSize),
		done:         make(chan struct{}),
		onCancel:     onCancel,
	}
}

func (s *subscription) ID() string          { return s.id }
func (s *subscription) Topic() domain.Topic { return s.topic }

// Cancel stops delivery and unregisters the subscription. Only the first
// call has an effect.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		if s.onCancel != nil {
			s.onCancel(s)
		}
	})
}

// Consume waits for room in the buffer until ctx expires. Only then is the
// event lost, for this subscriber only, as a transient failure.
func (s *subscription) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.events <- e:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: subscription %s of %s is full: %v",
			errors.ErrTransientDelivery, s.id, s.subscriberID, ctx.Err())
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case e := <-s.events:
			s.deliver(e)
		}
	}
}

func (s *subscription) deliver(e event.DomainEvent) {
	select {
	case <-s.done:
		return
	default:
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Subscriber handler panicked",
				"subscription_id", s.id,
				"subscriber_id", s.subscriberID,
				"topic", s.topic,
				"panic", r)
		}
	}()
	s.handler(e)
}
