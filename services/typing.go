package services

import (
	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/domain/chat"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"chat-engine/observability"
	"chat-engine/runtime"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const DefaultTypingTTL = 3 * time.Second

// TopicReader authorizes subscriptions and ephemeral signals on a topic.
type TopicReader interface {
	CanRead(ctx context.Context, topic domain.Topic, userID string) error
}

type typingKey struct {
	topic  domain.Topic
	userID string
}

func (k typingKey) String() string { return fmt.Sprintf("typing:%s:%s", k.topic, k.userID) }

// typingState exists only while the user is TYPING. generation identifies
// the timer that is allowed to expire it.
type typingState struct {
	timer      *time.Timer
	generation uint64
	lastSignal time.Time
}

// TypingCoordinator runs the IDLE <-> TYPING machine of every
// (topic, user) pair. Each TYPING pair owns exactly one expiry timer,
// replaced on refresh. Events are published on transitions only.
type TypingCoordinator struct {
	log      *slog.Logger
	bus      contract.IBus
	presence *PresenceTracker
	access   TopicReader
	locks    *runtime.KeyedMutex
	metrics  *observability.Metrics
	ttl      time.Duration
	now      func() time.Time

	mu         sync.Mutex
	states     map[typingKey]*typingState
	generation uint64
}

func NewTypingCoordinator(log *slog.Logger, bus contract.IBus, presence *PresenceTracker, access TopicReader,
	locks *runtime.KeyedMutex, metrics *observability.Metrics, ttl time.Duration) *TypingCoordinator {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingCoordinator{
		log:      log,
		bus:      bus,
		presence: presence,
		access:   access,
		locks:    locks,
		metrics:  metrics,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
		states:   make(map[typingKey]*typingState),
	}
}

// Signal applies a typing start/refresh or stop signal. Signals from a user
// who is not online, older than the last accepted one or already expired
// are dropped without error.
func (c *TypingCoordinator) Signal(ctx context.Context, cmd chat.TypingCommand) error {
	if err := c.access.CanRead(ctx, cmd.Topic, cmd.UserID); err != nil {
		return err
	}
	at := cmd.At
	if at.IsZero() {
		at = c.now()
	}
	if err := c.checkFresh(cmd.UserID, at); err != nil {
		c.drop(cmd, err)
		return nil
	}

	key := typingKey{topic: cmd.Topic, userID: cmd.UserID}
	unlock := c.locks.Lock(key.String())
	defer unlock()

	transition, err := c.apply(key, cmd.IsTyping, at)
	if err != nil {
		c.drop(cmd, err)
		return nil
	}
	if transition {
		c.publish(ctx, key, cmd.IsTyping, at)
	}
	return nil
}

// IsTyping reports whether userID is currently TYPING on topic.
func (c *TypingCoordinator) IsTyping(topic domain.Topic, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.states[typingKey{topic: topic, userID: userID}]
	return ok
}

// Close stops every pending expiry timer without publishing.
func (c *TypingCoordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, state := range c.states {
		state.timer.Stop()
		delete(c.states, key)
	}
}

func (c *TypingCoordinator) checkFresh(userID string, at time.Time) error {
	if !c.presence.IsOnline(userID) {
		return fmt.Errorf("%w: %s is offline", errors.ErrStaleTypingSignal, userID)
	}
	if c.now().Sub(at) >= c.ttl {
		return fmt.Errorf("%w: signal of %s already expired", errors.ErrStaleTypingSignal, at)
	}
	return nil
}

// apply reports whether the signal changed the state. The caller holds the
// key lock so that events of one pair are published in transition order.
func (c *TypingCoordinator) apply(key typingKey, typing bool, at time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, exists := c.states[key]
	if exists && at.Before(current.lastSignal) {
		return false, fmt.Errorf("%w: older than %s", errors.ErrStaleTypingSignal, current.lastSignal)
	}
	if !typing {
		if !exists {
			return false, nil
		}
		current.timer.Stop()
		delete(c.states, key)
		return true, nil
	}

	if exists {
		// Cancel the old timer before scheduling the new one
		current.timer.Stop()
	} else {
		current = &typingState{}
		c.states[key] = current
	}
	c.generation++
	generation := c.generation
	current.generation = generation
	current.lastSignal = at
	current.timer = time.AfterFunc(c.ttl, func() { c.expire(key, generation) })
	return !exists, nil
}

// expire ends a TYPING state unless a newer signal replaced its timer
// between the timer firing and this call.
func (c *TypingCoordinator) expire(key typingKey, generation uint64) {
	unlock := c.locks.Lock(key.String())
	defer unlock()

	c.mu.Lock()
	current, ok := c.states[key]
	if !ok || current.generation != generation {
		c.mu.Unlock()
		return
	}
	delete(c.states, key)
	c.mu.Unlock()

	c.log.Debug("Typing expired", "topic", key.topic, "user_id", key.userID)
	c.publish(context.Background(), key, false, c.now())
}

func (c *TypingCoordinator) publish(ctx context.Context, key typingKey, typing bool, at time.Time) {
	e := event.TypingChanged{Room: key.topic, UserID: key.userID, IsTyping: typing, At: at}
	if err := c.bus.Publish(ctx, e); err != nil {
		c.log.Warn("Unable to publish typing", "topic", key.topic, "user_id", key.userID, "error", err)
	}
}

func (c *TypingCoordinator) drop(cmd chat.TypingCommand, err error) {
	c.metrics.IncrStale("typing")
	c.log.Debug("Typing signal dropped",
		"topic", cmd.Topic,
		"user_id", cmd.UserID,
		"is_typing", cmd.IsTyping,
		"error", err)
}
