package services

import (
	"chat-engine/contract"
	"chat-engine/domain/event"
	"chat-engine/observability"
	"chat-engine/runtime"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// PresenceState is the last known presence of a user. LastSeen is only
// meaningful while Online is false.
type PresenceState struct {
	UserID   string
	Online   bool
	LastSeen time.Time
}

type presence struct {
	state      PresenceState
	lastSignal time.Time
}

// PresenceTracker keeps presence in memory only. Signals are resolved by
// their timestamp, not by their arrival: a disconnect older than the last
// connect of the same user is dropped.
type PresenceTracker struct {
	log     *slog.Logger
	bus     contract.IBus
	topics  contract.TopicResolver
	locks   *runtime.KeyedMutex
	metrics *observability.Metrics

	mu     sync.RWMutex
	states map[string]*presence
}

func NewPresenceTracker(log *slog.Logger, bus contract.IBus, topics contract.TopicResolver,
	locks *runtime.KeyedMutex, metrics *observability.Metrics) *PresenceTracker {
	return &PresenceTracker{
		log:     log,
		bus:     bus,
		topics:  topics,
		locks:   locks,
		metrics: metrics,
		states:  make(map[string]*presence),
	}
}

func (p *PresenceTracker) Connect(ctx context.Context, userID string, at time.Time) error {
	return p.signal(ctx, userID, true, at)
}

func (p *PresenceTracker) Disconnect(ctx context.Context, userID string, at time.Time) error {
	return p.signal(ctx, userID, false, at)
}

func (p *PresenceTracker) IsOnline(userID string) bool {
	return p.Get(userID).Online
}

// Get returns an offline state with a zero LastSeen for unknown users.
func (p *PresenceTracker) Get(userID string) PresenceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if current, ok := p.states[userID]; ok {
		return current.state
	}
	return PresenceState{UserID: userID}
}

func (p *PresenceTracker) signal(ctx context.Context, userID string, online bool, at time.Time) error {
	unlock := p.locks.Lock("presence:" + userID)
	defer unlock()

	changed, ok := p.apply(userID, online, at)
	if !ok {
		p.metrics.IncrStale("presence")
		p.log.Debug("Stale presence signal dropped", "user_id", userID, "online", online, "at", at)
		return nil
	}
	if !changed {
		return nil
	}
	if online {
		p.metrics.AddOnline(1)
	} else {
		p.metrics.AddOnline(-1)
	}
	return p.broadcast(ctx, userID, online, at)
}

// apply reports whether the signal was accepted and whether it flipped the
// online flag.
func (p *PresenceTracker) apply(userID string, online bool, at time.Time) (changed, accepted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.states[userID]
	if !ok {
		current = &presence{state: PresenceState{UserID: userID}}
		p.states[userID] = current
	}
	if at.Before(current.lastSignal) {
		return false, false
	}
	current.lastSignal = at
	current.state.LastSeen = at
	if current.state.Online == online {
		return false, true
	}
	current.state.Online = online
	return true, true
}

// broadcast publishes the change on every topic the user participates in.
// A failing topic does not prevent the others from being notified.
func (p *PresenceTracker) broadcast(ctx context.Context, userID string, online bool, at time.Time) error {
	topics, err := p.topics.TopicsOf(ctx, userID)
	if err != nil {
		p.log.Error("Unable to resolve topics for presence", "user_id", userID, "error", err)
		return err
	}
	var errs []error
	for _, topic := range topics {
		e := event.PresenceChanged{Room: topic, UserID: userID, Online: online, LastSeen: at}
		if err := p.bus.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		p.log.Warn("Presence not published on every topic", "user_id", userID, "error", err)
		return err
	}
	return nil
}
