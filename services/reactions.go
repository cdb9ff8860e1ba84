package services

import (
	"chat-engine/contract"
	"chat-engine/domain/chat"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"chat-engine/repositories"
	"chat-engine/runtime"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxCachedCounts = 10_000

// ReactionAggregator owns the one-reaction-per-user rule and keeps the
// per-message counts in memory. Counts are a cache of the reaction
// sub-records and are rebuilt from them on a miss.
type ReactionAggregator struct {
	log        *slog.Logger
	repository repositories.IMessageRepository
	validator  contract.SenderValidator
	bus        contract.IBus
	locks      *runtime.KeyedMutex

	mu     sync.Mutex
	counts map[uuid.UUID]map[chat.ReactionType]int
}

func NewReactionAggregator(log *slog.Logger, repository repositories.IMessageRepository,
	validator contract.SenderValidator, bus contract.IBus, locks *runtime.KeyedMutex) *ReactionAggregator {
	return &ReactionAggregator{
		log:        log,
		repository: repository,
		validator:  validator,
		bus:        bus,
		locks:      locks,
		counts:     make(map[uuid.UUID]map[chat.ReactionType]int),
	}
}

// SetReaction replaces any previous reaction of userID on the message and
// publishes the new counts on the message topic.
func (a *ReactionAggregator) SetReaction(ctx context.Context, messageID uuid.UUID, userID string,
	reaction chat.ReactionType, at time.Time) (map[chat.ReactionType]int, error) {
	unlock := a.locks.Lock("rx:" + messageID.String())
	defer unlock()

	message, err := a.liveMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	previous, err := a.repository.PutReaction(messageID, chat.Reaction{UserID: userID, Type: reaction, At: at})
	if err != nil {
		return nil, err
	}
	counts, err := a.apply(messageID, previous, &reaction)
	if err != nil {
		return nil, err
	}
	a.publish(ctx, event.ReactionChanged{
		Room:      message.Topic,
		MessageID: messageID,
		UserID:    userID,
		Reaction:  &reaction,
		Counts:    counts,
		At:        at,
	})
	return counts, nil
}

// RemoveReaction is a no-op when userID has no reaction on the message.
func (a *ReactionAggregator) RemoveReaction(ctx context.Context, messageID uuid.UUID, userID string,
	at time.Time) (map[chat.ReactionType]int, error) {
	unlock := a.locks.Lock("rx:" + messageID.String())
	defer unlock()

	message, err := a.liveMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	previous, err := a.repository.DeleteReaction(messageID, userID)
	if err != nil {
		return nil, err
	}
	counts, err := a.apply(messageID, previous, nil)
	if err != nil || previous == nil {
		return counts, err
	}
	a.publish(ctx, event.ReactionChanged{
		Room:      message.Topic,
		MessageID: messageID,
		UserID:    userID,
		Counts:    counts,
		At:        at,
	})
	return counts, nil
}

func (a *ReactionAggregator) CountsFor(_ context.Context, messageID uuid.UUID) (map[chat.ReactionType]int, error) {
	unlock := a.locks.Lock("rx:" + messageID.String())
	defer unlock()

	a.mu.Lock()
	cached, ok := a.counts[messageID]
	a.mu.Unlock()
	if ok {
		return maps.Clone(cached), nil
	}
	return a.reconcile(messageID)
}

// ReactionOf returns nil when userID has not reacted to the message.
func (a *ReactionAggregator) ReactionOf(_ context.Context, messageID uuid.UUID, userID string) (*chat.ReactionType, error) {
	reactions, err := a.repository.GetReactions(messageID)
	if err != nil {
		return nil, err
	}
	for _, r := range reactions {
		if r.UserID == userID {
			return &r.Type, nil
		}
	}
	return nil, nil
}

// reconcile rebuilds the counts of a message from its reaction records.
func (a *ReactionAggregator) reconcile(messageID uuid.UUID) (map[chat.ReactionType]int, error) {
	reactions, err := a.repository.GetReactions(messageID)
	if err != nil {
		return nil, err
	}
	counts := make(map[chat.ReactionType]int)
	for _, r := range reactions {
		counts[r.Type]++
	}
	a.store(messageID, counts)
	return maps.Clone(counts), nil
}

func (a *ReactionAggregator) liveMessage(ctx context.Context, messageID uuid.UUID, userID string) (chat.Message, error) {
	message, err := a.repository.Get(messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if message.Deleted {
		return chat.Message{}, fmt.Errorf("%w: %s", errors.ErrMessageNotFound, messageID)
	}
	if err := a.validator.CanPost(ctx, message.Topic, userID); err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

// apply moves one unit from previous to next in the cached counts. The
// caller holds the message lock.
func (a *ReactionAggregator) apply(messageID uuid.UUID, previous *chat.Reaction, next *chat.ReactionType) (map[chat.ReactionType]int, error) {
	a.mu.Lock()
	counts, ok := a.counts[messageID]
	if ok && previous != nil && counts[previous.Type] <= 0 {
		// The cache missed the replaced reaction.
		ok = false
		a.log.Warn("Reaction counts drifted", "message_id", messageID)
	}
	if ok {
		if previous != nil {
			counts[previous.Type]--
			if counts[previous.Type] <= 0 {
				delete(counts, previous.Type)
			}
		}
		if next != nil {
			counts[*next]++
		}
		clone := maps.Clone(counts)
		a.mu.Unlock()
		return clone, nil
	}
	a.mu.Unlock()
	// The record is already written, so a rebuild includes this change.
	return a.reconcile(messageID)
}

func (a *ReactionAggregator) store(messageID uuid.UUID, counts map[chat.ReactionType]int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.counts) >= maxCachedCounts {
		clear(a.counts)
	}
	a.counts[messageID] = maps.Clone(counts)
}

func (a *ReactionAggregator) publish(ctx context.Context, e event.DomainEvent) {
	if err := a.bus.Publish(ctx, e); err != nil {
		a.log.Warn("Unable to publish reaction", "topic", e.Topic(), "error", err)
	}
}
