package runtime

import (
	"chat-engine/domain"
	"chat-engine/domain/event"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func noopHandler(event.DomainEvent) {}

func TestRegistry_Add_One_Topic_One_Subscription(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	topic := domain.ConversationTopic(uuid.New())
	s := newSubscription(slog.Default(), topic, "alice", noopHandler, 1, nil)

	// Given nobody listens
	req.Empty(registry.topics)
	req.Nil(registry.GetSinksForTopic(topic))

	// When a subscription is added
	registry.add(s)

	// Then it is the only sink of the topic
	req.Equal(1, registry.Count(topic))
	req.Len(registry.GetSinksForTopic(topic), 1)
	req.Contains(registry.GetSinksForTopic(topic), s)
}

func TestRegistry_Same_Subscriber_Twice_On_One_Topic(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	topic := domain.CommunityTopic(uuid.New())

	// Given one user connected from two devices
	first := newSubscription(slog.Default(), topic, "alice", noopHandler, 1, nil)
	second := newSubscription(slog.Default(), topic, "alice", noopHandler, 1, nil)
	registry.add(first)
	registry.add(second)

	// Then both connections receive the topic events
	req.Len(registry.GetSinksForTopic(topic), 2)

	// When one of them goes away
	req.True(registry.remove(first))

	// Then the other one is kept
	req.Equal([]*subscription{second}, registry.all())
}

func TestRegistry_Remove_Drops_Empty_Topic(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	topic := domain.ConversationTopic(uuid.New())
	s := newSubscription(slog.Default(), topic, "alice", noopHandler, 1, nil)
	registry.add(s)

	req.True(registry.remove(s))
	req.False(registry.remove(s))

	// And the topic doesn't exist anymore
	req.Empty(registry.topics)
	req.Nil(registry.GetSinksForTopic(topic))
}
