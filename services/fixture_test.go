package services

import (
	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"chat-engine/mocks"
	"chat-engine/repositories"
	"chat-engine/runtime"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// recordingBus keeps every published event in publish order.
type recordingBus struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (b *recordingBus) Subscribe(domain.Topic, string, contract.Handler) (contract.Subscription, error) {
	return nil, fmt.Errorf("not supported")
}

func (b *recordingBus) Publish(_ context.Context, e event.DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) ofType(t event.Type) []event.DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var matching []event.DomainEvent
	for _, e := range b.events {
		if e.Type() == t {
			matching = append(matching, e)
		}
	}
	return matching
}

type fixture struct {
	log           *slog.Logger
	bus           *recordingBus
	locks         *runtime.KeyedMutex
	messages      repositories.MessageRepository
	conversations repositories.ConversationRepository
	communities   repositories.CommunityRepository
	users         *mocks.MockUserDirectory
	follows       *mocks.MockFollowGraph
	detector      *mocks.MockCountryDetector
	access        *AccessControl
	store         *MessageStore
	presence      *PresenceTracker
	typing        *TypingCoordinator
	reactions     *ReactionAggregator
	chat          *ChatService
	community     *CommunityService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	typingTTL time.Duration
	exclusive bool
}

func withTypingTTL(ttl time.Duration) fixtureOption {
	return func(c *fixtureConfig) { c.typingTTL = ttl }
}

func withExclusiveCommunity() fixtureOption {
	return func(c *fixtureConfig) { c.exclusive = true }
}

// newFixture wires every service on a fresh badger store. Users whose id
// starts with "ghost" are unknown to the directory.
func newFixture(t *testing.T, options ...fixtureOption) *fixture {
	t.Helper()
	config := fixtureConfig{typingTTL: DefaultTypingTTL}
	for _, option := range options {
		option(&config)
	}

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctrl := gomock.NewController(t)
	f := &fixture{
		log:      logs.GetLoggerFromLevel(slog.LevelDebug),
		bus:      &recordingBus{},
		locks:    runtime.NewKeyedMutex(),
		users:    mocks.NewMockUserDirectory(ctrl),
		follows:  mocks.NewMockFollowGraph(ctrl),
		detector: mocks.NewMockCountryDetector(ctrl),
	}
	f.users.EXPECT().GetUser(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id string) (domain.User, error) {
			if strings.HasPrefix(id, "ghost") {
				return domain.User{}, fmt.Errorf("%w: %s", errors.ErrUserNotFound, id)
			}
			return domain.User{ID: id, Name: id, Role: domain.RoleUser}, nil
		}).AnyTimes()

	f.messages = repositories.NewMessageRepository(db, f.log, lo.ToPtr(10))
	f.conversations = repositories.NewConversationRepository(db, f.log)
	f.communities = repositories.NewCommunityRepository(db, f.log)
	f.access = NewAccessControl(f.conversations, f.communities)
	f.store = NewMessageStore(f.log, f.messages, f.access, nil, f.locks, nil, 500)
	f.presence = NewPresenceTracker(f.log, f.bus, f.access, f.locks, nil)
	f.typing = NewTypingCoordinator(f.log, f.bus, f.presence, f.access, f.locks, nil, config.typingTTL)
	t.Cleanup(f.typing.Close)
	f.reactions = NewReactionAggregator(f.log, f.messages, f.access, f.bus, f.locks)
	f.chat = NewChatService(f.log, f.conversations, f.store, f.typing, f.presence, f.users, f.follows, f.bus, f.locks)
	f.community = NewCommunityService(f.log, f.communities, f.store, f.detector, f.bus, f.locks, config.exclusive)
	return f
}

func (f *fixture) conversation(t *testing.T, participants ...string) domain.Topic {
	t.Helper()
	conversation, err := f.chat.FindOrCreateConversation(context.Background(), participants)
	require.NoError(t, err)
	return conversation.Topic()
}
