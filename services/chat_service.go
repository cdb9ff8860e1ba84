package services

import (
	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/domain/chat"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"chat-engine/repositories"
	"chat-engine/runtime"
	"context"
	stderrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Connection is a user the current user may start a chat with.
type Connection struct {
	User     domain.User
	Presence PresenceState
}

// ChatService manages direct conversations. Writes of one conversation are
// serialized on its id, creations on the normalized participant set.
type ChatService struct {
	log           *slog.Logger
	conversations repositories.IConversationRepository
	store         *MessageStore
	typing        *TypingCoordinator
	presence      *PresenceTracker
	users         contract.UserDirectory
	follows       contract.FollowGraph
	bus           contract.IBus
	locks         *runtime.KeyedMutex
	now           func() time.Time

	mu      sync.Mutex
	drifted map[uuid.UUID]struct{}
}

func NewChatService(log *slog.Logger, conversations repositories.IConversationRepository, store *MessageStore,
	typing *TypingCoordinator, presence *PresenceTracker, users contract.UserDirectory, follows contract.FollowGraph,
	bus contract.IBus, locks *runtime.KeyedMutex) *ChatService {
	return &ChatService{
		log:           log,
		conversations: conversations,
		store:         store,
		typing:        typing,
		presence:      presence,
		users:         users,
		follows:       follows,
		bus:           bus,
		locks:         locks,
		now:           func() time.Time { return time.Now().UTC() },
		drifted:       make(map[uuid.UUID]struct{}),
	}
}

// FindOrCreateConversation returns the single conversation of the
// participant set, creating it on first use. An inactive conversation is
// reactivated.
func (s *ChatService) FindOrCreateConversation(ctx context.Context, participantIDs []string) (chat.Conversation, error) {
	normalized, err := chat.NormalizeParticipants(participantIDs)
	if err != nil {
		return chat.Conversation{}, err
	}
	for _, id := range normalized {
		if _, err := s.users.GetUser(ctx, id); err != nil {
			return chat.Conversation{}, err
		}
	}

	unlock := s.locks.Lock("convset:" + chat.ParticipantKey(normalized))
	defer unlock()

	conversation, err := s.conversations.FindByParticipants(normalized)
	switch {
	case err == nil:
		return s.reactivate(conversation)
	case !stderrors.Is(err, errors.ErrConversationNotFound):
		return chat.Conversation{}, err
	}

	conversation = chat.NewConversation(normalized, s.now())
	err = s.conversations.Create(conversation)
	if stderrors.Is(err, errors.ErrDuplicateConversation) {
		// Lost against another writer of the same store
		return s.conversations.FindByParticipants(normalized)
	}
	if err != nil {
		s.log.Error("Unable to create conversation", "participants", normalized, "error", err)
		return chat.Conversation{}, err
	}
	s.log.Info("Conversation created", "conversation_id", conversation.ID, "participants", normalized)
	return conversation, nil
}

func (s *ChatService) reactivate(conversation chat.Conversation) (chat.Conversation, error) {
	if conversation.IsActive {
		return conversation, nil
	}
	unlock := s.locks.Lock("conv:" + conversation.ID.String())
	defer unlock()

	current, err := s.conversations.Get(conversation.ID)
	if err != nil || current.IsActive {
		return current, err
	}
	current.IsActive = true
	current.UpdatedAt = s.now()
	if err := s.conversations.Save(current); err != nil {
		return chat.Conversation{}, err
	}
	s.log.Info("Conversation reactivated", "conversation_id", current.ID)
	return current, nil
}

func (s *ChatService) GetConversation(_ context.Context, conversationID uuid.UUID, requesterID string) (chat.Conversation, error) {
	return s.participantOf(conversationID, requesterID)
}

// Conversations lists the conversations of userID, most recently active first.
func (s *ChatService) Conversations(_ context.Context, userID string) ([]chat.Conversation, error) {
	return s.conversations.ListForUser(userID)
}

// Send appends the message, bumps the unread counter of every other
// participant and publishes it. Messages of one conversation are published
// in sequence order.
func (s *ChatService) Send(ctx context.Context, conversationID uuid.UUID, senderID, content string) (chat.Message, error) {
	if _, err := s.participantOf(conversationID, senderID); err != nil {
		return chat.Message{}, err
	}
	unlock := s.locks.Lock("conv:" + conversationID.String())
	defer unlock()

	message, err := s.store.Append(ctx, chat.PostMessageCommand{
		Topic:     domain.ConversationTopic(conversationID),
		SenderID:  senderID,
		Content:   content,
		CreatedAt: s.now(),
	})
	if err != nil {
		return chat.Message{}, err
	}

	conversation, err := s.conversations.Get(conversationID)
	if err != nil {
		return chat.Message{}, err
	}
	for _, participant := range conversation.ParticipantIDs {
		if participant != senderID {
			conversation.UnreadCount[participant]++
		}
	}
	conversation.UpdatedAt = message.CreatedAt
	if err := s.conversations.Save(conversation); err != nil {
		// The message is committed. Its counters are rebuilt from the log by RepairDrifted.
		s.log.Error("Unable to update unread counters", "conversation_id", conversationID, "error", err)
		s.markDrifted(conversationID)
	}

	if err := s.bus.Publish(ctx, event.MessagePosted{Message: message}); err != nil {
		s.log.Warn("Unable to publish message", "conversation_id", conversationID, "message_id", message.ID, "error", err)
	}
	return message, nil
}

// MarkRead marks every message up to cmd.MessageID as read by the user and
// resets its unread counter accordingly. Reading twice is a no-op.
func (s *ChatService) MarkRead(ctx context.Context, cmd chat.MarkReadCommand) (int, error) {
	if _, err := s.participantOf(cmd.ConversationID, cmd.UserID); err != nil {
		return 0, err
	}
	unlock := s.locks.Lock("conv:" + cmd.ConversationID.String())
	defer unlock()

	topic := domain.ConversationTopic(cmd.ConversationID)
	_, marked, err := s.store.MarkRead(ctx, topic, cmd.MessageID, cmd.UserID)
	if err != nil {
		return 0, err
	}
	unread, err := s.store.CountUnread(ctx, topic, cmd.UserID)
	if err != nil {
		return 0, err
	}
	conversation, err := s.conversations.Get(cmd.ConversationID)
	if err != nil {
		return 0, err
	}
	if conversation.UnreadCount[cmd.UserID] != unread {
		conversation.UnreadCount[cmd.UserID] = unread
		if err := s.conversations.Save(conversation); err != nil {
			return 0, err
		}
	}
	if marked == 0 {
		return unread, nil
	}

	at := cmd.At
	if at.IsZero() {
		at = s.now()
	}
	receipt := event.ReadReceipt{Room: topic, MessageID: cmd.MessageID, UserID: cmd.UserID, At: at}
	if err := s.bus.Publish(ctx, receipt); err != nil {
		s.log.Warn("Unable to publish read receipt", "conversation_id", cmd.ConversationID, "error", err)
	}
	return unread, nil
}

func (s *ChatService) UnreadCountFor(_ context.Context, conversationID uuid.UUID, userID string) (int, error) {
	conversation, err := s.participantOf(conversationID, userID)
	if err != nil {
		return 0, err
	}
	return conversation.UnreadCount[userID], nil
}

// Messages returns one page of the conversation log.
func (s *ChatService) Messages(ctx context.Context, cmd chat.GetMessagesCommand) ([]chat.Message, *string, error) {
	if err := s.readable(cmd.Topic, cmd.RequesterID); err != nil {
		return nil, nil, err
	}
	return s.store.Page(ctx, cmd.Topic, cmd.Cursor)
}

// History walks the whole conversation log from cursor.
func (s *ChatService) History(ctx context.Context, cmd chat.GetMessagesCommand) (iter.Seq2[chat.Message, error], error) {
	if err := s.readable(cmd.Topic, cmd.RequesterID); err != nil {
		return nil, err
	}
	return s.store.List(ctx, cmd.Topic, cmd.Cursor), nil
}

// SignalTyping forwards a typing signal of a participant.
func (s *ChatService) SignalTyping(ctx context.Context, conversationID uuid.UUID, userID string, isTyping bool) error {
	return s.typing.Signal(ctx, chat.TypingCommand{
		Topic:    domain.ConversationTopic(conversationID),
		UserID:   userID,
		IsTyping: isTyping,
		At:       s.now(),
	})
}

// Deactivate hides a conversation from new messages. The next
// FindOrCreateConversation of the same participants reactivates it.
func (s *ChatService) Deactivate(_ context.Context, conversationID uuid.UUID, requesterID string) (chat.Conversation, error) {
	if _, err := s.participantOf(conversationID, requesterID); err != nil {
		return chat.Conversation{}, err
	}
	unlock := s.locks.Lock("conv:" + conversationID.String())
	defer unlock()

	conversation, err := s.conversations.Get(conversationID)
	if err != nil || !conversation.IsActive {
		return conversation, err
	}
	conversation.IsActive = false
	conversation.UpdatedAt = s.now()
	if err := s.conversations.Save(conversation); err != nil {
		return chat.Conversation{}, err
	}
	s.log.Info("Conversation deactivated", "conversation_id", conversationID, "by", requesterID)
	return conversation, nil
}

// ReconcileUnread recomputes every unread counter of a conversation from
// its log.
func (s *ChatService) ReconcileUnread(ctx context.Context, conversationID uuid.UUID) (chat.Conversation, error) {
	unlock := s.locks.Lock("conv:" + conversationID.String())
	defer unlock()

	conversation, err := s.conversations.Get(conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}
	drifted := false
	for _, participant := range conversation.ParticipantIDs {
		unread, err := s.store.CountUnread(ctx, conversation.Topic(), participant)
		if err != nil {
			return chat.Conversation{}, err
		}
		if conversation.UnreadCount[participant] != unread {
			drifted = true
			conversation.UnreadCount[participant] = unread
		}
	}
	if !drifted {
		return conversation, nil
	}
	s.log.Warn("Unread counters drifted", "conversation_id", conversationID)
	return conversation, s.conversations.Save(conversation)
}

// RepairDrifted reconciles the conversations whose counters could not be
// written and returns how many still need a repair.
func (s *ChatService) RepairDrifted(ctx context.Context) int {
	s.mu.Lock()
	ids := lo.Keys(s.drifted)
	s.mu.Unlock()

	remaining := 0
	for _, id := range ids {
		if _, err := s.ReconcileUnread(ctx, id); err != nil {
			s.log.Warn("Unread repair failed", "conversation_id", id, "error", err)
			remaining++
			continue
		}
		s.mu.Lock()
		delete(s.drifted, id)
		s.mu.Unlock()
	}
	return remaining
}

// ReconcileAll reconciles the unread counters of every conversation.
func (s *ChatService) ReconcileAll(ctx context.Context) error {
	conversations, err := s.conversations.List()
	if err != nil {
		return err
	}
	for _, conversation := range conversations {
		if _, err := s.ReconcileUnread(ctx, conversation.ID); err != nil {
			return fmt.Errorf("reconcile %s: %w", conversation.ID, err)
		}
	}
	return nil
}

func (s *ChatService) markDrifted(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drifted[id] = struct{}{}
}

// Connections merges the users userID follows and is followed by, with
// their presence. Users unknown to the directory are skipped.
func (s *ChatService) Connections(ctx context.Context, userID string) ([]Connection, error) {
	following, err := s.follows.ListFollowing(ctx, userID)
	if err != nil {
		return nil, err
	}
	followers, err := s.follows.ListFollowers(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := lo.Without(lo.Uniq(append(following, followers...)), userID)

	connections := make([]Connection, 0, len(ids))
	for _, id := range ids {
		user, err := s.users.GetUser(ctx, id)
		if stderrors.Is(err, errors.ErrUserNotFound) {
			s.log.Debug("Unknown connection skipped", "user_id", userID, "connection", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		connections = append(connections, Connection{User: user, Presence: s.presence.Get(id)})
	}
	return connections, nil
}

func (s *ChatService) participantOf(conversationID uuid.UUID, userID string) (chat.Conversation, error) {
	conversation, err := s.conversations.Get(conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}
	if !conversation.HasParticipant(userID) {
		return chat.Conversation{}, fmt.Errorf("%w: %s in %s", errors.ErrNotParticipant, userID, conversationID)
	}
	return conversation, nil
}

func (s *ChatService) readable(topic domain.Topic, userID string) error {
	if !topic.IsConversation() {
		return fmt.Errorf("%w: %s is not a conversation", errors.ErrInvalidTopic, topic)
	}
	id, err := topic.ID()
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidTopic, err)
	}
	_, err = s.participantOf(id, userID)
	return err
}
