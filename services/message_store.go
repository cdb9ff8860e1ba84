package services

import (
	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/domain/chat"
	"chat-engine/errors"
	"chat-engine/moderation"
	"chat-engine/observability"
	"chat-engine/repositories"
	"chat-engine/runtime"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MessageStore is the append-only log shared by conversations and
// communities. Sequence numbers are assigned per topic by the repository;
// writes of one topic are also serialized here to keep badger conflicts rare.
type MessageStore struct {
	log              *slog.Logger
	repository       repositories.IMessageRepository
	validator        contract.SenderValidator
	moderator        *moderation.Moderator
	locks            *runtime.KeyedMutex
	metrics          *observability.Metrics
	maxContentLength int
}

func NewMessageStore(log *slog.Logger, repository repositories.IMessageRepository,
	validator contract.SenderValidator, moderator *moderation.Moderator,
	locks *runtime.KeyedMutex, metrics *observability.Metrics, maxContentLength int) *MessageStore {
	return &MessageStore{
		log:              log,
		repository:       repository,
		validator:        validator,
		moderator:        moderator,
		locks:            locks,
		metrics:          metrics,
		maxContentLength: maxContentLength,
	}
}

// Append validates and moderates the content, checks that the sender may
// post to the topic and stores the message with the next topic sequence.
func (s *MessageStore) Append(ctx context.Context, cmd chat.PostMessageCommand) (chat.Message, error) {
	content, lang, err := s.prepare(cmd.Content)
	if err != nil {
		return chat.Message{}, err
	}
	if err := s.validator.CanPost(ctx, cmd.Topic, cmd.SenderID); err != nil {
		return chat.Message{}, err
	}
	at := cmd.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	unlock := s.locks.Lock("seq:" + string(cmd.Topic))
	defer unlock()
	message, err := s.repository.Append(chat.Message{
		ID:        uuid.New(),
		Topic:     cmd.Topic,
		SenderID:  cmd.SenderID,
		Content:   content,
		Lang:      lang,
		CreatedAt: at,
		UpdatedAt: at,
	})
	if err != nil {
		s.log.Error("Unable to append message", "topic", cmd.Topic, "error", err)
		return chat.Message{}, err
	}
	s.metrics.IncrAppended(topicKind(cmd.Topic))
	s.log.Debug("Message appended",
		"topic", message.Topic,
		"message_id", message.ID,
		"sequence", message.Sequence)
	return message, nil
}

func (s *MessageStore) Get(_ context.Context, id uuid.UUID) (chat.Message, error) {
	return s.repository.Get(id)
}

// MarkRead marks every message of the topic up to messageID as read by
// userID. It returns the read message and how many messages were newly
// marked, 0 when they were all read already.
func (s *MessageStore) MarkRead(_ context.Context, topic domain.Topic, messageID uuid.UUID, userID string) (chat.Message, int, error) {
	message, err := s.repository.Get(messageID)
	if err != nil {
		return chat.Message{}, 0, err
	}
	if message.Topic != topic {
		return chat.Message{}, 0, fmt.Errorf("%w: %s in %s", errors.ErrMessageNotFound, messageID, topic)
	}
	marked, err := s.repository.MarkReadUpTo(topic, message.Sequence, userID)
	if err != nil {
		return chat.Message{}, 0, err
	}
	return message, marked, nil
}

// Edit rewrites a community message in place. Only its sender may edit it;
// id and sequence are unchanged.
func (s *MessageStore) Edit(_ context.Context, messageID uuid.UUID, requesterID, content string, at time.Time) (chat.Message, error) {
	content, lang, err := s.prepare(content)
	if err != nil {
		return chat.Message{}, err
	}
	unlock := s.locks.Lock("msg:" + messageID.String())
	defer unlock()

	message, err := s.ownedCommunityMessage(messageID, requesterID)
	if err != nil {
		return chat.Message{}, err
	}
	message.Content = content
	message.Lang = lang
	message.Edited = true
	message.UpdatedAt = at
	if err := s.repository.Update(message); err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

// Delete tombstones a community message: it is no longer listed but its
// sequence stays taken.
func (s *MessageStore) Delete(_ context.Context, messageID uuid.UUID, requesterID string, at time.Time) (chat.Message, error) {
	unlock := s.locks.Lock("msg:" + messageID.String())
	defer unlock()

	message, err := s.ownedCommunityMessage(messageID, requesterID)
	if err != nil {
		return chat.Message{}, err
	}
	message.Deleted = true
	message.Content = ""
	message.UpdatedAt = at
	if err := s.repository.Update(message); err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

func (s *MessageStore) ownedCommunityMessage(messageID uuid.UUID, requesterID string) (chat.Message, error) {
	message, err := s.repository.Get(messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if message.Deleted {
		return chat.Message{}, fmt.Errorf("%w: %s", errors.ErrMessageNotFound, messageID)
	}
	if !message.Topic.IsCommunity() {
		return chat.Message{}, errors.ErrNotCommunityMessage
	}
	if message.SenderID != requesterID {
		return chat.Message{}, fmt.Errorf("%w: message %s", errors.ErrForbidden, messageID)
	}
	return message, nil
}

// Page returns one page of live messages after cursor.
func (s *MessageStore) Page(_ context.Context, topic domain.Topic, cursor *string) ([]chat.Message, *string, error) {
	return s.repository.GetMessages(topic, cursor)
}

// List lazily walks the log of a topic from cursor, page by page, in
// sequence order. It stops at the end of the log as it was when the last
// page was read; iterating again from the returned messages' position
// resumes where it stopped.
func (s *MessageStore) List(ctx context.Context, topic domain.Topic, cursor *string) iter.Seq2[chat.Message, error] {
	return func(yield func(chat.Message, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(chat.Message{}, err)
				return
			}
			page, next, err := s.repository.GetMessages(topic, cursor)
			if err != nil {
				yield(chat.Message{}, err)
				return
			}
			for _, message := range page {
				if !yield(message, nil) {
					return
				}
			}
			if next == nil || (cursor != nil && *next == *cursor) {
				return
			}
			cursor = next
		}
	}
}

func (s *MessageStore) CountUnread(_ context.Context, topic domain.Topic, userID string) (int, error) {
	return s.repository.CountUnread(topic, userID)
}

func (s *MessageStore) prepare(raw string) (content, lang string, err error) {
	content = strings.TrimSpace(raw)
	if content == "" {
		return "", "", errors.ErrEmptyContent
	}
	if s.maxContentLength > 0 && utf8.RuneCountInString(content) > s.maxContentLength {
		return "", "", fmt.Errorf("%w: more than %d characters", errors.ErrContentTooLong, s.maxContentLength)
	}
	if s.moderator == nil {
		return content, "", nil
	}
	result := s.moderator.Sanitize(content)
	return result.Content, result.Lang, nil
}

func topicKind(topic domain.Topic) string {
	if topic.IsCommunity() {
		return "community"
	}
	return "conversation"
}
