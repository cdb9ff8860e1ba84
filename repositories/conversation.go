//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	"bytes"
	"chat-engine/domain/chat"
	"chat-engine/errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IConversationRepository interface {
	FindByParticipants(normalized []string) (chat.Conversation, error)
	Create(conversation chat.Conversation) error
	Get(id uuid.UUID) (chat.Conversation, error)
	Save(conversation chat.Conversation) error
	ListForUser(userID string) ([]chat.Conversation, error)
	List() ([]chat.Conversation, error)
}

type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) ConversationRepository {
	return ConversationRepository{db: db, log: log}
}

// FindByParticipants expects a normalized participant set.
func (c ConversationRepository) FindByParticipants(normalized []string) (chat.Conversation, error) {
	var conversation chat.Conversation
	err := c.db.View(func(txn *badger.Txn) error {
		raw, found, err := getValue(txn, participantSetKey(chat.ParticipantKey(normalized)))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %v", errors.ErrConversationNotFound, normalized)
		}
		id, err := uuid.ParseBytes(raw)
		if err != nil {
			return err
		}
		conversation, err = getConversation(txn, id)
		return err
	})
	return conversation, err
}

// Create fails with ErrDuplicateConversation when the participant set is
// already taken. Two racing creations conflict on the participant-set key,
// the loser is replayed and observes the winner's row.
func (c ConversationRepository) Create(conversation chat.Conversation) error {
	return updateWithRetry(c.db, func(txn *badger.Txn) error {
		key := participantSetKey(conversation.Key())
		_, found, err := getValue(txn, key)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %s", errors.ErrDuplicateConversation, conversation.Key())
		}
		if err := txn.Set(key, []byte(conversation.ID.String())); err != nil {
			return err
		}
		for _, participant := range conversation.ParticipantIDs {
			if err := txn.Set(userConversationKey(participant, conversation.ID), nil); err != nil {
				return err
			}
		}
		return txn.Set(conversationKey(conversation.ID), encodeConversation(conversation))
	})
}

func (c ConversationRepository) Get(id uuid.UUID) (chat.Conversation, error) {
	var conversation chat.Conversation
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		conversation, err = getConversation(txn, id)
		return err
	})
	return conversation, err
}

// Save overwrites a conversation created beforehand.
func (c ConversationRepository) Save(conversation chat.Conversation) error {
	return updateWithRetry(c.db, func(txn *badger.Txn) error {
		if _, err := getConversation(txn, conversation.ID); err != nil {
			return err
		}
		return txn.Set(conversationKey(conversation.ID), encodeConversation(conversation))
	})
}

// ListForUser returns the conversations of a user, most recently active first.
func (c ConversationRepository) ListForUser(userID string) ([]chat.Conversation, error) {
	var conversations []chat.Conversation
	err := c.db.View(func(txn *badger.Txn) error {
		prefix := userConversationPrefix(userID)
		var ids []uuid.UUID
		err := scanPrefix(txn, prefix, func(key, _ []byte) error {
			// A user id containing ':' may share this prefix with another user.
			id, err := uuid.ParseBytes(bytes.TrimPrefix(key, prefix))
			if err != nil {
				return nil
			}
			ids = append(ids, id)
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			conversation, err := getConversation(txn, id)
			if err != nil {
				return err
			}
			if conversation.HasParticipant(userID) {
				conversations = append(conversations, conversation)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(conversations, func(a, b chat.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return conversations, nil
}

// List returns every conversation record.
func (c ConversationRepository) List() ([]chat.Conversation, error) {
	var conversations []chat.Conversation
	err := c.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, conversationPrefix(), func(_, value []byte) error {
			conversation, err := decodeConversation(value)
			if err != nil {
				return err
			}
			conversations = append(conversations, conversation)
			return nil
		})
	})
	return conversations, err
}

func getConversation(txn *badger.Txn, id uuid.UUID) (chat.Conversation, error) {
	raw, found, err := getValue(txn, conversationKey(id))
	if err != nil {
		return chat.Conversation{}, err
	}
	if !found {
		return chat.Conversation{}, fmt.Errorf("%w: %s", errors.ErrConversationNotFound, id)
	}
	return decodeConversation(raw)
}
