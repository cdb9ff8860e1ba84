//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"bytes"
	"chat-engine/domain"
	"chat-engine/domain/chat"
	"chat-engine/errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IMessageRepository interface {
	Append(message chat.Message) (chat.Message, error)
	Get(id uuid.UUID) (chat.Message, error)
	Update(message chat.Message) error
	MarkReadUpTo(topic domain.Topic, sequence uint64, userID string) (int, error)
	GetMessages(topic domain.Topic, cursor *string) ([]chat.Message, *string, error)
	CountUnread(topic domain.Topic, userID string) (int, error)
	LastSequence(topic domain.Topic) (uint64, error)
	PutReaction(messageID uuid.UUID, reaction chat.Reaction) (*chat.Reaction, error)
	DeleteReaction(messageID uuid.UUID, userID string) (*chat.Reaction, error)
	GetReactions(messageID uuid.UUID) ([]chat.Reaction, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

// Append assigns the next sequence of the message topic and persists the
// message in the same transaction as the counter, so a sequence is never
// handed out twice nor reused after a tombstone.
func (m MessageRepository) Append(message chat.Message) (chat.Message, error) {
	err := updateWithRetry(m.db, func(txn *badger.Txn) error {
		last, err := readSequence(txn, message.Topic)
		if err != nil {
			return err
		}
		message.Sequence = last + 1
		if err := txn.Set(sequenceKey(message.Topic), encodeSequence(message.Sequence)); err != nil {
			return err
		}
		if err := txn.Set(messageKey(message.Topic, message.Sequence), encodeMessage(message)); err != nil {
			return err
		}
		pointer := messagePointer{Topic: message.Topic, Sequence: message.Sequence}
		return txn.Set(messageIndexKey(message.ID), encodePointer(pointer))
	})
	if err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

// Get returns the message with its reactions, tombstones included.
func (m MessageRepository) Get(id uuid.UUID) (chat.Message, error) {
	var message chat.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		if message, err = getMessage(txn, id); err != nil {
			return err
		}
		message.Reactions, err = readReactions(txn, id)
		return err
	})
	return message, err
}

// Update rewrites an existing message in place. Reactions are stored apart
// and are not touched.
func (m MessageRepository) Update(message chat.Message) error {
	return updateWithRetry(m.db, func(txn *badger.Txn) error {
		if _, err := getMessage(txn, message.ID); err != nil {
			return err
		}
		message.Reactions = nil
		return txn.Set(messageKey(message.Topic, message.Sequence), encodeMessage(message))
	})
}

// MarkReadUpTo adds userID to the readers of every message of the topic up
// to sequence and moves the read watermark forward. It returns how many
// messages were newly marked; marking an already read range returns 0.
func (m MessageRepository) MarkReadUpTo(topic domain.Topic, sequence uint64, userID string) (int, error) {
	var marked int
	err := updateWithRetry(m.db, func(txn *badger.Txn) error {
		marked = 0
		watermark, err := readWatermark(txn, topic, userID)
		if err != nil {
			return err
		}
		if sequence <= watermark {
			return nil
		}
		updates, err := collectUnread(txn, topic, watermark, sequence, userID)
		if err != nil {
			return err
		}
		for _, message := range updates {
			if err := txn.Set(messageKey(topic, message.Sequence), encodeMessage(message)); err != nil {
				return err
			}
		}
		marked = len(updates)
		return txn.Set(readMarkKey(topic, userID), encodeSequence(sequence))
	})
	return marked, err
}

// collectUnread must run its iterator to completion before any write of the
// same read-write transaction.
func collectUnread(txn *badger.Txn, topic domain.Topic, after, upTo uint64, userID string) ([]chat.Message, error) {
	prefix := messagePrefix(topic)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var updates []chat.Message
	for it.Seek(messageKey(topic, after+1)); it.ValidForPrefix(prefix); it.Next() {
		message, err := decodeItem(it.Item())
		if err != nil {
			return nil, err
		}
		if message.Sequence > upTo {
			break
		}
		if message.Deleted {
			continue
		}
		if message.MarkReadBy(userID) {
			updates = append(updates, message)
		}
	}
	return updates, nil
}

// GetMessages retrieves live messages of a topic in ascending sequence order
// using a prefix scan. The returned cursor is the position of the last
// scanned entry; passing it back resumes right after it. When nothing was
// scanned the given cursor is returned unchanged so the listing is restartable.
// It stops collecting messages once the configured limitMessages is reached.
func (m MessageRepository) GetMessages(topic domain.Topic, cursor *string) ([]chat.Message, *string, error) {
	var after uint64
	if cursor != nil {
		parsed, err := strconv.ParseUint(*cursor, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %q", errors.ErrInvalidCursor, *cursor)
		}
		after = parsed
	}

	var messages []chat.Message
	lastCursor := cursor
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(topic)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		seekKey := messageKey(topic, after)
		it.Seek(seekKey)
		if it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(messages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			message, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			// Memorize cursor part of the actual key
			position := formatCursor(message.Sequence)
			lastCursor = &position
			if message.Deleted {
				continue
			}
			if message.Reactions, err = readReactions(txn, message.ID); err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return messages, lastCursor, nil
}

// CountUnread recomputes the number of live messages of the topic, not sent
// by userID, that userID has not read yet.
func (m MessageRepository) CountUnread(topic domain.Topic, userID string) (int, error) {
	var count int
	err := m.db.View(func(txn *badger.Txn) error {
		watermark, err := readWatermark(txn, topic, userID)
		if err != nil {
			return err
		}
		prefix := messagePrefix(topic)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(messageKey(topic, watermark+1)); it.ValidForPrefix(prefix); it.Next() {
			message, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			if message.Deleted || message.SenderID == userID || message.IsReadBy(userID) {
				continue
			}
			count++
		}
		return nil
	})
	return count, err
}

func (m MessageRepository) LastSequence(topic domain.Topic) (uint64, error) {
	var sequence uint64
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		sequence, err = readSequence(txn, topic)
		return err
	})
	return sequence, err
}

// PutReaction stores the single reaction of a user on a message, replacing
// any previous one, which is returned.
func (m MessageRepository) PutReaction(messageID uuid.UUID, reaction chat.Reaction) (*chat.Reaction, error) {
	var previous *chat.Reaction
	err := updateWithRetry(m.db, func(txn *badger.Txn) error {
		message, err := getMessage(txn, messageID)
		if err != nil {
			return err
		}
		if message.Deleted {
			return fmt.Errorf("%w: %s", errors.ErrMessageNotFound, messageID)
		}
		if previous, err = readReaction(txn, messageID, reaction.UserID); err != nil {
			return err
		}
		return txn.Set(reactionKey(messageID, reaction.UserID), encodeReaction(reaction))
	})
	return previous, err
}

// DeleteReaction returns the removed reaction, or nil when there was none.
func (m MessageRepository) DeleteReaction(messageID uuid.UUID, userID string) (*chat.Reaction, error) {
	var previous *chat.Reaction
	err := updateWithRetry(m.db, func(txn *badger.Txn) error {
		if _, err := getMessage(txn, messageID); err != nil {
			return err
		}
		var err error
		if previous, err = readReaction(txn, messageID, userID); err != nil || previous == nil {
			return err
		}
		return txn.Delete(reactionKey(messageID, userID))
	})
	return previous, err
}

func (m MessageRepository) GetReactions(messageID uuid.UUID) ([]chat.Reaction, error) {
	var reactions []chat.Reaction
	err := m.db.View(func(txn *badger.Txn) error {
		if _, err := getMessage(txn, messageID); err != nil {
			return err
		}
		var err error
		reactions, err = readReactions(txn, messageID)
		return err
	})
	return reactions, err
}

func getMessage(txn *badger.Txn, id uuid.UUID) (chat.Message, error) {
	raw, found, err := getValue(txn, messageIndexKey(id))
	if err != nil {
		return chat.Message{}, err
	}
	if !found {
		return chat.Message{}, fmt.Errorf("%w: %s", errors.ErrMessageNotFound, id)
	}
	pointer, err := decodePointer(raw)
	if err != nil {
		return chat.Message{}, err
	}
	raw, found, err = getValue(txn, messageKey(pointer.Topic, pointer.Sequence))
	if err != nil {
		return chat.Message{}, err
	}
	if !found {
		return chat.Message{}, fmt.Errorf("%w: %s", errors.ErrMessageNotFound, id)
	}
	return decodeMessage(raw)
}

func decodeItem(item *badger.Item) (chat.Message, error) {
	var message chat.Message
	err := item.Value(func(value []byte) error {
		var err error
		message, err = decodeMessage(value)
		return err
	})
	return message, err
}

func readSequence(txn *badger.Txn, topic domain.Topic) (uint64, error) {
	raw, found, err := getValue(txn, sequenceKey(topic))
	if err != nil || !found {
		return 0, err
	}
	return decodeSequence(raw)
}

func readWatermark(txn *badger.Txn, topic domain.Topic, userID string) (uint64, error) {
	raw, found, err := getValue(txn, readMarkKey(topic, userID))
	if err != nil || !found {
		return 0, err
	}
	return decodeSequence(raw)
}

func readReaction(txn *badger.Txn, messageID uuid.UUID, userID string) (*chat.Reaction, error) {
	raw, found, err := getValue(txn, reactionKey(messageID, userID))
	if err != nil || !found {
		return nil, err
	}
	reaction, err := decodeReaction(raw)
	if err != nil {
		return nil, err
	}
	return &reaction, nil
}

func readReactions(txn *badger.Txn, messageID uuid.UUID) ([]chat.Reaction, error) {
	var reactions []chat.Reaction
	err := scanPrefix(txn, reactionPrefix(messageID), func(_, value []byte) error {
		reaction, err := decodeReaction(value)
		if err != nil {
			return err
		}
		reactions = append(reactions, reaction)
		return nil
	})
	return reactions, err
}
