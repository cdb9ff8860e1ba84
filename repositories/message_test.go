package repositories

import (
	"chat-engine/domain"
	"chat-engine/domain/chat"
	"chat-engine/errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newMessage(topic domain.Topic, sender, content string) chat.Message {
	now := time.Now().UTC()
	return chat.Message{
		ID:        uuid.New(),
		Topic:     topic,
		SenderID:  sender,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func Test_Append_Assigns_Increasing_Sequences_Per_Topic(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	first := domain.ConversationTopic(uuid.New())
	second := domain.CommunityTopic(uuid.New())

	// Given three messages on one topic and one on another
	var sequences []uint64
	for _, content := range []string{"a", "b", "c"} {
		message, err := repository.Append(newMessage(first, "alice", content))
		req.NoError(err)
		sequences = append(sequences, message.Sequence)
	}
	other, err := repository.Append(newMessage(second, "alice", "d"))
	req.NoError(err)

	// Then each topic counts on its own
	req.Equal([]uint64{1, 2, 3}, sequences)
	req.Equal(uint64(1), other.Sequence)
	last, err := repository.LastSequence(first)
	req.NoError(err)
	req.Equal(uint64(3), last)
}

func Test_Append_And_Get_Message(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	topic := domain.ConversationTopic(uuid.New())

	stored, err := repository.Append(newMessage(topic, "alice", "hello"))
	req.NoError(err)

	fetched, err := repository.Get(stored.ID)
	req.NoError(err)
	req.Equal(stored, fetched)

	_, err = repository.Get(uuid.New())
	req.ErrorIs(err, errors.ErrMessageNotFound)
}

func Test_Concurrent_Append_Never_Reuses_A_Sequence(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	topic := domain.ConversationTopic(uuid.New())
	writers := 20

	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := make(map[uint64]bool)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			message, err := repository.Append(newMessage(topic, "alice", "race"))
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			mu.Lock()
			seen[message.Sequence] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	req.Len(seen, writers)
	for sequence := uint64(1); sequence <= uint64(writers); sequence++ {
		req.True(seen[sequence])
	}
}

func Test_GetMessages_Ascending_With_Cursor_And_Limit(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), lo.ToPtr(2))
	topic := domain.ConversationTopic(uuid.New())
	for _, content := range []string{"one", "two", "three"} {
		_, err := repository.Append(newMessage(topic, "alice", content))
		req.NoError(err)
	}

	// When the first page is fetched
	page, cursor, err := repository.GetMessages(topic, nil)
	req.NoError(err)
	req.Equal([]string{"one", "two"}, contents(page))
	req.NotNil(cursor)

	// Then the cursor resumes after the last message of the page
	page, cursor, err = repository.GetMessages(topic, cursor)
	req.NoError(err)
	req.Equal([]string{"three"}, contents(page))

	// And an exhausted listing keeps returning the same cursor
	page, next, err := repository.GetMessages(topic, cursor)
	req.NoError(err)
	req.Empty(page)
	req.Equal(*cursor, *next)
}

func Test_GetMessages_Skips_Tombstones(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	topic := domain.CommunityTopic(uuid.New())

	kept, err := repository.Append(newMessage(topic, "alice", "kept"))
	req.NoError(err)
	removed, err := repository.Append(newMessage(topic, "alice", "removed"))
	req.NoError(err)
	removed.Deleted = true
	removed.Content = ""
	req.NoError(repository.Update(removed))

	page, _, err := repository.GetMessages(topic, nil)
	req.NoError(err)
	req.Len(page, 1)
	req.Equal(kept.ID, page[0].ID)

	// The tombstone keeps its sequence
	next, err := repository.Append(newMessage(topic, "alice", "after"))
	req.NoError(err)
	req.Equal(uint64(3), next.Sequence)
}

func Test_GetMessages_Rejects_Malformed_Cursor(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)

	_, _, err := repository.GetMessages(domain.ConversationTopic(uuid.New()), lo.ToPtr("not-a-cursor"))
	req.ErrorIs(err, errors.ErrInvalidCursor)
}

func Test_MarkReadUpTo_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	topic := domain.ConversationTopic(uuid.New())

	// Given three messages from alice and one from bob
	var messages []chat.Message
	for _, content := range []string{"one", "two", "three"} {
		message, err := repository.Append(newMessage(topic, "alice", content))
		req.NoError(err)
		messages = append(messages, message)
	}
	_, err := repository.Append(newMessage(topic, "bob", "mine"))
	req.NoError(err)

	unread, err := repository.CountUnread(topic, "bob")
	req.NoError(err)
	req.Equal(3, unread)

	// When bob reads up to the second message twice
	marked, err := repository.MarkReadUpTo(topic, messages[1].Sequence, "bob")
	req.NoError(err)
	req.Equal(2, marked)
	marked, err = repository.MarkReadUpTo(topic, messages[1].Sequence, "bob")
	req.NoError(err)
	req.Zero(marked)

	// Then only the third message remains unread
	unread, err = repository.CountUnread(topic, "bob")
	req.NoError(err)
	req.Equal(1, unread)
	fetched, err := repository.Get(messages[0].ID)
	req.NoError(err)
	req.True(fetched.IsReadBy("bob"))

	// And bob's own message is never counted as read by him
	marked, err = repository.MarkReadUpTo(topic, 4, "bob")
	req.NoError(err)
	req.Equal(1, marked)
	unread, err = repository.CountUnread(topic, "bob")
	req.NoError(err)
	req.Zero(unread)
}

func Test_Reaction_Replaces_Previous_One(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default(), nil)
	message, err := repository.Append(newMessage(domain.ConversationTopic(uuid.New()), "alice", "react"))
	req.NoError(err)
	now := time.Now().UTC()

	previous, err := repository.PutReaction(message.ID, chat.Reaction{UserID: "bob", Type: chat.ThumbsUp, At: now})
	req.NoError(err)
	req.Nil(previous)

	previous, err = repository.PutReaction(message.ID, chat.Reaction{UserID: "bob", Type: chat.Heart, At: now})
	req.NoError(err)
	req.NotNil(previous)
	req.Equal(chat.ThumbsUp, previous.Type)

	reactions, err := repository.GetReactions(message.ID)
	req.NoError(err)
	req.Len(reactions, 1)
	req.Equal(chat.Heart, reactions[0].Type)

	removed, err := repository.DeleteReaction(message.ID, "bob")
	req.NoError(err)
	req.Equal(chat.Heart, removed.Type)
	removed, err = repository.DeleteReaction(message.ID, "bob")
	req.NoError(err)
	req.Nil(removed)

	_, err = repository.PutReaction(uuid.New(), chat.Reaction{UserID: "bob", Type: chat.Heart, At: now})
	req.ErrorIs(err, errors.ErrMessageNotFound)
}

func contents(messages []chat.Message) []string {
	return lo.Map(messages, func(m chat.Message, _ int) string { return m.Content })
}

func Test_Scan_Describes_Entries_Under_A_Prefix(t *testing.T) {
	req := require.New(t)
	db := openDB(t)
	repository := NewMessageRepository(db, slog.Default(), nil)
	topic := domain.ConversationTopic(uuid.New())
	for _, content := range []string{"a", "b", "c"} {
		_, err := repository.Append(newMessage(topic, "alice", content))
		req.NoError(err)
	}

	// When scanning the message log of the topic with a limit
	records, err := Scan(db, "msg:"+topic.String()+":", 2)
	req.NoError(err)

	// Then the first two messages are decoded in append order
	req.Len(records, 2)
	req.Equal("MSG", records[0].Kind)
	req.Equal("#1 alice: a", records[0].Detail)
	req.Equal("#2 alice: b", records[1].Detail)

	sequences, err := Scan(db, "seq:", 0)
	req.NoError(err)
	req.Len(sequences, 1)
	req.Equal("sequence 3", sequences[0].Detail)
	req.Equal("RAW", Describe("zzz:1", nil).Kind)
}
