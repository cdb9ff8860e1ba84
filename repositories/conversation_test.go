package repositories

import (
	"chat-engine/domain/chat"
	"chat-engine/errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func Test_Create_And_Find_Conversation_By_Participants(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())
	participants, err := chat.NormalizeParticipants([]string{"bob", "alice"})
	req.NoError(err)

	// Given a conversation between alice and bob
	conversation := chat.NewConversation(participants, time.Now().UTC())
	req.NoError(repository.Create(conversation))

	// When it is looked up by the same participant set
	found, err := repository.FindByParticipants(participants)

	// Then the stored conversation is returned
	req.NoError(err)
	req.Equal(conversation, found)

	_, err = repository.FindByParticipants([]string{"alice", "carol"})
	req.ErrorIs(err, errors.ErrConversationNotFound)
}

func Test_Create_Rejects_Duplicate_Participant_Set(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())
	participants := []string{"alice", "bob"}

	req.NoError(repository.Create(chat.NewConversation(participants, time.Now().UTC())))
	err := repository.Create(chat.NewConversation(participants, time.Now().UTC()))
	req.ErrorIs(err, errors.ErrDuplicateConversation)
}

func Test_Save_Updates_Unread_Counters(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())
	conversation := chat.NewConversation([]string{"alice", "bob"}, time.Now().UTC())
	req.NoError(repository.Create(conversation))

	conversation.UnreadCount["bob"] = 3
	conversation.IsActive = false
	req.NoError(repository.Save(conversation))

	fetched, err := repository.Get(conversation.ID)
	req.NoError(err)
	req.Equal(3, fetched.UnreadCount["bob"])
	req.Zero(fetched.UnreadCount["alice"])
	req.False(fetched.IsActive)

	err = repository.Save(chat.NewConversation([]string{"x", "y"}, time.Now().UTC()))
	req.ErrorIs(err, errors.ErrConversationNotFound)
}

func Test_ListForUser_Most_Recent_First(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openDB(t), slog.Default())
	now := time.Now().UTC()

	older := chat.NewConversation([]string{"alice", "bob"}, now.Add(-time.Hour))
	newer := chat.NewConversation([]string{"alice", "carol"}, now)
	unrelated := chat.NewConversation([]string{"bob", "carol"}, now)
	// "alice:x" shares the "uconv:alice:" prefix and must not leak into alice's list
	colliding := chat.NewConversation([]string{"alice:x", "dave"}, now)
	for _, c := range []chat.Conversation{older, newer, unrelated, colliding} {
		req.NoError(repository.Create(c))
	}

	conversations, err := repository.ListForUser("alice")
	req.NoError(err)
	req.Len(conversations, 2)
	req.Equal([]uuid.UUID{newer.ID, older.ID}, []uuid.UUID{conversations[0].ID, conversations[1].ID})
}
