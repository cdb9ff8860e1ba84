package services

import (
	"chat-engine/domain/chat"
	"chat-engine/errors"
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageStore_Append_Validates_Content(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	topic := f.conversation(t, "alice", "bob")

	_, err := f.store.Append(ctx, chat.PostMessageCommand{Topic: topic, SenderID: "alice", Content: "   "})
	req.ErrorIs(err, errors.ErrEmptyContent)

	_, err = f.store.Append(ctx, chat.PostMessageCommand{Topic: topic, SenderID: "alice", Content: strings.Repeat("a", 501)})
	req.ErrorIs(err, errors.ErrContentTooLong)

	message, err := f.store.Append(ctx, chat.PostMessageCommand{Topic: topic, SenderID: "alice", Content: "  trimmed  "})
	req.NoError(err)
	req.Equal("trimmed", message.Content)
	req.False(message.CreatedAt.IsZero())
}

func TestMessageStore_Append_Refuses_Invalid_Sender(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	topic := f.conversation(t, "alice", "bob")

	_, err := f.store.Append(context.Background(), chat.PostMessageCommand{Topic: topic, SenderID: "mallory", Content: "hi"})
	req.ErrorIs(err, errors.ErrInvalidSender)
}

func TestMessageStore_List_Stops_Early_When_Caller_Breaks(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	topic := f.conversation(t, "alice", "bob")
	for i := 0; i < 15; i++ {
		_, err := f.store.Append(ctx, chat.PostMessageCommand{Topic: topic, SenderID: "alice", Content: "m"})
		req.NoError(err)
	}

	// When the caller stops after twelve messages
	var seen []uint64
	for message, err := range f.store.List(ctx, topic, nil) {
		req.NoError(err)
		seen = append(seen, message.Sequence)
		if len(seen) == 12 {
			break
		}
	}
	req.Len(seen, 12)

	// Then resuming from the last position yields the rest
	cursor := strconv.FormatUint(seen[len(seen)-1], 10)
	var rest []uint64
	for message, err := range f.store.List(ctx, topic, &cursor) {
		req.NoError(err)
		rest = append(rest, message.Sequence)
	}
	req.Equal([]uint64{13, 14, 15}, rest)
}

func TestMessageStore_List_Reports_Cancelled_Context(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	topic := f.conversation(t, "alice", "bob")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range f.store.List(ctx, topic, nil) {
		req.ErrorIs(err, context.Canceled)
	}
}
