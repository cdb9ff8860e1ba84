package services

import (
	"chat-engine/domain/chat"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTyping_Expires_After_TTL_Without_Stop(t *testing.T) {
	req := require.New(t)
	ttl := 100 * time.Millisecond
	f := newFixture(t, withTypingTTL(ttl))
	ctx := context.Background()
	topic := f.conversation(t, "alice", "bob")
	req.NoError(f.presence.Connect(ctx, "alice", time.Now().UTC()))

	// When alice starts typing and goes quiet
	started := time.Now()
	req.NoError(f.typing.Signal(ctx, chat.TypingCommand{Topic: topic, UserID: "alice", IsTyping: true, At: time.Now().UTC()}))
	req.True(f.typing.IsTyping(topic, "alice"))

	// Then she is back to idle shortly after the TTL, never before it
	req.Eventually(func() bool { return !f.typing.IsTyping(topic, "alice") }, time.Second, 5*time.Millisecond)
	req.GreaterOrEqual(time.Since(started), ttl)

	changes := f.bus.ofType(event.TypingChangedType)
	req.Len(changes, 2)
	req.True(changes[0].(event.TypingChanged).IsTyping)
	req.False(changes[1].(event.TypingChanged).IsTyping)
}

func TestTyping_Refresh_Postpones_Expiry_And_Publishes_Nothing(t *testing.T) {
	req := require.New(t)
	ttl := 200 * time.Millisecond
	f := newFixture(t, withTypingTTL(ttl))
	ctx := context.Background()
	topic := f.conversation(t, "alice", "bob")
	req.NoError(f.presence.Connect(ctx, "alice", time.Now().UTC()))

	// Given a refresh just before the first expiry
	req.NoError(f.typing.Signal(ctx, chat.TypingCommand{Topic: topic, UserID: "alice", IsTyping: true, At: time.Now().UTC()}))
	time.Sleep(ttl - 50*time.Millisecond)
	req.NoError(f.typing.Signal(ctx, chat.TypingCommand{Topic: topic, UserID: "alice", IsTyping: true, At: time.Now().UTC()}))

	// When the first deadline passes
	time.Sleep(100 * time.Millisecond)

	// Then alice is still typing and only the start was published
	req.True(f.typing.IsTyping(topic, "alice"))
	req.Len(f.bus.ofType(event.TypingChangedType), 1)

	req.Eventually(func() bool { return !f.typing.IsTyping(topic, "alice") }, time.Second, 5*time.Millisecond)
	req.Len(f.bus.ofType(event.TypingChangedType), 2)
}

func TestTyping_Explicit_Stop_Cancels_The_Timer(t *testing.T) {
	req := require.New(t)
	ttl := 50 * time.Millisecond
	f := newFixture(t, withTypingTTL(ttl))
	ctx := context.Background()
	topic := f.conversation(t, "alice", "bob")
	req.NoError(f.presence.Connect(ctx, "alice", time.Now().UTC()))

	req.NoError(f.typing.Signal(ctx, chat.TypingCommand{Topic: topic, UserID: "alice", IsTyping: true, At: time.Now().UTC()}))
	req.NoError(f.typing.Signal(ctx, chat.TypingCommand{Topic: topic, UserID: "alice", IsTyping: false, At: time.Now().UTC()}))
	req.False(f.typing.IsTyping(topic, "alice"))

	// No expiry fires after the stop
	time.Sleep(3 * ttl)
	req.Len(f.bus.ofType(event.TypingChangedType), 2)

	// And stopping while idle is a no-op
	req.NoError(f.typing.Signal(ctx, chat.TypingCommand{Topic: topic, UserID: "alice", IsTyping: false, At: time.Now().UTC()}))
	req.Len(f.bus.ofType(event.TypingChangedType), 2)
}

func TestTyping_Stale_Signals_Are_Dropped_Silently(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, withTypingTTL(time.Second))
	ctx := context.Background()
	topic := f.conversation(t, "alice", "bob")
	now := time.Now().UTC()

	// An offline user
	req.NoError(f.typing.Signal(ctx, chat.TypingCommand{Topic: topic, UserID: "alice", IsTyping: true, At: now}))
	req.False(f.typing.IsTyping(topic, "alice"))

	// An expired signal
	req.NoError(f.presence.Connect(ctx, "alice", now))
	req.NoError(f.typing.Signal(ctx, chat.TypingCommand{Topic: topic, UserID: "alice", IsTyping: true, At: now.Add(-2 * time.Second)}))
	req.False(f.typing.IsTyping(topic, "alice"))

	// A stop older than the start it would end
	req.NoError(f.typing.Signal(ctx, chat.TypingCommand{Topic: topic, UserID: "alice", IsTyping: true, At: now}))
	req.NoError(f.typing.Signal(ctx, chat.TypingCommand{Topic: topic, UserID: "alice", IsTyping: false, At: now.Add(-100 * time.Millisecond)}))
	req.True(f.typing.IsTyping(topic, "alice"))
	req.Len(f.bus.ofType(event.TypingChangedType), 1)
}

func TestTyping_Outsider_Is_Rejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	topic := f.conversation(t, "alice", "bob")
	req.NoError(f.presence.Connect(ctx, "mallory", time.Now().UTC()))

	err := f.typing.Signal(ctx, chat.TypingCommand{Topic: topic, UserID: "mallory", IsTyping: true, At: time.Now().UTC()})
	req.ErrorIs(err, errors.ErrNotParticipant)
}
