// Package domain contains core concepts shared by the chat and community engines.
// A Topic is the single key used both by the message log and the fan-out bus.
package domain

import (
	"chat-engine/errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Topic identifies a conversation or a community stream.
// Format is "conversation:{uuid}" or "community:{uuid}".
type Topic string

const (
	conversationPrefix = "conversation:"
	communityPrefix    = "community:"
)

func ConversationTopic(id uuid.UUID) Topic {
	return Topic(conversationPrefix + id.String())
}

func CommunityTopic(id uuid.UUID) Topic {
	return Topic(communityPrefix + id.String())
}

func (t Topic) IsConversation() bool {
	return strings.HasPrefix(string(t), conversationPrefix)
}

func (t Topic) IsCommunity() bool {
	return strings.HasPrefix(string(t), communityPrefix)
}

// ID extracts the conversation or community identifier carried by the topic.
func (t Topic) ID() (uuid.UUID, error) {
	switch {
	case t.IsConversation():
		return uuid.Parse(strings.TrimPrefix(string(t), conversationPrefix))
	case t.IsCommunity():
		return uuid.Parse(strings.TrimPrefix(string(t), communityPrefix))
	default:
		return uuid.Nil, fmt.Errorf("unknown topic kind %q", t)
	}
}

func (t Topic) String() string { return string(t) }

// ParseTopic validates a raw topic coming from a client and returns its
// canonical form, so every spelling of a uuid maps to the same stream.
func ParseTopic(raw string) (Topic, error) {
	topic := Topic(strings.TrimSpace(raw))
	id, err := topic.ID()
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", errors.ErrInvalidTopic, raw, err)
	}
	if topic.IsConversation() {
		return ConversationTopic(id), nil
	}
	return CommunityTopic(id), nil
}
