package chat

import (
	"chat-engine/domain"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Message is an entry of a conversation or community log.
// Only ReadBy, Reactions and, for community messages, Content/Edited
// change after creation. Sequence is assigned by the log and totally
// orders messages of a topic.
type Message struct {
	ID        uuid.UUID
	Topic     domain.Topic
	Sequence  uint64
	SenderID  string
	Content   string
	Lang      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Edited    bool
	Deleted   bool
	ReadBy    []string
	Reactions []Reaction
}

func (m Message) IsReadBy(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// MarkReadBy adds the reader and reports whether the set changed.
// The sender never counts as a reader of its own message.
func (m *Message) MarkReadBy(userID string) bool {
	if userID == m.SenderID || m.IsReadBy(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}
