package chat

import (
	"chat-engine/domain"
	"time"

	"github.com/google/uuid"
)

type PostMessageCommand struct {
	Topic     domain.Topic
	SenderID  string
	Content   string
	CreatedAt time.Time
}

type GetMessagesCommand struct {
	Topic       domain.Topic
	RequesterID string
	Cursor      *string
}

type MarkReadCommand struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	UserID         string
	At             time.Time
}

type TypingCommand struct {
	Topic    domain.Topic
	UserID   string
	IsTyping bool
	At       time.Time
}
