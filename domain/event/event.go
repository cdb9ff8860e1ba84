// Package event defines everything published on the fan-out bus.
// Every event is scoped to a Topic; the bus routes on it.
package event

import (
	"chat-engine/domain"
	"chat-engine/domain/chat"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	MessagePostedType     Type = "message"
	MessageEditedType     Type = "message_edited"
	MessageDeletedType    Type = "message_deleted"
	ReadReceiptType       Type = "read"
	ReactionChangedType   Type = "reaction"
	TypingChangedType     Type = "typing"
	PresenceChangedType   Type = "presence"
	MembershipChangedType Type = "membership"
)

type DomainEvent interface {
	Topic() domain.Topic
	Type() Type
}

// Persisted reports whether the event reflects a change of the message log.
// Subscribers that miss a persisted event recover it by listing the log.
func Persisted(e DomainEvent) bool {
	switch e.Type() {
	case MessagePostedType, MessageEditedType, MessageDeletedType:
		return true
	default:
		return false
	}
}

type MessagePosted struct {
	Message chat.Message
}

func (e MessagePosted) Topic() domain.Topic { return e.Message.Topic }
func (e MessagePosted) Type() Type          { return MessagePostedType }

type MessageEdited struct {
	Message chat.Message
}

func (e MessageEdited) Topic() domain.Topic { return e.Message.Topic }
func (e MessageEdited) Type() Type          { return MessageEditedType }

type MessageDeleted struct {
	Room      domain.Topic
	MessageID uuid.UUID
	Sequence  uint64
	At        time.Time
}

func (e MessageDeleted) Topic() domain.Topic { return e.Room }
func (e MessageDeleted) Type() Type          { return MessageDeletedType }

type ReadReceipt struct {
	Room      domain.Topic
	MessageID uuid.UUID
	UserID    string
	At        time.Time
}

func (e ReadReceipt) Topic() domain.Topic { return e.Room }
func (e ReadReceipt) Type() Type          { return ReadReceiptType }

// ReactionChanged carries the new reaction of UserID (nil when removed)
// and the resulting counts for the message.
type ReactionChanged struct {
	Room      domain.Topic
	MessageID uuid.UUID
	UserID    string
	Reaction  *chat.ReactionType
	Counts    map[chat.ReactionType]int
	At        time.Time
}

func (e ReactionChanged) Topic() domain.Topic { return e.Room }
func (e ReactionChanged) Type() Type          { return ReactionChangedType }

type TypingChanged struct {
	Room     domain.Topic
	UserID   string
	IsTyping bool
	At       time.Time
}

func (e TypingChanged) Topic() domain.Topic { return e.Room }
func (e TypingChanged) Type() Type          { return TypingChangedType }

type PresenceChanged struct {
	Room     domain.Topic
	UserID   string
	Online   bool
	LastSeen time.Time
}

func (e PresenceChanged) Topic() domain.Topic { return e.Room }
func (e PresenceChanged) Type() Type          { return PresenceChangedType }

type MembershipChanged struct {
	Room        domain.Topic
	UserID      string
	Active      bool
	MemberCount int
	At          time.Time
}

func (e MembershipChanged) Topic() domain.Topic { return e.Room }
func (e MembershipChanged) Type() Type          { return MembershipChangedType }
