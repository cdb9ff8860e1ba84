// Package chat contains direct conversation concepts: conversations,
// messages and their reaction sub-records.
package chat

import (
	"chat-engine/domain"
	"chat-engine/errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Conversation is a direct chat between a fixed set of participants.
// ParticipantIDs is sorted and never changes after creation.
type Conversation struct {
	ID             uuid.UUID
	ParticipantIDs []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IsActive       bool
	UnreadCount    map[string]int
}

func NewConversation(participantIDs []string, now time.Time) Conversation {
	unread := make(map[string]int, len(participantIDs))
	for _, p := range participantIDs {
		unread[p] = 0
	}
	return Conversation{
		ID:             uuid.New(),
		ParticipantIDs: participantIDs,
		CreatedAt:      now,
		UpdatedAt:      now,
		IsActive:       true,
		UnreadCount:    unread,
	}
}

func (c Conversation) Topic() domain.Topic {
	return domain.ConversationTopic(c.ID)
}

func (c Conversation) HasParticipant(userID string) bool {
	_, found := slices.BinarySearch(c.ParticipantIDs, userID)
	return found
}

// Key is the normalized participant-set key used for lookup-before-create.
func (c Conversation) Key() string {
	return ParticipantKey(c.ParticipantIDs)
}

// NormalizeParticipants trims, deduplicates and sorts participant IDs.
// A conversation needs at least two distinct participants.
func NormalizeParticipants(participantIDs []string) ([]string, error) {
	cleaned := lo.Uniq(lo.FilterMap(participantIDs, func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	}))
	if len(cleaned) < 2 {
		return nil, errors.ErrTooFewParticipants
	}
	slices.Sort(cleaned)
	return cleaned, nil
}

// ParticipantKey expects already normalized IDs. Each ID is length-prefixed
// so that IDs containing the separator cannot collide.
func ParticipantKey(normalized []string) string {
	var b strings.Builder
	for _, id := range normalized {
		b.WriteString(strconv.Itoa(len(id)))
		b.WriteByte(':')
		b.WriteString(id)
		b.WriteByte(',')
	}
	return b.String()
}
