// Package community contains country-scoped group chats and the
// membership lifecycle of their users.
package community

import (
	"chat-engine/domain"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Community is unique per CountryCode.
type Community struct {
	ID          uuid.UUID
	Name        string
	CountryCode string
	Description string
	MemberCount int
	CreatedAt   time.Time
}

// NewCommunity expects a normalized country code.
func NewCommunity(countryCode string, now time.Time) Community {
	name := CountryName(countryCode)
	return Community{
		ID:          uuid.New(),
		Name:        fmt.Sprintf("%s Community", name),
		CountryCode: countryCode,
		Description: fmt.Sprintf("Chat with members based in %s", name),
		CreatedAt:   now,
	}
}

func (c Community) Topic() domain.Topic {
	return domain.CommunityTopic(c.ID)
}
