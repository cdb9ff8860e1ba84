package server

import (
	"chat-engine/domain/chat"
	"chat-engine/domain/community"
	"chat-engine/domain/event"
	"chat-engine/services"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type createConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required,min=1,dive,required"`
}

type contentRequest struct {
	Content string `json:"content" binding:"required"`
}

type markReadRequest struct {
	MessageID string `json:"message_id" binding:"required,uuid"`
}

type typingRequest struct {
	IsTyping *bool `json:"is_typing" binding:"required"`
}

type reactionRequest struct {
	Reaction string `json:"reaction" binding:"required"`
}

type autoAssignRequest struct {
	CountryCode string `json:"country_code" binding:"omitempty,len=2,alpha"`
}

type reactionResponse struct {
	UserID string    `json:"user_id"`
	Type   string    `json:"type"`
	At     time.Time `json:"at"`
}

type messageResponse struct {
	ID        string             `json:"id"`
	Topic     string             `json:"topic"`
	Sequence  uint64             `json:"sequence"`
	SenderID  string             `json:"sender_id"`
	Content   string             `json:"content"`
	Lang      string             `json:"lang,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Edited    bool               `json:"edited"`
	Deleted   bool               `json:"deleted,omitempty"`
	ReadBy    []string           `json:"read_by"`
	Reactions []reactionResponse `json:"reactions"`
}

type pageResponse struct {
	Messages []messageResponse `json:"messages"`
	Cursor   *string           `json:"cursor,omitempty"`
}

type conversationResponse struct {
	ID             string    `json:"id"`
	Topic          string    `json:"topic"`
	ParticipantIDs []string  `json:"participant_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	IsActive       bool      `json:"is_active"`
	Unread         int       `json:"unread"`
}

type communityResponse struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Name        string    `json:"name"`
	CountryCode string    `json:"country_code"`
	Description string    `json:"description"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	Membership  string    `json:"membership"`
}

type membershipResponse struct {
	CommunityID string    `json:"community_id"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	JoinedAt    time.Time `json:"joined_at"`
}

type presenceResponse struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type connectionResponse struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	AvatarURL string           `json:"avatar_url,omitempty"`
	Role      string           `json:"role"`
	Presence  presenceResponse `json:"presence"`
}

func toMessageResponse(m chat.Message) messageResponse {
	return messageResponse{
		ID:        m.ID.String(),
		Topic:     m.Topic.String(),
		Sequence:  m.Sequence,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Lang:      m.Lang,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Edited:    m.Edited,
		Deleted:   m.Deleted,
		ReadBy:    lo.Ternary(m.ReadBy == nil, []string{}, m.ReadBy),
		Reactions: lo.Map(m.Reactions, func(r chat.Reaction, _ int) reactionResponse {
			return reactionResponse{UserID: r.UserID, Type: string(r.Type), At: r.At}
		}),
	}
}

func toPageResponse(messages []chat.Message, cursor *string) pageResponse {
	return pageResponse{
		Messages: lo.Map(messages, func(m chat.Message, _ int) messageResponse { return toMessageResponse(m) }),
		Cursor:   cursor,
	}
}

func toConversationResponse(c chat.Conversation, userID string) conversationResponse {
	return conversationResponse{
		ID:             c.ID.String(),
		Topic:          c.Topic().String(),
		ParticipantIDs: c.ParticipantIDs,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		IsActive:       c.IsActive,
		Unread:         c.UnreadCount[userID],
	}
}

func toCommunityResponse(c community.Community, status community.Status) communityResponse {
	return communityResponse{
		ID:          c.ID.String(),
		Topic:       c.Topic().String(),
		Name:        c.Name,
		CountryCode: c.CountryCode,
		Description: c.Description,
		MemberCount: c.MemberCount,
		CreatedAt:   c.CreatedAt,
		Membership:  string(status),
	}
}

func toMembershipResponse(m community.Membership) membershipResponse {
	return membershipResponse{
		CommunityID: m.CommunityID.String(),
		UserID:      m.UserID,
		Status:      string(m.Status()),
		JoinedAt:    m.JoinedAt,
	}
}

func toPresenceResponse(p services.PresenceState) presenceResponse {
	res := presenceResponse{UserID: p.UserID, Online: p.Online}
	if !p.Online && !p.LastSeen.IsZero() {
		res.LastSeen = lo.ToPtr(p.LastSeen)
	}
	return res
}

func toConnectionResponse(c services.Connection) connectionResponse {
	return connectionResponse{
		ID:        c.User.ID,
		Name:      c.User.Name,
		AvatarURL: c.User.AvatarURL,
		Role:      string(c.User.Role),
		Presence:  toPresenceResponse(c.Presence),
	}
}

func toCounts(counts map[chat.ReactionType]int) map[string]int {
	return lo.MapKeys(counts, func(_ int, k chat.ReactionType) string { return string(k) })
}

// toPayload renders the body of a stream frame for a bus event.
func toPayload(e event.DomainEvent) any {
	switch evt := e.(type) {
	case event.MessagePosted:
		return toMessageResponse(evt.Message)
	case event.MessageEdited:
		return toMessageResponse(evt.Message)
	case event.MessageDeleted:
		return gin.H{"message_id": evt.MessageID.String(), "sequence": evt.Sequence, "at": evt.At}
	case event.ReadReceipt:
		return gin.H{"message_id": evt.MessageID.String(), "user_id": evt.UserID, "at": evt.At}
	case event.ReactionChanged:
		payload := gin.H{"message_id": evt.MessageID.String(), "user_id": evt.UserID,
			"counts": toCounts(evt.Counts), "at": evt.At}
		if evt.Reaction != nil {
			payload["reaction"] = string(*evt.Reaction)
		}
		return payload
	case event.TypingChanged:
		return gin.H{"user_id": evt.UserID, "is_typing": evt.IsTyping, "at": evt.At}
	case event.PresenceChanged:
		return toPresenceResponse(services.PresenceState{UserID: evt.UserID, Online: evt.Online, LastSeen: evt.LastSeen})
	case event.MembershipChanged:
		return gin.H{"user_id": evt.UserID, "active": evt.Active, "member_count": evt.MemberCount, "at": evt.At}
	default:
		return nil
	}
}

