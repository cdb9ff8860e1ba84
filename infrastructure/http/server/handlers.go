package server

import (
	"chat-engine/auth"
	"chat-engine/domain/chat"
	"chat-engine/domain/community"
	"chat-engine/errors"
	"chat-engine/services"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

func (s *Server) listConversations(c *gin.Context) {
	userID := auth.UserID(c)
	conversations, err := s.services.Chat.Conversations(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(conversations, func(item chat.Conversation, _ int) conversationResponse {
		return toConversationResponse(item, userID)
	}))
}

// findOrCreateConversation always includes the current user in the participant set.
func (s *Server) findOrCreateConversation(c *gin.Context) {
	var body createConversationRequest
	if !bind(c, &body) {
		return
	}
	userID := auth.UserID(c)
	conversation, err := s.services.Chat.FindOrCreateConversation(c.Request.Context(),
		append(body.ParticipantIDs, userID))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conversation, userID))
}

func (s *Server) sendConversationMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body contentRequest
	if !bind(c, &body) {
		return
	}
	message, err := s.services.Chat.Send(c.Request.Context(), id, auth.UserID(c), body.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessageResponse(message))
}

func (s *Server) listConversationMessages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	conversation, err := s.services.Chat.GetConversation(c.Request.Context(), id, auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	messages, cursor, err := s.services.Chat.Messages(c.Request.Context(), chat.GetMessagesCommand{
		Topic:       conversation.Topic(),
		RequesterID: auth.UserID(c),
		Cursor:      cursorParam(c),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toPageResponse(messages, cursor))
}

func (s *Server) markRead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body markReadRequest
	if !bind(c, &body) {
		return
	}
	unread, err := s.services.Chat.MarkRead(c.Request.Context(), chat.MarkReadCommand{
		ConversationID: id,
		MessageID:      uuid.MustParse(body.MessageID),
		UserID:         auth.UserID(c),
		At:             s.now(),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": unread})
}

func (s *Server) unreadCount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	unread, err := s.services.Chat.UnreadCountFor(c.Request.Context(), id, auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": unread})
}

func (s *Server) signalTyping(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body typingRequest
	if !bind(c, &body) {
		return
	}
	if err := s.services.Chat.SignalTyping(c.Request.Context(), id, auth.UserID(c), *body.IsTyping); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deactivateConversation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	userID := auth.UserID(c)
	conversation, err := s.services.Chat.Deactivate(c.Request.Context(), id, userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationResponse(conversation, userID))
}

func (s *Server) setReaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body reactionRequest
	if !bind(c, &body) {
		return
	}
	reaction, err := chat.ParseReactionType(body.Reaction)
	if err != nil {
		s.fail(c, err)
		return
	}
	counts, err := s.services.Reactions.SetReaction(c.Request.Context(), id, auth.UserID(c), reaction, s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": toCounts(counts), "reaction": reaction})
}

func (s *Server) removeReaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	counts, err := s.services.Reactions.RemoveReaction(c.Request.Context(), id, auth.UserID(c), s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": toCounts(counts)})
}

func (s *Server) reactionCounts(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := auth.UserID(c)
	message, err := s.services.Messages.Get(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.services.Access.CanRead(ctx, message.Topic, userID); err != nil {
		s.fail(c, err)
		return
	}
	counts, err := s.services.Reactions.CountsFor(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	mine, err := s.services.Reactions.ReactionOf(ctx, id, userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": toCounts(counts), "reaction": mine})
}

func (s *Server) listCommunities(c *gin.Context) {
	ctx := c.Request.Context()
	communities, err := s.services.Communities.List(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	memberships, err := s.services.Communities.Memberships(ctx, auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	statuses := lo.SliceToMap(memberships, func(m community.Membership) (uuid.UUID, community.Status) {
		return m.CommunityID, m.Status()
	})
	c.JSON(http.StatusOK, lo.Map(communities, func(item community.Community, _ int) communityResponse {
		return toCommunityResponse(item, lo.ValueOr(statuses, item.ID, community.StatusNone))
	}))
}

// autoAssign accepts an explicit country code; without one the country is
// detected from the request.
func (s *Server) autoAssign(c *gin.Context) {
	var body autoAssignRequest
	if err := c.ShouldBindJSON(&body); err != nil && !stderrors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	assigned, err := s.services.Communities.AutoAssign(c.Request.Context(), auth.UserID(c), body.CountryCode)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCommunityResponse(assigned, community.StatusActive))
}

func (s *Server) join(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	membership, err := s.services.Communities.Join(c.Request.Context(), id, auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toMembershipResponse(membership))
}

func (s *Server) leave(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	membership, err := s.services.Communities.Leave(c.Request.Context(), id, auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toMembershipResponse(membership))
}

func (s *Server) listCommunityMessages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	messages, cursor, err := s.services.Communities.Messages(c.Request.Context(), id, auth.UserID(c), cursorParam(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toPageResponse(messages, cursor))
}

func (s *Server) sendCommunityMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body contentRequest
	if !bind(c, &body) {
		return
	}
	message, err := s.services.Communities.Send(c.Request.Context(), id, auth.UserID(c), body.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessageResponse(message))
}

func (s *Server) editCommunityMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body contentRequest
	if !bind(c, &body) {
		return
	}
	message, err := s.services.Communities.Edit(c.Request.Context(), id, auth.UserID(c), body.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toMessageResponse(message))
}

func (s *Server) deleteCommunityMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.services.Communities.Delete(c.Request.Context(), id, auth.UserID(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listConnections(c *gin.Context) {
	connections, err := s.services.Chat.Connections(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(connections, func(item services.Connection, _ int) connectionResponse {
		return toConnectionResponse(item)
	}))
}

func (s *Server) presence(c *gin.Context) {
	c.JSON(http.StatusOK, toPresenceResponse(s.services.Presence.Get(c.Param("id"))))
}

// fail writes the status mapped from the error taxonomy. Unexpected errors
// are logged and their message hidden from the client.
func (s *Server) fail(c *gin.Context, err error) {
	status := errors.MapToHTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed", "path", c.FullPath(), "user_id", auth.UserID(c), "error", err)
		c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func bind(c *gin.Context, body any) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid id %q", c.Param("id"))})
		return uuid.Nil, false
	}
	return id, true
}

func cursorParam(c *gin.Context) *string {
	if cursor := c.Query("cursor"); cursor != "" {
		return &cursor
	}
	return nil
}
