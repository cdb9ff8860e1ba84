package services

import (
	"chat-engine/domain"
	"chat-engine/errors"
	"chat-engine/repositories"
	"context"
	stderrors "errors"
	"fmt"
)

// AccessControl answers "who may read or write which topic" from the
// conversation and community repositories.
type AccessControl struct {
	conversations repositories.IConversationRepository
	communities   repositories.ICommunityRepository
}

func NewAccessControl(conversations repositories.IConversationRepository,
	communities repositories.ICommunityRepository) *AccessControl {
	return &AccessControl{conversations: conversations, communities: communities}
}

// CanRead fails with ErrNotParticipant or ErrNotMember.
func (a *AccessControl) CanRead(_ context.Context, topic domain.Topic, userID string) error {
	id, err := topic.ID()
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidTopic, err)
	}
	if topic.IsConversation() {
		conversation, err := a.conversations.Get(id)
		if err != nil {
			return err
		}
		if !conversation.HasParticipant(userID) {
			return fmt.Errorf("%w: %s in %s", errors.ErrNotParticipant, userID, topic)
		}
		return nil
	}
	if _, err := a.communities.Get(id); err != nil {
		return err
	}
	membership, err := a.communities.GetMembership(id, userID)
	if err != nil {
		return err
	}
	if membership == nil || !membership.IsActive {
		return fmt.Errorf("%w: %s in %s", errors.ErrNotMember, userID, topic)
	}
	return nil
}

// CanPost fails with ErrInvalidSender unless userID is an active participant
// of an active conversation or an active member of the community.
func (a *AccessControl) CanPost(ctx context.Context, topic domain.Topic, userID string) error {
	if err := a.CanRead(ctx, topic, userID); err != nil {
		if stderrors.Is(err, errors.ErrNotParticipant) || stderrors.Is(err, errors.ErrNotMember) {
			return fmt.Errorf("%w: %v", errors.ErrInvalidSender, err)
		}
		return err
	}
	if !topic.IsConversation() {
		return nil
	}
	id, _ := topic.ID()
	conversation, err := a.conversations.Get(id)
	if err != nil {
		return err
	}
	if !conversation.IsActive {
		return fmt.Errorf("%w: %s", errors.ErrConversationInactive, id)
	}
	return nil
}

// TopicsOf lists the conversations of userID and its active communities.
func (a *AccessControl) TopicsOf(_ context.Context, userID string) ([]domain.Topic, error) {
	conversations, err := a.conversations.ListForUser(userID)
	if err != nil {
		return nil, err
	}
	memberships, err := a.communities.ActiveMembershipsOf(userID)
	if err != nil {
		return nil, err
	}
	topics := make([]domain.Topic, 0, len(conversations)+len(memberships))
	for _, c := range conversations {
		topics = append(topics, c.Topic())
	}
	for _, m := range memberships {
		topics = append(topics, domain.CommunityTopic(m.CommunityID))
	}
	return topics, nil
}
