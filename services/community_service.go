package services

import (
	"chat-engine/contract"
	"chat-engine/domain"
	"chat-engine/domain/chat"
	"chat-engine/domain/community"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"chat-engine/repositories"
	"chat-engine/runtime"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// CommunityService is the directory of country communities and of their
// memberships. Membership changes of one user are serialized so that the
// one-active-community policy holds under concurrent calls.
type CommunityService struct {
	log         *slog.Logger
	communities repositories.ICommunityRepository
	store       *MessageStore
	detector    contract.CountryDetector
	bus         contract.IBus
	locks       *runtime.KeyedMutex
	exclusive   bool
	now         func() time.Time
}

// NewCommunityService builds the directory. With exclusive set, joining a
// second community fails with ErrAlreadyInCommunity instead of being allowed.
func NewCommunityService(log *slog.Logger, communities repositories.ICommunityRepository, store *MessageStore,
	detector contract.CountryDetector, bus contract.IBus, locks *runtime.KeyedMutex, exclusive bool) *CommunityService {
	return &CommunityService{
		log:         log,
		communities: communities,
		store:       store,
		detector:    detector,
		bus:         bus,
		locks:       locks,
		exclusive:   exclusive,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ResolveCommunityForCountry returns the community of a country, creating
// it on first resolution.
func (s *CommunityService) ResolveCommunityForCountry(_ context.Context, countryCode string) (community.Community, error) {
	code, err := community.NormalizeCountryCode(countryCode)
	if err != nil {
		return community.Community{}, err
	}
	c, err := s.communities.GetByCountry(code)
	if !stderrors.Is(err, errors.ErrCommunityNotFound) {
		return c, err
	}

	unlock := s.locks.Lock("country:" + code)
	defer unlock()

	c, err = s.communities.GetByCountry(code)
	if !stderrors.Is(err, errors.ErrCommunityNotFound) {
		return c, err
	}
	c = community.NewCommunity(code, s.now())
	err = s.communities.Create(c)
	if stderrors.Is(err, errors.ErrDuplicateCommunity) {
		s.log.Debug("Community created concurrently, using the winner", "country", code)
		return s.communities.GetByCountry(code)
	}
	if err != nil {
		s.log.Error("Unable to create community", "country", code, "error", err)
		return community.Community{}, err
	}
	s.log.Info("Community created", "community_id", c.ID, "country", code, "name", c.Name)
	return c, nil
}

func (s *CommunityService) Get(_ context.Context, communityID uuid.UUID) (community.Community, error) {
	return s.communities.Get(communityID)
}

func (s *CommunityService) List(_ context.Context) ([]community.Community, error) {
	return s.communities.List()
}

// Join is idempotent: joining an active membership changes nothing and
// publishes nothing.
func (s *CommunityService) Join(ctx context.Context, communityID uuid.UUID, userID string) (community.Membership, error) {
	unlock := s.locks.Lock("membership:" + userID)
	defer unlock()
	return s.join(ctx, communityID, userID)
}

func (s *CommunityService) join(ctx context.Context, communityID uuid.UUID, userID string) (community.Membership, error) {
	if s.exclusive {
		memberships, err := s.communities.ActiveMembershipsOf(userID)
		if err != nil {
			return community.Membership{}, err
		}
		for _, m := range memberships {
			if m.CommunityID != communityID {
				return community.Membership{}, fmt.Errorf("%w: %s", errors.ErrAlreadyInCommunity, m.CommunityID)
			}
		}
	}
	return s.setMembership(ctx, communityID, userID, true)
}

// Leave is idempotent, including for a user who never joined.
func (s *CommunityService) Leave(ctx context.Context, communityID uuid.UUID, userID string) (community.Membership, error) {
	unlock := s.locks.Lock("membership:" + userID)
	defer unlock()
	return s.setMembership(ctx, communityID, userID, false)
}

// AutoAssign joins the community of the user's country unless the user is
// already an active member somewhere, in which case that community is
// returned untouched. An empty countryCode is resolved by the detector.
func (s *CommunityService) AutoAssign(ctx context.Context, userID, countryCode string) (community.Community, error) {
	unlock := s.locks.Lock("membership:" + userID)
	defer unlock()

	memberships, err := s.communities.ActiveMembershipsOf(userID)
	if err != nil {
		return community.Community{}, err
	}
	if len(memberships) > 0 {
		return s.communities.Get(memberships[0].CommunityID)
	}

	if countryCode == "" {
		country, err := s.detector.DetectCountry(ctx)
		if err != nil {
			return community.Community{}, fmt.Errorf("%w: %v", errors.ErrCountryNotDetected, err)
		}
		countryCode = country.Code
	}
	c, err := s.ResolveCommunityForCountry(ctx, countryCode)
	if err != nil {
		return community.Community{}, err
	}
	if _, err := s.join(ctx, c.ID, userID); err != nil {
		return community.Community{}, err
	}
	s.log.Info("User assigned to community", "user_id", userID, "community_id", c.ID, "country", c.CountryCode)
	return s.communities.Get(c.ID)
}

// Memberships returns the active memberships of a user.
func (s *CommunityService) Memberships(_ context.Context, userID string) ([]community.Membership, error) {
	return s.communities.ActiveMembershipsOf(userID)
}

func (s *CommunityService) Members(_ context.Context, communityID uuid.UUID) ([]string, error) {
	if _, err := s.communities.Get(communityID); err != nil {
		return nil, err
	}
	return s.communities.ActiveMembers(communityID)
}

// ReconcileMemberCount recomputes the member count from the membership rows.
func (s *CommunityService) ReconcileMemberCount(_ context.Context, communityID uuid.UUID) (community.Community, error) {
	return s.communities.RecountMembers(communityID)
}

// ReconcileAll recomputes the member count of every community.
func (s *CommunityService) ReconcileAll(ctx context.Context) error {
	communities, err := s.communities.List()
	if err != nil {
		return err
	}
	for _, c := range communities {
		if _, err := s.ReconcileMemberCount(ctx, c.ID); err != nil {
			return fmt.Errorf("reconcile %s: %w", c.ID, err)
		}
	}
	return nil
}

// Send appends a message to the community log and publishes it in
// sequence order.
func (s *CommunityService) Send(ctx context.Context, communityID uuid.UUID, senderID, content string) (chat.Message, error) {
	if err := s.activeMember(communityID, senderID); err != nil {
		return chat.Message{}, err
	}
	unlock := s.locks.Lock("cmty:" + communityID.String())
	defer unlock()

	message, err := s.store.Append(ctx, chat.PostMessageCommand{
		Topic:     domain.CommunityTopic(communityID),
		SenderID:  senderID,
		Content:   content,
		CreatedAt: s.now(),
	})
	if err != nil {
		return chat.Message{}, err
	}
	s.publish(ctx, event.MessagePosted{Message: message})
	return message, nil
}

// Edit rewrites a message of its sender. The message keeps its id and
// position in the log.
func (s *CommunityService) Edit(ctx context.Context, messageID uuid.UUID, requesterID, content string) (chat.Message, error) {
	communityID, err := s.communityOf(ctx, messageID)
	if err != nil {
		return chat.Message{}, err
	}
	unlock := s.locks.Lock("cmty:" + communityID.String())
	defer unlock()

	message, err := s.store.Edit(ctx, messageID, requesterID, content, s.now())
	if err != nil {
		return chat.Message{}, err
	}
	s.publish(ctx, event.MessageEdited{Message: message})
	return message, nil
}

// Delete tombstones a message of its sender.
func (s *CommunityService) Delete(ctx context.Context, messageID uuid.UUID, requesterID string) error {
	communityID, err := s.communityOf(ctx, messageID)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock("cmty:" + communityID.String())
	defer unlock()

	message, err := s.store.Delete(ctx, messageID, requesterID, s.now())
	if err != nil {
		return err
	}
	s.publish(ctx, event.MessageDeleted{
		Room:      message.Topic,
		MessageID: message.ID,
		Sequence:  message.Sequence,
		At:        message.UpdatedAt,
	})
	return nil
}

// Messages returns one page of the community log to an active member.
func (s *CommunityService) Messages(ctx context.Context, communityID uuid.UUID, requesterID string, cursor *string) ([]chat.Message, *string, error) {
	if err := s.activeMember(communityID, requesterID); err != nil {
		return nil, nil, err
	}
	return s.store.Page(ctx, domain.CommunityTopic(communityID), cursor)
}

func (s *CommunityService) setMembership(ctx context.Context, communityID uuid.UUID, userID string, active bool) (community.Membership, error) {
	at := s.now()
	change, err := s.communities.SetMembership(communityID, userID, active, at)
	if err != nil {
		return community.Membership{}, err
	}
	if !change.Changed {
		return change.Membership, nil
	}
	s.log.Info("Membership changed",
		"community_id", communityID,
		"user_id", userID,
		"active", active,
		"member_count", change.Community.MemberCount)
	s.publish(ctx, event.MembershipChanged{
		Room:        domain.CommunityTopic(communityID),
		UserID:      userID,
		Active:      active,
		MemberCount: change.Community.MemberCount,
		At:          at,
	})
	return change.Membership, nil
}

func (s *CommunityService) activeMember(communityID uuid.UUID, userID string) error {
	if _, err := s.communities.Get(communityID); err != nil {
		return err
	}
	membership, err := s.communities.GetMembership(communityID, userID)
	if err != nil {
		return err
	}
	if membership == nil || !membership.IsActive {
		return fmt.Errorf("%w: %s in %s", errors.ErrNotMember, userID, communityID)
	}
	return nil
}

func (s *CommunityService) communityOf(ctx context.Context, messageID uuid.UUID) (uuid.UUID, error) {
	message, err := s.store.Get(ctx, messageID)
	if err != nil {
		return uuid.Nil, err
	}
	if !message.Topic.IsCommunity() {
		return uuid.Nil, errors.ErrNotCommunityMessage
	}
	return message.Topic.ID()
}

func (s *CommunityService) publish(ctx context.Context, e event.DomainEvent) {
	if err := s.bus.Publish(ctx, e); err != nil {
		s.log.Warn("Unable to publish community event", "topic", e.Topic(), "type", e.Type(), "error", err)
	}
}
