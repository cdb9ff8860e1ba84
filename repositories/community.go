//go:generate go run go.uber.org/mock/mockgen -source=community.go -destination=../mocks/mock_community_repository.go -package=mocks
package repositories

import (
	"bytes"
	"chat-engine/domain/community"
	"chat-engine/errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type ICommunityRepository interface {
	GetByCountry(countryCode string) (community.Community, error)
	Create(c community.Community) error
	Get(id uuid.UUID) (community.Community, error)
	List() ([]community.Community, error)
	GetMembership(communityID uuid.UUID, userID string) (*community.Membership, error)
	SetMembership(communityID uuid.UUID, userID string, active bool, now time.Time) (MembershipChange, error)
	ActiveMembershipsOf(userID string) ([]community.Membership, error)
	ActiveMembers(communityID uuid.UUID) ([]string, error)
	RecountMembers(communityID uuid.UUID) (community.Community, error)
}

// MembershipChange is the outcome of a membership transition. Changed is
// false when the row was already in the requested state, in which case the
// member count is untouched.
type MembershipChange struct {
	Membership community.Membership
	Community  community.Community
	Changed    bool
}

type CommunityRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewCommunityRepository(db *badger.DB, log *slog.Logger) CommunityRepository {
	return CommunityRepository{db: db, log: log}
}

func (r CommunityRepository) GetByCountry(countryCode string) (community.Community, error) {
	var c community.Community
	err := r.db.View(func(txn *badger.Txn) error {
		raw, found, err := getValue(txn, countryKey(countryCode))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: country %s", errors.ErrCommunityNotFound, countryCode)
		}
		id, err := uuid.ParseBytes(raw)
		if err != nil {
			return err
		}
		c, err = getCommunity(txn, id)
		return err
	})
	return c, err
}

// Create fails with ErrDuplicateCommunity when the country already has a
// community. Racing creations conflict on the country key and the replayed
// loser observes the winner.
func (r CommunityRepository) Create(c community.Community) error {
	return updateWithRetry(r.db, func(txn *badger.Txn) error {
		key := countryKey(c.CountryCode)
		_, found, err := getValue(txn, key)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %s", errors.ErrDuplicateCommunity, c.CountryCode)
		}
		if err := txn.Set(key, []byte(c.ID.String())); err != nil {
			return err
		}
		return txn.Set(communityKey(c.ID), encodeCommunity(c))
	})
}

func (r CommunityRepository) Get(id uuid.UUID) (community.Community, error) {
	var c community.Community
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		c, err = getCommunity(txn, id)
		return err
	})
	return c, err
}

// List returns every community ordered by name.
func (r CommunityRepository) List() ([]community.Community, error) {
	var communities []community.Community
	err := r.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, communityPrefix(), func(_, value []byte) error {
			c, err := decodeCommunity(value)
			if err != nil {
				return err
			}
			communities = append(communities, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(communities, func(a, b community.Community) int {
		return strings.Compare(a.Name, b.Name)
	})
	return communities, nil
}

// GetMembership returns nil when the user never joined the community.
func (r CommunityRepository) GetMembership(communityID uuid.UUID, userID string) (*community.Membership, error) {
	var membership *community.Membership
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		membership, err = getMembership(txn, communityID, userID)
		return err
	})
	return membership, err
}

// SetMembership moves the membership row of a user toward the requested
// state and adjusts the member count in the same transaction, so the count
// always equals the number of active rows. Deactivating a row that does not
// exist is a no-op.
func (r CommunityRepository) SetMembership(communityID uuid.UUID, userID string, active bool, now time.Time) (MembershipChange, error) {
	var change MembershipChange
	err := updateWithRetry(r.db, func(txn *badger.Txn) error {
		change = MembershipChange{}
		c, err := getCommunity(txn, communityID)
		if err != nil {
			return err
		}
		change.Community = c
		current, err := getMembership(txn, communityID, userID)
		if err != nil {
			return err
		}

		var membership community.Membership
		switch {
		case current == nil && !active:
			return nil
		case current == nil:
			membership = community.NewMembership(communityID, userID, now)
			change.Changed = true
		case active:
			membership = *current
			change.Changed = membership.Activate(now)
		default:
			membership = *current
			change.Changed = membership.Deactivate(now)
		}
		change.Membership = membership
		if !change.Changed {
			return nil
		}

		if active {
			c.MemberCount++
		} else {
			c.MemberCount = max(0, c.MemberCount-1)
		}
		change.Community = c
		if err := txn.Set(membershipKey(communityID, userID), encodeMembership(membership)); err != nil {
			return err
		}
		if err := txn.Set(userMembershipKey(userID, communityID), nil); err != nil {
			return err
		}
		return txn.Set(communityKey(communityID), encodeCommunity(c))
	})
	return change, err
}

func (r CommunityRepository) ActiveMembershipsOf(userID string) ([]community.Membership, error) {
	var memberships []community.Membership
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := userMembershipPrefix(userID)
		var ids []uuid.UUID
		err := scanPrefix(txn, prefix, func(key, _ []byte) error {
			// A user id containing ':' may share this prefix with another user.
			id, err := uuid.ParseBytes(bytes.TrimPrefix(key, prefix))
			if err != nil {
				return nil
			}
			ids = append(ids, id)
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			membership, err := getMembership(txn, id, userID)
			if err != nil {
				return err
			}
			if membership != nil && membership.IsActive {
				memberships = append(memberships, *membership)
			}
		}
		return nil
	})
	return memberships, err
}

func (r CommunityRepository) ActiveMembers(communityID uuid.UUID) ([]string, error) {
	var members []string
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		members, err = activeMembers(txn, communityID)
		return err
	})
	return members, err
}

// RecountMembers rebuilds the member count from the membership rows.
func (r CommunityRepository) RecountMembers(communityID uuid.UUID) (community.Community, error) {
	var c community.Community
	err := updateWithRetry(r.db, func(txn *badger.Txn) error {
		var err error
		if c, err = getCommunity(txn, communityID); err != nil {
			return err
		}
		members, err := activeMembers(txn, communityID)
		if err != nil {
			return err
		}
		if c.MemberCount == len(members) {
			return nil
		}
		r.log.Warn("Member count drifted",
			"community_id", communityID,
			"stored", c.MemberCount,
			"actual", len(members))
		c.MemberCount = len(members)
		return txn.Set(communityKey(communityID), encodeCommunity(c))
	})
	return c, err
}

func getCommunity(txn *badger.Txn, id uuid.UUID) (community.Community, error) {
	raw, found, err := getValue(txn, communityKey(id))
	if err != nil {
		return community.Community{}, err
	}
	if !found {
		return community.Community{}, fmt.Errorf("%w: %s", errors.ErrCommunityNotFound, id)
	}
	return decodeCommunity(raw)
}

func getMembership(txn *badger.Txn, communityID uuid.UUID, userID string) (*community.Membership, error) {
	raw, found, err := getValue(txn, membershipKey(communityID, userID))
	if err != nil || !found {
		return nil, err
	}
	membership, err := decodeMembership(raw)
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// activeMembers closes its iterator before returning so that it can be used
// inside a read-write transaction.
func activeMembers(txn *badger.Txn, communityID uuid.UUID) ([]string, error) {
	var members []string
	err := scanPrefix(txn, membershipPrefix(communityID), func(_, value []byte) error {
		membership, err := decodeMembership(value)
		if err != nil {
			return err
		}
		if membership.IsActive {
			members = append(members, membership.UserID)
		}
		return nil
	})
	return members, err
}
