package services

import (
	"chat-engine/domain"
	"chat-engine/domain/event"
	"chat-engine/errors"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCommunityService_AutoAssign_Race_Creates_One_Community_Per_Country(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	// Given two users detected in the US with no existing US community
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 2)
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := f.community.AutoAssign(ctx, user, "US")
			if err != nil {
				t.Errorf("auto assign %s: %v", user, err)
				return
			}
			ids[i] = c.ID
		}()
	}
	wg.Wait()

	// Then exactly one US community exists with both users in it
	req.Equal(ids[0], ids[1])
	communities, err := f.community.List(ctx)
	req.NoError(err)
	req.Len(communities, 1)
	req.Equal("US", communities[0].CountryCode)
	req.Equal(2, communities[0].MemberCount)
}

func TestCommunityService_AutoAssign_Uses_Detector_And_Keeps_Existing_Membership(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.detector.EXPECT().DetectCountry(ctx).Return(domain.Country{Code: "FR", Name: "France"}, nil).Times(1)

	// When the country is not given it is detected
	france, err := f.community.AutoAssign(ctx, "alice", "")
	req.NoError(err)
	req.Equal("FR", france.CountryCode)

	// Then a later assignment never moves the user elsewhere
	again, err := f.community.AutoAssign(ctx, "alice", "DE")
	req.NoError(err)
	req.Equal(france.ID, again.ID)
	_, err = f.communities.GetByCountry("DE")
	req.ErrorIs(err, errors.ErrCommunityNotFound)
}

func TestCommunityService_AutoAssign_Fails_When_Country_Is_Unknown(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.detector.EXPECT().DetectCountry(ctx).Return(domain.Country{}, fmt.Errorf("no header"))

	_, err := f.community.AutoAssign(ctx, "alice", "")
	req.ErrorIs(err, errors.ErrCountryNotDetected)

	_, err = f.community.AutoAssign(ctx, "alice", "Atlantis")
	req.ErrorIs(err, errors.ErrInvalidCountry)
}

func TestCommunityService_Join_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.community.ResolveCommunityForCountry(ctx, "us")
	req.NoError(err)

	// When joining twice
	_, err = f.community.Join(ctx, c.ID, "alice")
	req.NoError(err)
	_, err = f.community.Join(ctx, c.ID, "alice")
	req.NoError(err)

	// Then the member count moved once and one event was published
	c, err = f.community.Get(ctx, c.ID)
	req.NoError(err)
	req.Equal(1, c.MemberCount)
	req.Len(f.bus.ofType(event.MembershipChangedType), 1)
}

func TestCommunityService_Leave_Then_Rejoin_Reuses_The_Membership(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.community.ResolveCommunityForCountry(ctx, "FR")
	req.NoError(err)

	first, err := f.community.Join(ctx, c.ID, "alice")
	req.NoError(err)
	time.Sleep(5 * time.Millisecond)

	// When leaving twice then joining again
	left, err := f.community.Leave(ctx, c.ID, "alice")
	req.NoError(err)
	req.False(left.IsActive)
	_, err = f.community.Leave(ctx, c.ID, "alice")
	req.NoError(err)
	rejoined, err := f.community.Join(ctx, c.ID, "alice")
	req.NoError(err)

	// Then the row is active again and keeps its first join date
	req.True(rejoined.IsActive)
	req.True(first.JoinedAt.Equal(rejoined.JoinedAt))
	c, err = f.community.Get(ctx, c.ID)
	req.NoError(err)
	req.Equal(1, c.MemberCount)
	members, err := f.community.Members(ctx, c.ID)
	req.NoError(err)
	req.Equal([]string{"alice"}, members)

	// And only real transitions were published
	changes := f.bus.ofType(event.MembershipChangedType)
	req.Len(changes, 3)
	req.Equal([]int{1, 0, 1}, []int{
		changes[0].(event.MembershipChanged).MemberCount,
		changes[1].(event.MembershipChanged).MemberCount,
		changes[2].(event.MembershipChanged).MemberCount,
	})
}

func TestCommunityService_Exclusive_Policy_Refuses_A_Second_Community(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, withExclusiveCommunity())
	ctx := context.Background()
	us, err := f.community.ResolveCommunityForCountry(ctx, "US")
	req.NoError(err)
	fr, err := f.community.ResolveCommunityForCountry(ctx, "FR")
	req.NoError(err)

	_, err = f.community.Join(ctx, us.ID, "alice")
	req.NoError(err)
	_, err = f.community.Join(ctx, fr.ID, "alice")
	req.ErrorIs(err, errors.ErrAlreadyInCommunity)

	// Leaving first makes room for the other one
	_, err = f.community.Leave(ctx, us.ID, "alice")
	req.NoError(err)
	_, err = f.community.Join(ctx, fr.ID, "alice")
	req.NoError(err)
}

func TestCommunityService_Edit_Keeps_Id_And_Position(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.community.AutoAssign(ctx, "carol", "GB")
	req.NoError(err)

	first, err := f.community.Send(ctx, c.ID, "carol", "helo")
	req.NoError(err)
	_, err = f.community.Send(ctx, c.ID, "carol", "second")
	req.NoError(err)

	// When carol fixes her first message
	edited, err := f.community.Edit(ctx, first.ID, "carol", "hello")
	req.NoError(err)

	// Then it is flagged edited but keeps its id and sequence
	req.True(edited.Edited)
	req.Equal(first.ID, edited.ID)
	req.Equal(first.Sequence, edited.Sequence)
	page, _, err := f.community.Messages(ctx, c.ID, "carol", nil)
	req.NoError(err)
	req.Equal([]string{"hello", "second"}, contents(page))
	req.Len(f.bus.ofType(event.MessageEditedType), 1)
}

func TestCommunityService_Only_The_Sender_Edits_Or_Deletes(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.community.AutoAssign(ctx, "carol", "GB")
	req.NoError(err)
	_, err = f.community.AutoAssign(ctx, "dave", "GB")
	req.NoError(err)
	message, err := f.community.Send(ctx, c.ID, "carol", "mine")
	req.NoError(err)

	_, err = f.community.Edit(ctx, message.ID, "dave", "yours now")
	req.ErrorIs(err, errors.ErrForbidden)
	req.ErrorIs(f.community.Delete(ctx, message.ID, "dave"), errors.ErrForbidden)
}

func TestCommunityService_Delete_Tombstones_Without_Reusing_Sequence(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.community.AutoAssign(ctx, "carol", "GB")
	req.NoError(err)
	removed, err := f.community.Send(ctx, c.ID, "carol", "oops")
	req.NoError(err)

	// When the message is deleted
	req.NoError(f.community.Delete(ctx, removed.ID, "carol"))

	// Then it is no longer listed, cannot be deleted twice and its sequence stays taken
	page, _, err := f.community.Messages(ctx, c.ID, "carol", nil)
	req.NoError(err)
	req.Empty(page)
	req.ErrorIs(f.community.Delete(ctx, removed.ID, "carol"), errors.ErrMessageNotFound)
	next, err := f.community.Send(ctx, c.ID, "carol", "again")
	req.NoError(err)
	req.Equal(removed.Sequence+1, next.Sequence)

	deleted := f.bus.ofType(event.MessageDeletedType)
	req.Len(deleted, 1)
	req.Equal(removed.ID, deleted[0].(event.MessageDeleted).MessageID)
}

func TestCommunityService_Non_Member_Cannot_Read_Or_Send(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.community.ResolveCommunityForCountry(ctx, "JP")
	req.NoError(err)

	_, err = f.community.Send(ctx, c.ID, "alice", "hello")
	req.ErrorIs(err, errors.ErrNotMember)
	_, _, err = f.community.Messages(ctx, c.ID, "alice", nil)
	req.ErrorIs(err, errors.ErrNotMember)

	_, err = f.community.Send(ctx, uuid.New(), "alice", "hello")
	req.ErrorIs(err, errors.ErrCommunityNotFound)
}

func TestCommunityService_Edit_Refuses_Conversation_Messages(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	id := mustID(t, f.conversation(t, "alice", "bob"))
	message, err := f.chat.Send(ctx, id, "alice", "direct")
	req.NoError(err)

	_, err = f.community.Edit(ctx, message.ID, "alice", "edited")
	req.ErrorIs(err, errors.ErrNotCommunityMessage)
}

func TestCommunityService_ReconcileMemberCount(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.community.AutoAssign(ctx, "alice", "IT")
	req.NoError(err)
	_, err = f.community.Join(ctx, c.ID, "bob")
	req.NoError(err)

	reconciled, err := f.community.ReconcileMemberCount(ctx, c.ID)
	req.NoError(err)
	req.Equal(2, reconciled.MemberCount)
}
