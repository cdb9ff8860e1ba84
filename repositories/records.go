package repositories

import (
	"chat-engine/domain"
	"chat-engine/domain/chat"
	"chat-engine/domain/community"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

func encodeMessage(m chat.Message) []byte {
	var w recordWriter
	w.string(1, m.ID.String())
	w.string(2, string(m.Topic))
	w.uint(3, m.Sequence)
	w.string(4, m.SenderID)
	w.string(5, m.Content)
	w.string(6, m.Lang)
	w.time(7, m.CreatedAt)
	w.time(8, m.UpdatedAt)
	w.bool(9, m.Edited)
	w.bool(10, m.Deleted)
	w.strings(11, m.ReadBy)
	return w.buf
}

func decodeMessage(b []byte) (chat.Message, error) {
	var m chat.Message
	err := readRecord(b, func(f field) error {
		switch f.Num {
		case 1:
			id, err := uuid.Parse(f.String())
			if err != nil {
				return fmt.Errorf("message id: %w", err)
			}
			m.ID = id
		case 2:
			m.Topic = domain.Topic(f.String())
		case 3:
			m.Sequence = f.Uint()
		case 4:
			m.SenderID = f.String()
		case 5:
			m.Content = f.String()
		case 6:
			m.Lang = f.String()
		case 7:
			m.CreatedAt = f.Time()
		case 8:
			m.UpdatedAt = f.Time()
		case 9:
			m.Edited = f.Bool()
		case 10:
			m.Deleted = f.Bool()
		case 11:
			m.ReadBy = append(m.ReadBy, f.String())
		}
		return nil
	})
	return m, err
}

func encodeReaction(r chat.Reaction) []byte {
	var w recordWriter
	w.string(1, r.UserID)
	w.string(2, string(r.Type))
	w.time(3, r.At)
	return w.buf
}

func decodeReaction(b []byte) (chat.Reaction, error) {
	var r chat.Reaction
	err := readRecord(b, func(f field) error {
		switch f.Num {
		case 1:
			r.UserID = f.String()
		case 2:
			r.Type = chat.ReactionType(f.String())
		case 3:
			r.At = f.Time()
		}
		return nil
	})
	return r, err
}

// messagePointer locates a message from its id.
type messagePointer struct {
	Topic    domain.Topic
	Sequence uint64
}

func encodePointer(p messagePointer) []byte {
	var w recordWriter
	w.string(1, string(p.Topic))
	w.uint(2, p.Sequence)
	return w.buf
}

func decodePointer(b []byte) (messagePointer, error) {
	var p messagePointer
	err := readRecord(b, func(f field) error {
		switch f.Num {
		case 1:
			p.Topic = domain.Topic(f.String())
		case 2:
			p.Sequence = f.Uint()
		}
		return nil
	})
	return p, err
}

func encodeSequence(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeSequence(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("corrupted sequence of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func encodeConversation(c chat.Conversation) []byte {
	var w recordWriter
	w.string(1, c.ID.String())
	w.strings(2, c.ParticipantIDs)
	w.time(3, c.CreatedAt)
	w.time(4, c.UpdatedAt)
	w.bool(5, c.IsActive)
	for _, p := range c.ParticipantIDs {
		count := c.UnreadCount[p]
		w.message(6, func(inner *recordWriter) {
			inner.string(1, p)
			inner.uint(2, uint64(count))
		})
	}
	return w.buf
}

func decodeConversation(b []byte) (chat.Conversation, error) {
	c := chat.Conversation{UnreadCount: make(map[string]int)}
	err := readRecord(b, func(f field) error {
		switch f.Num {
		case 1:
			id, err := uuid.Parse(f.String())
			if err != nil {
				return fmt.Errorf("conversation id: %w", err)
			}
			c.ID = id
		case 2:
			c.ParticipantIDs = append(c.ParticipantIDs, f.String())
		case 3:
			c.CreatedAt = f.Time()
		case 4:
			c.UpdatedAt = f.Time()
		case 5:
			c.IsActive = f.Bool()
		case 6:
			var userID string
			var count uint64
			err := readRecord(f.Bytes, func(inner field) error {
				switch inner.Num {
				case 1:
					userID = inner.String()
				case 2:
					count = inner.Uint()
				}
				return nil
			})
			if err != nil {
				return err
			}
			c.UnreadCount[userID] = int(count)
		}
		return nil
	})
	return c, err
}

func encodeCommunity(c community.Community) []byte {
	var w recordWriter
	w.string(1, c.ID.String())
	w.string(2, c.Name)
	w.string(3, c.CountryCode)
	w.string(4, c.Description)
	w.uint(5, uint64(c.MemberCount))
	w.time(6, c.CreatedAt)
	return w.buf
}

func decodeCommunity(b []byte) (community.Community, error) {
	var c community.Community
	err := readRecord(b, func(f field) error {
		switch f.Num {
		case 1:
			id, err := uuid.Parse(f.String())
			if err != nil {
				return fmt.Errorf("community id: %w", err)
			}
			c.ID = id
		case 2:
			c.Name = f.String()
		case 3:
			c.CountryCode = f.String()
		case 4:
			c.Description = f.String()
		case 5:
			c.MemberCount = int(f.Uint())
		case 6:
			c.CreatedAt = f.Time()
		}
		return nil
	})
	return c, err
}

func encodeMembership(m community.Membership) []byte {
	var w recordWriter
	w.string(1, m.CommunityID.String())
	w.string(2, m.UserID)
	w.bool(3, m.IsActive)
	w.time(4, m.JoinedAt)
	w.time(5, m.UpdatedAt)
	return w.buf
}

func decodeMembership(b []byte) (community.Membership, error) {
	var m community.Membership
	err := readRecord(b, func(f field) error {
		switch f.Num {
		case 1:
			id, err := uuid.Parse(f.String())
			if err != nil {
				return fmt.Errorf("membership community id: %w", err)
			}
			m.CommunityID = id
		case 2:
			m.UserID = f.String()
		case 3:
			m.IsActive = f.Bool()
		case 4:
			m.JoinedAt = f.Time()
		case 5:
			m.UpdatedAt = f.Time()
		}
		return nil
	})
	return m, err
}
