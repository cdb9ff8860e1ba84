package repositories

import (
	"chat-engine/domain"
	"fmt"

	"github.com/google/uuid"
)

// Key layout. Sequences are zero padded to 20 digits so that the
// lexicographical order of keys is the append order of a topic.
//
//	msg:{topic}:{seq}          message record
//	seq:{topic}                last assigned sequence (big endian uint64)
//	mid:{messageID}            pointer to the message key
//	rx:{messageID}:{userID}    reaction of one user on one message
//	rd:{topic}:{userID}        read watermark (last sequence marked read)
//	conv:{id}                  conversation record
//	convkey:{participants}     conversation id for a normalized participant set
//	uconv:{userID}:{convID}    conversations of a user
//	cmty:{id}                  community record
//	cmtycc:{countryCode}       community id for a country
//	mbr:{communityID}:{userID} membership row
//	umbr:{userID}:{communityID} memberships of a user
const sequenceDigits = 20

func messagePrefix(topic domain.Topic) []byte {
	return []byte(fmt.Sprintf("msg:%s:", topic))
}

func messageKey(topic domain.Topic, sequence uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%0*d", topic, sequenceDigits, sequence))
}

func formatCursor(sequence uint64) string {
	return fmt.Sprintf("%0*d", sequenceDigits, sequence)
}

func sequenceKey(topic domain.Topic) []byte {
	return []byte(fmt.Sprintf("seq:%s", topic))
}

func messageIndexKey(id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("mid:%s", id))
}

func reactionPrefix(messageID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("rx:%s:", messageID))
}

func reactionKey(messageID uuid.UUID, userID string) []byte {
	return []byte(fmt.Sprintf("rx:%s:%s", messageID, userID))
}

func readMarkKey(topic domain.Topic, userID string) []byte {
	return []byte(fmt.Sprintf("rd:%s:%s", topic, userID))
}

func conversationKey(id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("conv:%s", id))
}

func conversationPrefix() []byte {
	return []byte("conv:")
}

func participantSetKey(key string) []byte {
	return []byte(fmt.Sprintf("convkey:%s", key))
}

func userConversationPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("uconv:%s:", userID))
}

func userConversationKey(userID string, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("uconv:%s:%s", userID, id))
}

func communityKey(id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("cmty:%s", id))
}

func communityPrefix() []byte {
	return []byte("cmty:")
}

func countryKey(countryCode string) []byte {
	return []byte(fmt.Sprintf("cmtycc:%s", countryCode))
}

func membershipPrefix(communityID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("mbr:%s:", communityID))
}

func membershipKey(communityID uuid.UUID, userID string) []byte {
	return []byte(fmt.Sprintf("mbr:%s:%s", communityID, userID))
}

func userMembershipPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("umbr:%s:", userID))
}

func userMembershipKey(userID string, communityID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("umbr:%s:%s", userID, communityID))
}
