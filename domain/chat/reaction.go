package chat

import (
	"chat-engine/errors"
	"fmt"
	"strings"
	"time"
)

type ReactionType string

const (
	ThumbsUp ReactionType = "thumbs_up"
	Heart    ReactionType = "heart"
	Laugh    ReactionType = "laugh"
	Surprise ReactionType = "surprise"
	Sad      ReactionType = "sad"
	Angry    ReactionType = "angry"
)

var reactionTypes = []ReactionType{ThumbsUp, Heart, Laugh, Surprise, Sad, Angry}

func ReactionTypes() []ReactionType {
	return append([]ReactionType(nil), reactionTypes...)
}

func ParseReactionType(raw string) (ReactionType, error) {
	candidate := ReactionType(strings.ToLower(strings.TrimSpace(raw)))
	for _, r := range reactionTypes {
		if r == candidate {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errors.ErrInvalidReaction, raw)
}

// Reaction is unique per (message, user): a new one replaces the previous.
type Reaction struct {
	UserID string
	Type   ReactionType
	At     time.Time
}
