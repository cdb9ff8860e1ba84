package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	// Authorization and ownership: surfaced to the caller, never retried
	ErrNotParticipant  = fmt.Errorf("user is not a participant of the conversation")
	ErrNotMember       = fmt.Errorf("user is not an active member of the community")
	ErrInvalidSender   = fmt.Errorf("sender is not an active participant of the topic")
	ErrForbidden       = fmt.Errorf("only the original sender can modify this message")
	ErrUnauthenticated = fmt.Errorf("missing or invalid credentials")

	// Absorbed internally
	ErrDuplicateCommunity    = fmt.Errorf("a community already exists for this country")
	ErrDuplicateConversation = fmt.Errorf("a conversation already exists for this participant set")
	ErrStaleTypingSignal     = fmt.Errorf("stale typing signal")
	ErrTransientDelivery     = fmt.Errorf("transient delivery failure")

	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrConversationInactive = fmt.Errorf("conversation is inactive")
	ErrCommunityNotFound    = fmt.Errorf("community not found")
	ErrMessageNotFound      = fmt.Errorf("message not found")
	ErrUserNotFound         = fmt.Errorf("user not found")
	ErrCountryNotDetected   = fmt.Errorf("country could not be detected")

	ErrTooFewParticipants  = fmt.Errorf("a conversation needs at least two distinct participants")
	ErrEmptyContent        = fmt.Errorf("message content is empty")
	ErrContentTooLong      = fmt.Errorf("message content is too long")
	ErrInvalidReaction     = fmt.Errorf("unknown reaction")
	ErrInvalidCountry      = fmt.Errorf("invalid country code")
	ErrInvalidTopic        = fmt.Errorf("invalid topic")
	ErrInvalidCursor       = fmt.Errorf("invalid cursor")
	ErrNotCommunityMessage = fmt.Errorf("only community messages can be edited or deleted")
	ErrAlreadyInCommunity  = fmt.Errorf("user already belongs to another community")
	ErrRateLimited         = fmt.Errorf("too many requests")

	ErrBusClosed    = fmt.Errorf("event bus is closed")
	ErrStreamClosed = fmt.Errorf("stream is closed")
)

// MapToHTTPStatus translates the error taxonomy into an HTTP status code.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotParticipant),
		errors.Is(err, ErrNotMember),
		errors.Is(err, ErrInvalidSender),
		errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConversationNotFound),
		errors.Is(err, ErrCommunityNotFound),
		errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConversationInactive),
		errors.Is(err, ErrAlreadyInCommunity):
		return http.StatusConflict
	case errors.Is(err, ErrTooFewParticipants),
		errors.Is(err, ErrEmptyContent),
		errors.Is(err, ErrContentTooLong),
		errors.Is(err, ErrInvalidReaction),
		errors.Is(err, ErrInvalidCountry),
		errors.Is(err, ErrInvalidTopic),
		errors.Is(err, ErrInvalidCursor),
		errors.Is(err, ErrNotCommunityMessage),
		errors.Is(err, ErrCountryNotDetected):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrBusClosed),
		errors.Is(err, ErrStreamClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
