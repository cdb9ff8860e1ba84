package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"no error", nil, http.StatusOK},
		{"unauthenticated", ErrUnauthenticated, http.StatusUnauthorized},
		{"not a participant", ErrNotParticipant, http.StatusForbidden},
		{"not the sender", ErrForbidden, http.StatusForbidden},
		{"unknown community", ErrCommunityNotFound, http.StatusNotFound},
		{"inactive conversation", ErrConversationInactive, http.StatusConflict},
		{"second community", ErrAlreadyInCommunity, http.StatusConflict},
		{"empty content", ErrEmptyContent, http.StatusBadRequest},
		{"bad cursor", ErrInvalidCursor, http.StatusBadRequest},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"bus closed", ErrBusClosed, http.StatusServiceUnavailable},
		{"stream closed", ErrStreamClosed, http.StatusServiceUnavailable},
		{"wrapped", fmt.Errorf("send: %w", ErrContentTooLong), http.StatusBadRequest},
		{"unexpected", fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, MapToHTTPStatus(tt.err))
		})
	}
}
