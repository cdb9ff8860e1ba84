package community

import (
	"time"

	"github.com/google/uuid"
)

// Status is the membership state machine: NONE -> ACTIVE <-> INACTIVE.
type Status string

const (
	StatusNone     Status = "NONE"
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Membership rows are never deleted. JoinedAt records the first join only.
type Membership struct {
	CommunityID uuid.UUID
	UserID      string
	IsActive    bool
	JoinedAt    time.Time
	UpdatedAt   time.Time
}

func NewMembership(communityID uuid.UUID, userID string, now time.Time) Membership {
	return Membership{
		CommunityID: communityID,
		UserID:      userID,
		IsActive:    true,
		JoinedAt:    now,
		UpdatedAt:   now,
	}
}

func (m Membership) Status() Status {
	if m.IsActive {
		return StatusActive
	}
	return StatusInactive
}

// Activate reports whether an INACTIVE -> ACTIVE transition happened.
func (m *Membership) Activate(now time.Time) bool {
	if m.IsActive {
		return false
	}
	m.IsActive = true
	m.UpdatedAt = now
	return true
}

// Deactivate reports whether an ACTIVE -> INACTIVE transition happened.
func (m *Membership) Deactivate(now time.Time) bool {
	if !m.IsActive {
		return false
	}
	m.IsActive = false
	m.UpdatedAt = now
	return true
}
