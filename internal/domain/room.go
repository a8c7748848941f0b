package domain

import (
	"fmt"
	"time"
)

type Room struct {
	ID        RoomID     `json:"id"`
	CreatorID UserID     `json:"creator_id"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	IsActive  bool       `json:"is_active"`
}

func NewRoom(creatorID UserID, now time.Time) (*Room, error) {
	if creatorID <= 0 {
		return nil, fmt.Errorf("%w: creator %d", ErrInvalidUserID, creatorID)
	}
	return &Room{
		ID:        NewRoomID(),
		CreatorID: creatorID,
		CreatedAt: now,
		IsActive:  true,
	}, nil
}

func (r *Room) Close(now time.Time) error {
	if !r.IsActive {
		return fmt.Errorf("%w: %s", ErrRoomAlreadyClosed, r.ID)
	}
	r.IsActive = false
	r.ClosedAt = &now
	return nil
}

// Duration is zero while the room is open.
func (r *Room) Duration() time.Duration {
	if r.ClosedAt == nil {
		return 0
	}
	return r.ClosedAt.Sub(r.CreatedAt)
}

// Participant is the persisted membership record of a user in a room.
// No transport or lifecycle logic here.
type Participant struct {
	RoomID   RoomID     `json:"room_id"`
	UserID   UserID     `json:"user_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

func (p *Participant) Active() bool { return p.LeftAt == nil }
