package domain

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// UserID is the internal numeric identity of a user. Valid ids are positive.
type UserID int64

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseUserID accepts a decimal string and rejects non-positive values.
func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUserID, s)
	}
	return NewUserID(n)
}

func NewUserID(n int64) (UserID, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidUserID, n)
	}
	return UserID(n), nil
}

// RoomID is a room identifier in canonical UUID form.
type RoomID string

func (id RoomID) String() string { return string(id) }

// ParseRoomID normalises any UUID representation uuid.Parse understands.
func ParseRoomID(s string) (RoomID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomID, s)
	}
	return RoomID(u.String()), nil
}

func NewRoomID() RoomID {
	return RoomID(uuid.NewString())
}
