package domain

import "errors"

var (
	ErrInvalidUserID = errors.New("invalid user id")
	ErrInvalidRoomID = errors.New("invalid room id")

	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")

	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyClosed = errors.New("room already closed")

	ErrParticipantAlreadyInRoom = errors.New("participant already in room")
	ErrParticipantNotInRoom     = errors.New("participant not in room")
)
