package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomInfo is a persisted room with its active participants.
type RoomInfo struct {
	Room         domain.Room
	Participants []domain.UserID
}

// RoomService manages persisted call rooms. It does not touch live
// signaling membership held by the Registry.
type RoomService struct {
	Rooms RoomRepository
	Users UserRepository
	Now   func() time.Time
}

func NewRoomService(rooms RoomRepository, users UserRepository) *RoomService {
	return &RoomService{Rooms: rooms, Users: users, Now: func() time.Time { return time.Now().UTC() }}
}

// Create opens a room with the creator as its first participant.
func (s *RoomService) Create(ctx context.Context, creatorID domain.UserID) (*RoomInfo, error) {
	if _, err := s.Users.GetUser(ctx, creatorID); err != nil {
		return nil, err
	}
	room, err := domain.NewRoom(creatorID, s.Now())
	if err != nil {
		return nil, err
	}
	if err := s.Rooms.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	if err := s.Rooms.AddParticipant(ctx, room.ID, creatorID); err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.rooms").Stringer("room_id", room.ID).Stringer("creator", creatorID).Msg("room created")
	return &RoomInfo{Room: *room, Participants: []domain.UserID{creatorID}}, nil
}

func (s *RoomService) Get(ctx context.Context, id domain.RoomID) (*RoomInfo, error) {
	room, err := s.Rooms.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	parts, err := s.Rooms.Participants(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RoomInfo{Room: *room, Participants: parts}, nil
}

func (s *RoomService) ListActive(ctx context.Context) ([]RoomInfo, error) {
	rooms, err := s.Rooms.ListActiveRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		parts, err := s.Rooms.Participants(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, RoomInfo{Room: r, Participants: parts})
	}
	return out, nil
}

// Join adds userID to an active room. Joining twice is not an error.
func (s *RoomService) Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	room, err := s.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsActive {
		return domain.ErrRoomAlreadyClosed
	}
	if _, err := s.Users.GetUser(ctx, userID); err != nil {
		return err
	}
	err = s.Rooms.AddParticipant(ctx, roomID, userID)
	if errors.Is(err, domain.ErrParticipantAlreadyInRoom) {
		log.Debug().Str("module", "app.rooms").Stringer("room_id", roomID).Stringer("user_id", userID).Msg("already a participant")
		return nil
	}
	return err
}

// Leave removes userID and closes the room once nobody is left.
func (s *RoomService) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if _, err := s.Rooms.GetRoom(ctx, roomID); err != nil {
		return err
	}
	if err := s.Rooms.RemoveParticipant(ctx, roomID, userID); err != nil {
		return err
	}
	parts, err := s.Rooms.Participants(ctx, roomID)
	if err != nil {
		return err
	}
	if len(parts) > 0 {
		return nil
	}
	err = s.Rooms.CloseRoom(ctx, roomID)
	if errors.Is(err, domain.ErrRoomAlreadyClosed) {
		return nil
	}
	return err
}
