package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/rs/zerolog/log"
)

func roomKey(id domain.RoomID) string { return "room:" + id.String() }

func participantPrefix(id domain.RoomID) string { return "part:" + id.String() + ":" }

func participantKey(roomID domain.RoomID, userID domain.UserID) string {
	return participantPrefix(roomID) + userID.String()
}

func (s *Store) CreateRoom(ctx context.Context, r *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setValue(txn, roomKey(r.ID), r)
	})
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r domain.Room
	err := s.db.View(func(txn *badger.Txn) error {
		return getValue(txn, roomKey(id), &r)
	})
	if notFound(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListActiveRooms(ctx context.Context) ([]domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Room, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, "room:", func(r *domain.Room) {
			if r.IsActive {
				out = append(out, *r)
			}
		})
	})
	return out, err
}

func (s *Store) CloseRoom(ctx context.Context, id domain.RoomID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		var r domain.Room
		if err := getValue(txn, roomKey(id), &r); err != nil {
			return err
		}
		if err := r.Close(s.now()); err != nil {
			return err
		}
		return setValue(txn, roomKey(id), &r)
	})
	if notFound(err) {
		return fmt.Errorf("%w: %s", domain.ErrRoomNotFound, id)
	}
	if err == nil {
		log.Info().Str("module", "store").Stringer("room_id", id).Msg("room closed")
	}
	return err
}

// AddParticipant records an active membership. A user who left before
// gets a fresh record.
func (s *Store) AddParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := participantKey(roomID, userID)
		var p domain.Participant
		err := getValue(txn, key, &p)
		switch {
		case err == nil && p.Active():
			return fmt.Errorf("%w: user %s room %s", domain.ErrParticipantAlreadyInRoom, userID, roomID)
		case err != nil && !notFound(err):
			return err
		}
		return setValue(txn, key, &domain.Participant{RoomID: roomID, UserID: userID, JoinedAt: s.now()})
	})
}

func (s *Store) RemoveParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := participantKey(roomID, userID)
		var p domain.Participant
		err := getValue(txn, key, &p)
		if notFound(err) || (err == nil && !p.Active()) {
			return fmt.Errorf("%w: user %s room %s", domain.ErrParticipantNotInRoom, userID, roomID)
		}
		if err != nil {
			return err
		}
		now := s.now()
		p.LeftAt = &now
		return setValue(txn, key, &p)
	})
}

func (s *Store) Participants(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.UserID, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, participantPrefix(roomID), func(p *domain.Participant) {
			if p.Active() {
				out = append(out, p.UserID)
			}
		})
	})
	slices.Sort(out)
	return out, err
}
