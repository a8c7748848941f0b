//go:generate go run go.uber.org/mock/mockgen -source=repositories.go -destination=../mocks/mock_repositories.go -package=mocks
package app

import (
	"context"

	"github.com/dkeye/tgcalls/internal/domain"
)

type UserRepository interface {
	// CreateUser assigns the id. Fails with domain.ErrUserAlreadyExists
	// when the telegram id is taken.
	CreateUser(ctx context.Context, u *domain.User) (*domain.User, error)
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	ListOnlineUsers(ctx context.Context) ([]domain.User, error)
	SetPresence(ctx context.Context, id domain.UserID, online bool) error
}

type RoomRepository interface {
	CreateRoom(ctx context.Context, r *domain.Room) error
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	ListActiveRooms(ctx context.Context) ([]domain.Room, error)
	CloseRoom(ctx context.Context, id domain.RoomID) error
	AddParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	RemoveParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	// Participants returns the active members ordered by id.
	Participants(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error)
}
