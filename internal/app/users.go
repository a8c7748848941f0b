package app

import (
	"context"
	"errors"

	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/rs/zerolog/log"
)

// TelegramProfile is the user data sent by the Mini-App on launch.
type TelegramProfile struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	PhotoURL   string
}

type UserService struct {
	Users UserRepository
}

func NewUserService(users UserRepository) *UserService {
	return &UserService{Users: users}
}

// Authenticate returns the user bound to the telegram id, creating it on
// first sight. created reports which of the two happened.
func (s *UserService) Authenticate(ctx context.Context, p TelegramProfile) (u *domain.User, created bool, err error) {
	u, err = s.Users.GetUserByTelegramID(ctx, p.TelegramID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, false, err
	}

	candidate, err := domain.NewUser(p.TelegramID, p.FirstName, p.LastName, p.Username, p.PhotoURL)
	if err != nil {
		return nil, false, err
	}
	u, err = s.Users.CreateUser(ctx, candidate)
	if errors.Is(err, domain.ErrUserAlreadyExists) {
		// lost a race with a concurrent first login
		u, err = s.Users.GetUserByTelegramID(ctx, p.TelegramID)
		return u, false, err
	}
	if err != nil {
		return nil, false, err
	}
	log.Info().Str("module", "app.users").Stringer("user_id", u.ID).Int64("telegram_id", u.TelegramID).Msg("new user")
	return u, true, nil
}

func (s *UserService) Get(ctx context.Context, id domain.UserID) (*domain.User, error) {
	return s.Users.GetUser(ctx, id)
}

func (s *UserService) ListOnline(ctx context.Context) ([]domain.User, error) {
	return s.Users.ListOnlineUsers(ctx)
}
