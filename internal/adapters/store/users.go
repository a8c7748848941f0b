package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/rs/zerolog/log"
)

func userKey(id domain.UserID) string { return "user:" + id.String() }

func telegramKey(tgID int64) string { return "user_tg:" + strconv.FormatInt(tgID, 10) }

func (s *Store) CreateUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := s.userSeq.Next()
	if err != nil {
		return nil, fmt.Errorf("next user id: %w", err)
	}
	created := *u
	created.ID = domain.UserID(n + 1)
	if created.CreatedAt.IsZero() {
		created.CreatedAt = s.now()
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		tk := telegramKey(created.TelegramID)
		if _, err := txn.Get([]byte(tk)); err == nil {
			return fmt.Errorf("%w: telegram id %d", domain.ErrUserAlreadyExists, created.TelegramID)
		} else if !notFound(err) {
			return err
		}
		if err := txn.Set([]byte(tk), []byte(created.ID.String())); err != nil {
			return err
		}
		return setValue(txn, userKey(created.ID), &created)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("module", "store").Stringer("user_id", created.ID).Int64("telegram_id", created.TelegramID).Msg("user created")
	return &created, nil
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var u domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getValue(txn, userKey(id), &u)
	})
	if notFound(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByTelegramID(ctx context.Context, tgID int64) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var u domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(telegramKey(tgID)))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id, err := domain.ParseUserID(string(raw))
		if err != nil {
			return err
		}
		return getValue(txn, userKey(id), &u)
	})
	if notFound(err) {
		return nil, fmt.Errorf("%w: telegram id %d", domain.ErrUserNotFound, tgID)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListOnlineUsers(ctx context.Context) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.User, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, "user:", func(u *domain.User) {
			if u.IsOnline {
				out = append(out, *u)
			}
		})
	})
	return out, err
}

func (s *Store) SetPresence(ctx context.Context, id domain.UserID, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		var u domain.User
		if err := getValue(txn, userKey(id), &u); err != nil {
			return err
		}
		u.IsOnline = online
		return setValue(txn, userKey(id), &u)
	})
	if notFound(err) {
		return fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	}
	return err
}
