// Package domain contains entities and their invariants, no transport or storage.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	MaxNameLen     = 255
	MaxPhotoURLLen = 512
)

var validate = validator.New()

type User struct {
	ID         UserID    `json:"id"`
	TelegramID int64     `json:"telegram_id" validate:"gt=0"`
	Username   string    `json:"username,omitempty" validate:"max=255"`
	FirstName  string    `json:"first_name" validate:"required,max=255"`
	LastName   string    `json:"last_name,omitempty" validate:"max=255"`
	PhotoURL   string    `json:"photo_url,omitempty" validate:"max=512"`
	IsOnline   bool      `json:"is_online"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewUser builds a not-yet-persisted user and checks its invariants.
func NewUser(telegramID int64, firstName, lastName, username, photoURL string) (*User, error) {
	u := &User{
		TelegramID: telegramID,
		Username:   username,
		FirstName:  strings.TrimSpace(firstName),
		LastName:   lastName,
		PhotoURL:   photoURL,
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) Validate() error {
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	return nil
}

func (u *User) FullName() string {
	if u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.FirstName
}

// DisplayName prefers the Telegram handle.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FullName()
}
