package domain

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Validation errors returned by User.Validate.
var (
	ErrEmptyUserID       = errors.New("user ID cannot be empty")
	ErrEmptyUsername     = errors.New("username cannot be empty")
	ErrInvalidUsername   = errors.New("username may only contain letters, digits, '.', '-' and '_'")
	ErrPasswordTooShort  = errors.New("password must be at least 8 characters long")
	ErrPasswordTooLong   = errors.New("password must be at most 72 characters long")
	ErrEmptyPasswordHash = errors.New("password cannot be empty")
)

// Password length bounds. 72 is the bcrypt input limit.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// User is an account allowed to log into the web application and the
// dashboard when auth is enabled.
type User struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	Password       string    `json:"-"` // plaintext, only set while creating
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewUser builds a validated user with a fresh ID. The caller hashes the
// password before storing the user.
func NewUser(username, password string) (*User, error) {
	u := &User{
		ID:        uuid.New(),
		Username:  strings.TrimSpace(username),
		Password:  password,
		CreatedAt: time.Now().UTC(),
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// Validate checks the user fields.
func (u *User) Validate() error {
	if u.ID == uuid.Nil {
		return ErrEmptyUserID
	}
	if u.Username == "" {
		return ErrEmptyUsername
	}
	for _, r := range u.Username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-' && r != '_' {
			return ErrInvalidUsername
		}
	}

	if u.Password == "" {
		if u.HashedPassword == "" {
			return ErrEmptyPasswordHash
		}
		return nil
	}
	switch {
	case len(u.Password) < MinPasswordLength:
		return ErrPasswordTooShort
	case len(u.Password) > MaxPasswordLength:
		return ErrPasswordTooLong
	}
	return nil
}
