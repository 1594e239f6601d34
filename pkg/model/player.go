package model

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const MaxUserNameLength = 32

var (
	ErrUserNameEmpty        = errors.New("user name must not be empty")
	ErrUserNameTooLong      = errors.New("user name too long")
	ErrUserNameInvalidChars = errors.New("user name contains control characters")
)

// Location is a player's position inside a town map.
type Location struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation string  `json:"rotation"`
	Moving   bool    `json:"moving"`
}

// Player is a member of a town roster (in-memory only).
type Player struct {
	ID       string   `json:"_id"`
	UserName string   `json:"_userName"`
	Location Location `json:"location"`
}

// ValidateUserName rejects empty, oversized, or control-character names.
func ValidateUserName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrUserNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxUserNameLength {
		return ErrUserNameTooLong
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrUserNameInvalidChars
		}
	}
	return nil
}
