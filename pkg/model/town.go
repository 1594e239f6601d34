package model

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	TownDefaultCapacity       = 50
	MaxTownFriendlyNameLength = 64
)

var ErrFriendlyNameEmpty = errors.New("friendly name must not be empty")
var ErrFriendlyNameTooLong = errors.New("friendly name too long")

// TownListing is the public view of a town returned by the town list.
type TownListing struct {
	CoveyTownID      string `json:"coveyTownID"`
	FriendlyName     string `json:"friendlyName"`
	CurrentOccupancy int    `json:"currentOccupancy"`
	MaximumOccupancy int    `json:"maximumOccupancy"`
}

// ValidateFriendlyName checks a friendly name supplied at creation time.
// Updates apply the narrower empty-name rule inside the town store.
func ValidateFriendlyName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrFriendlyNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxTownFriendlyNameLength {
		return ErrFriendlyNameTooLong
	}
	return nil
}
