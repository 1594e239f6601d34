// Package model defines the core domain types for townhall.
package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTownIDEmpty         = errors.New("town id must not be empty")
	ErrPasswordDigestEmpty = errors.New("password digest must not be empty")
	ErrInvalidEventKind    = errors.New("invalid event kind")
)

// EventKind classifies a journaled town event.
type EventKind int

const (
	EventTownCreated EventKind = iota
	EventTownUpdated
	EventTownDeleted
	EventTownDestroyed
	EventMessageNotify
	EventPlayerJoined
	EventPlayerDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventTownCreated:
		return "town_created"
	case EventTownUpdated:
		return "town_updated"
	case EventTownDeleted:
		return "town_deleted"
	case EventTownDestroyed:
		return "town_destroyed"
	case EventMessageNotify:
		return "message_notify"
	case EventPlayerJoined:
		return "player_joined"
	case EventPlayerDisconnected:
		return "player_disconnected"
	default:
		return "unknown"
	}
}

// Valid returns true if the kind is one of the known event kinds.
func (k EventKind) Valid() bool {
	return k >= EventTownCreated && k <= EventPlayerDisconnected
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	for c := EventTownCreated; c <= EventPlayerDisconnected; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidEventKind, text)
}

// TownRecord is the persisted description of a town. Update passwords are
// only ever stored as a salted digest.
type TownRecord struct {
	ID               string    `json:"id"`
	FriendlyName     string    `json:"friendly_name"`
	IsPubliclyListed bool      `json:"is_publicly_listed"`
	PasswordDigest   string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	DeletedAt        time.Time `json:"deleted_at"` // zero = still live
}

// IsDeleted returns true once the town has been removed from the registry.
func (r *TownRecord) IsDeleted() bool {
	return !r.DeletedAt.IsZero()
}

// Validate checks the fields required to journal a town.
func (r *TownRecord) Validate() error {
	if r.ID == "" {
		return ErrTownIDEmpty
	}
	if err := ValidateFriendlyName(r.FriendlyName); err != nil {
		return err
	}
	if r.PasswordDigest == "" {
		return ErrPasswordDigestEmpty
	}
	return nil
}

// Event is one journaled occurrence in a town.
type Event struct {
	ID         int64     `json:"id"`
	TownID     string    `json:"town_id"`
	Kind       EventKind `json:"kind"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	Content    string    `json:"content,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (e *Event) Validate() error {
	if e.TownID == "" {
		return ErrTownIDEmpty
	}
	if !e.Kind.Valid() {
		return ErrInvalidEventKind
	}
	return nil
}

// EventFilters narrows a journal query.
type EventFilters struct {
	TownID *string
	Kind   *EventKind
	Limit  *int64
}
