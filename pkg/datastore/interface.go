package datastore

import (
	"context"
	"time"

	"github.com/NicolasHaas/townhall/pkg/model"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
	Close() error
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore is the town journal: the durable record of town lifecycle and
// of the notification stubs that were fanned out. The live registry never
// reads from it; it exists for history, export and audit.
type DataStore interface {
	TownReadProvider
	TownWriteProvider

	EventReadProvider
	EventWriteProvider
}

// Compile-time checks.
var (
	_ DataProviderFactory = (*ProviderFactory)(nil)
	_ DataProviderFactory = (*MemoryStore)(nil)
)

type TownReadProvider interface {
	// GetTown returns (nil, nil) if the town was never journaled.
	GetTown(id string) (*model.TownRecord, error)
	ListTowns(includeDeleted bool) ([]model.TownRecord, error)
}

type TownWriteProvider interface {
	CreateTown(rec *model.TownRecord) error
	UpdateTown(id, friendlyName string, isPubliclyListed bool) error
	MarkTownDeleted(id string, at time.Time) error
}

type EventReadProvider interface {
	ListEvents(filters model.EventFilters) ([]model.Event, error)
}

type EventWriteProvider interface {
	CreateEvent(event *model.Event) error
}
