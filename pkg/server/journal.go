package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/NicolasHaas/townhall/pkg/crypto"
	"github.com/NicolasHaas/townhall/pkg/datastore"
	"github.com/NicolasHaas/townhall/pkg/logging"
	"github.com/NicolasHaas/townhall/pkg/model"
	"github.com/NicolasHaas/townhall/pkg/town"
)

// Journal records town lifecycle and fanned-out events in the datastore.
// It observes the registry and registers itself as a listener on every
// town it sees created. Write failures are logged, never returned: the
// registry does not wait on the journal.
type Journal struct {
	town.NopObserver

	ds  datastore.DataProviderFactory
	now func() time.Time
	log *slog.Logger
}

// NewJournal creates a journal over ds.
func NewJournal(ds datastore.DataProviderFactory) *Journal {
	return &Journal{
		ds:  ds,
		now: func() time.Time { return time.Now().UTC() },
		log: logging.For("journal"),
	}
}

// Store returns the underlying datastore.
func (j *Journal) Store() datastore.DataProviderFactory {
	return j.ds
}

// TownCreated journals the town with a digest of its update password and
// starts recording its events.
func (j *Journal) TownCreated(c *town.Controller) {
	digest, err := crypto.DigestPassword(c.UpdatePassword())
	if err != nil {
		j.log.Error("digest town password", logging.Town(c.ID()), logging.Err(err))
		return
	}
	rec := &model.TownRecord{
		ID:               c.ID(),
		FriendlyName:     c.FriendlyName(),
		IsPubliclyListed: c.IsPubliclyListed(),
		PasswordDigest:   digest,
		CreatedAt:        j.now(),
	}
	err = j.inTx(func(tx datastore.DataStore) error {
		if err := tx.CreateTown(rec); err != nil {
			return err
		}
		return tx.CreateEvent(&model.Event{TownID: rec.ID, Kind: model.EventTownCreated, Content: rec.FriendlyName, CreatedAt: rec.CreatedAt})
	})
	if err != nil {
		j.log.Error("journal town created", logging.Town(c.ID()), logging.Err(err))
		return
	}
	c.AddListener(&journalListener{journal: j, townID: c.ID()})
}

func (j *Journal) TownUpdated(c *town.Controller) {
	name := c.FriendlyName()
	err := j.inTx(func(tx datastore.DataStore) error {
		if err := tx.UpdateTown(c.ID(), name, c.IsPubliclyListed()); err != nil {
			return err
		}
		return tx.CreateEvent(&model.Event{TownID: c.ID(), Kind: model.EventTownUpdated, Content: name, CreatedAt: j.now()})
	})
	if err != nil {
		j.log.Error("journal town updated", logging.Town(c.ID()), logging.Err(err))
	}
}

func (j *Journal) TownDeleted(c *town.Controller) {
	at := j.now()
	err := j.inTx(func(tx datastore.DataStore) error {
		if err := tx.MarkTownDeleted(c.ID(), at); err != nil {
			return err
		}
		return tx.CreateEvent(&model.Event{TownID: c.ID(), Kind: model.EventTownDeleted, CreatedAt: at})
	})
	if err != nil {
		j.log.Error("journal town deleted", logging.Town(c.ID()), logging.Err(err))
	}
}

// Notifications returns the most recent notification stubs of a town,
// newest first. It returns (nil, nil) for a town that was never journaled.
func (j *Journal) Notifications(townID string, limit int64) ([]model.Event, error) {
	rec, err := j.ds.NonTx().GetTown(townID)
	if err != nil {
		return nil, fmt.Errorf("journal: notifications: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	kind := model.EventMessageNotify
	events, err := j.ds.NonTx().ListEvents(model.EventFilters{TownID: &townID, Kind: &kind, Limit: &limit})
	if err != nil {
		return nil, fmt.Errorf("journal: notifications: %w", err)
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

func (j *Journal) record(e model.Event) {
	e.CreatedAt = j.now()
	if err := j.ds.NonTx().CreateEvent(&e); err != nil {
		j.log.Error("journal event", logging.Town(e.TownID), "kind", e.Kind.String(), logging.Err(err))
	}
}

func (j *Journal) inTx(fn func(tx datastore.DataStore) error) error {
	tx, err := j.ds.Tx(context.Background())
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// journalListener records one town's fanout. Only stubs reach it, so the
// journal never holds chat content.
type journalListener struct {
	journal *Journal
	townID  string
}

var _ town.Listener = (*journalListener)(nil)

func (l *journalListener) OnPlayerJoined(p model.Player) {
	l.journal.record(model.Event{TownID: l.townID, Kind: model.EventPlayerJoined, ReceiverID: p.ID, Content: p.UserName})
}

// Moves are too frequent to journal.
func (l *journalListener) OnPlayerMoved(model.Player) {}

func (l *journalListener) OnPlayerDisconnected(p model.Player) {
	l.journal.record(model.Event{TownID: l.townID, Kind: model.EventPlayerDisconnected, ReceiverID: p.ID, Content: p.UserName})
}

func (l *journalListener) OnTownDestroyed() {
	l.journal.record(model.Event{TownID: l.townID, Kind: model.EventTownDestroyed})
}

func (l *journalListener) OnMessageNotify(req model.NotificationRequest) {
	l.journal.record(model.Event{TownID: l.townID, Kind: model.EventMessageNotify, ReceiverID: req.ReceiverID, Content: req.Content})
}
