package datastore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/NicolasHaas/townhall/pkg/model"
)

// MemoryStore is an in-memory journal for tests and for running without a
// database file. It mirrors the SQLite behavior for validation, ordering
// and not-found handling.
type MemoryStore struct {
	mu    sync.RWMutex
	now   func() time.Time
	state memoryState
}

type memoryState struct {
	nextEventID int64
	towns       map[string]*model.TownRecord
	townOrder   []string
	events      []model.Event
}

func (st memoryState) clone() memoryState {
	towns := make(map[string]*model.TownRecord, len(st.towns))
	for id, rec := range st.towns {
		cp := *rec
		towns[id] = &cp
	}
	return memoryState{
		nextEventID: st.nextEventID,
		towns:       towns,
		townOrder:   append([]string(nil), st.townOrder...),
		events:      append([]model.Event(nil), st.events...),
	}
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now: now,
		state: memoryState{
			nextEventID: 1,
			towns:       make(map[string]*model.TownRecord),
		},
	}
}

func (s *MemoryStore) NonTx() DataStore {
	return s
}

// Tx stages writes on a copy of the journal so they can be validated
// early, and replays them on the journal under one lock at Commit.
func (s *MemoryStore) Tx(context.Context) (DataStoreTx, error) {
	s.mu.RLock()
	staged := &MemoryStore{now: s.now, state: s.state.clone()}
	s.mu.RUnlock()
	return &memoryTx{MemoryStore: staged, parent: s}, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

type memoryTx struct {
	*MemoryStore
	parent *MemoryStore
	ops    []func(*memoryState) error
	done   bool
}

func (tx *memoryTx) CreateTown(rec *model.TownRecord) error {
	if err := tx.MemoryStore.CreateTown(rec); err != nil {
		return err
	}
	tx.ops = append(tx.ops, func(st *memoryState) error { return st.createTown(rec, rec.CreatedAt) })
	return nil
}

func (tx *memoryTx) UpdateTown(id, friendlyName string, isPubliclyListed bool) error {
	if err := tx.MemoryStore.UpdateTown(id, friendlyName, isPubliclyListed); err != nil {
		return err
	}
	tx.ops = append(tx.ops, func(st *memoryState) error { return st.updateTown(id, friendlyName, isPubliclyListed) })
	return nil
}

func (tx *memoryTx) MarkTownDeleted(id string, at time.Time) error {
	stamped := tx.stamp(at)
	if err := tx.MemoryStore.MarkTownDeleted(id, stamped); err != nil {
		return err
	}
	tx.ops = append(tx.ops, func(st *memoryState) error { return st.markTownDeleted(id, stamped) })
	return nil
}

func (tx *memoryTx) CreateEvent(event *model.Event) error {
	if err := tx.MemoryStore.CreateEvent(event); err != nil {
		return err
	}
	tx.ops = append(tx.ops, func(st *memoryState) error { st.createEvent(event, event.CreatedAt); return nil })
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return fmt.Errorf("datastore: transaction already finished")
	}
	tx.done = true

	tx.parent.mu.Lock()
	defer tx.parent.mu.Unlock()
	before := tx.parent.state.clone()
	for _, op := range tx.ops {
		if err := op(&tx.parent.state); err != nil {
			tx.parent.state = before
			return fmt.Errorf("datastore: commit: %w", err)
		}
	}
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return fmt.Errorf("datastore: transaction already finished")
	}
	tx.done = true
	return nil
}

func (s *MemoryStore) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return journalTime(t)
}

// ---- Towns ----

func (st *memoryState) createTown(rec *model.TownRecord, createdAt time.Time) error {
	if _, ok := st.towns[rec.ID]; ok {
		return fmt.Errorf("datastore: create town: duplicate id %s", rec.ID)
	}
	rec.CreatedAt = createdAt
	rec.DeletedAt = time.Time{}
	cp := *rec
	st.towns[rec.ID] = &cp
	st.townOrder = append(st.townOrder, rec.ID)
	return nil
}

func (st *memoryState) updateTown(id, friendlyName string, isPubliclyListed bool) error {
	rec, ok := st.towns[id]
	if !ok || rec.IsDeleted() {
		return fmt.Errorf("datastore: update town %s: %w", id, ErrTownNotFound)
	}
	rec.FriendlyName = friendlyName
	rec.IsPubliclyListed = isPubliclyListed
	return nil
}

func (st *memoryState) markTownDeleted(id string, at time.Time) error {
	rec, ok := st.towns[id]
	if !ok {
		return fmt.Errorf("datastore: delete town %s: %w", id, ErrTownNotFound)
	}
	if !rec.IsDeleted() {
		rec.DeletedAt = at
	}
	return nil
}

func (s *MemoryStore) CreateTown(rec *model.TownRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("datastore: create town: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createTown(rec, s.stamp(rec.CreatedAt))
}

func (s *MemoryStore) UpdateTown(id, friendlyName string, isPubliclyListed bool) error {
	if err := model.ValidateFriendlyName(friendlyName); err != nil {
		return fmt.Errorf("datastore: update town: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateTown(id, friendlyName, isPubliclyListed)
}

func (s *MemoryStore) MarkTownDeleted(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.markTownDeleted(id, s.stamp(at))
}

func (s *MemoryStore) GetTown(id string) (*model.TownRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.towns[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListTowns(includeDeleted bool) ([]model.TownRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var towns []model.TownRecord
	for _, id := range s.state.townOrder {
		rec := s.state.towns[id]
		if rec.IsDeleted() && !includeDeleted {
			continue
		}
		towns = append(towns, *rec)
	}
	return towns, nil
}

// ---- Events ----

func (st *memoryState) createEvent(event *model.Event, createdAt time.Time) {
	event.ID = st.nextEventID
	st.nextEventID++
	event.CreatedAt = createdAt
	st.events = append(st.events, *event)
}

func (s *MemoryStore) CreateEvent(event *model.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("datastore: event failed validation: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.createEvent(event, s.stamp(event.CreatedAt))
	return nil
}

func (s *MemoryStore) ListEvents(filters model.EventFilters) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := lo.Filter(s.state.events, func(e model.Event, _ int) bool {
		if filters.TownID != nil && e.TownID != *filters.TownID {
			return false
		}
		if filters.Kind != nil && e.Kind != *filters.Kind {
			return false
		}
		return true
	})
	slices.Reverse(matched)

	limit := int64(defaultEventLimit)
	if filters.Limit != nil {
		limit = *filters.Limit
	}
	if limit >= 0 && int64(len(matched)) > limit {
		matched = matched[:limit]
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return matched, nil
}
