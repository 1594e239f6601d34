// Package town holds the town registry and the per-town listener fanout.
//
// A Store owns every live town for the life of the process. Mutations that
// need the town's update password go through the Store; fanout to
// listeners is done by the Controller.
package town

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/NicolasHaas/townhall/pkg/logging"
	"github.com/NicolasHaas/townhall/pkg/model"
)

// Operation names reported to Observer.AuthorizationFailed.
const (
	OpUpdate       = "update"
	OpDelete       = "delete"
	OpAnnouncement = "announcement"
)

// Observer receives registry lifecycle callbacks. Callbacks run after the
// registry lock is released, so they may call back into the Store.
type Observer interface {
	TownCreated(c *Controller)
	TownUpdated(c *Controller)
	TownDeleted(c *Controller)
	AuthorizationFailed(townID, op string)
	ListenerFault(townID, event string, recovered any)
}

// NopObserver ignores every callback. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) TownCreated(*Controller) {}
func (NopObserver) TownUpdated(*Controller) {}
func (NopObserver) TownDeleted(*Controller) {}
func (NopObserver) AuthorizationFailed(string, string) {}
func (NopObserver) ListenerFault(string, string, any) {}

type multiObserver []Observer

// Observers combines several observers; each callback goes to all of them in order.
func Observers(obs ...Observer) Observer {
	return multiObserver(lo.Filter(obs, func(o Observer, _ int) bool { return o != nil }))
}

func (m multiObserver) TownCreated(c *Controller) {
	for _, o := range m {
		o.TownCreated(c)
	}
}

func (m multiObserver) TownUpdated(c *Controller) {
	for _, o := range m {
		o.TownUpdated(c)
	}
}

func (m multiObserver) TownDeleted(c *Controller) {
	for _, o := range m {
		o.TownDeleted(c)
	}
}

func (m multiObserver) AuthorizationFailed(townID, op string) {
	for _, o := range m {
		o.AuthorizationFailed(townID, op)
	}
}

func (m multiObserver) ListenerFault(townID, event string, recovered any) {
	for _, o := range m {
		o.ListenerFault(townID, event, recovered)
	}
}

// Options configures a Store.
type Options struct {
	// OverridePassword unlocks every town when non-empty.
	OverridePassword string
	// Capacity is the maximum occupancy reported for new towns (default 50).
	Capacity int
	Observer Observer
}

// Store is the registry of live towns.
type Store struct {
	override string
	capacity int
	observer Observer
	log      *slog.Logger

	mu    sync.RWMutex
	towns map[string]*Controller
	order []*Controller // creation order
}

var (
	instanceOnce sync.Once
	instance     *Store
)

// Instance returns the process-wide store, creating it with default options
// on first use.
func Instance() *Store {
	return SetupInstance(Options{})
}

// SetupInstance creates the process-wide store with opts if it does not
// exist yet. Later calls return the existing store and ignore opts.
func SetupInstance(opts Options) *Store {
	instanceOnce.Do(func() {
		instance = NewStore(opts)
	})
	return instance
}

// NewStore creates an independent store.
func NewStore(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = model.TownDefaultCapacity
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	return &Store{
		override: opts.OverridePassword,
		capacity: opts.Capacity,
		observer: opts.Observer,
		log:      logging.For("town-store"),
		towns:    make(map[string]*Controller),
	}
}

// CreateTown registers a new town. Friendly names need not be unique.
func (s *Store) CreateTown(friendlyName string, isPubliclyListed bool) *Controller {
	c := NewController(friendlyName, isPubliclyListed)
	c.capacity = s.capacity
	c.onFault = s.observer.ListenerFault

	s.mu.Lock()
	s.towns[c.id] = c
	s.order = append(s.order, c)
	count := len(s.order)
	s.mu.Unlock()

	s.log.Info("town created", logging.Town(c.id), "name", friendlyName, "public", isPubliclyListed, "towns", count)
	s.observer.TownCreated(c)
	return c
}

// GetControllerForTown returns the live town with the given id, or nil.
func (s *Store) GetControllerForTown(townID string) *Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.towns[townID]
}

// GetTowns lists publicly listed towns in creation order.
func (s *Store) GetTowns() []model.TownListing {
	s.mu.RLock()
	towns := append([]*Controller(nil), s.order...)
	s.mu.RUnlock()

	public := lo.Filter(towns, func(c *Controller, _ int) bool { return c.IsPubliclyListed() })
	return lo.Map(public, func(c *Controller, _ int) model.TownListing { return c.Listing() })
}

// Len returns the number of live towns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.towns)
}

// UpdateTown changes the supplied fields of a town. A nil field is left as
// is. It fails without writing anything if the town is unknown, the
// password does not match, or friendlyName points at an empty string.
func (s *Store) UpdateTown(townID, password string, friendlyName *string, makePublic *bool) bool {
	c := s.authorize(townID, password, OpUpdate)
	if c == nil {
		return false
	}
	if !c.applyUpdate(friendlyName, makePublic) {
		s.log.Debug("town update rejected: empty friendly name", logging.Town(townID))
		return false
	}
	s.log.Info("town updated", logging.Town(townID), "name", c.FriendlyName(), "public", c.IsPubliclyListed())
	s.observer.TownUpdated(c)
	return true
}

// DeleteTown removes a town and then disconnects all of its listeners.
func (s *Store) DeleteTown(townID, password string) bool {
	s.mu.Lock()
	c, ok := s.towns[townID]
	if !ok || !PasswordMatches(password, c.updatePassword, s.override) {
		s.mu.Unlock()
		s.authorizationFailed(townID, OpDelete)
		return false
	}
	delete(s.towns, townID)
	s.order = lo.Without(s.order, c)
	count := len(s.order)
	s.mu.Unlock()

	c.DisconnectAll()
	s.log.Info("town deleted", logging.Town(townID), "towns", count)
	s.observer.TownDeleted(c)
	return true
}

// CreateAnnouncement sends content to every listener of the town as a
// public notification.
func (s *Store) CreateAnnouncement(townID, password, content string) bool {
	c := s.authorize(townID, password, OpAnnouncement)
	if c == nil {
		return false
	}
	c.Notify(model.NotificationRequest{
		CoveyTownID: townID,
		Content:     content,
		ReceiverID:  model.Everyone,
	})
	s.log.Debug("announcement published", logging.Town(townID))
	return true
}

// authorize returns the town if password unlocks it, nil otherwise.
func (s *Store) authorize(townID, password, op string) *Controller {
	c := s.GetControllerForTown(townID)
	if c == nil || !PasswordMatches(password, c.updatePassword, s.override) {
		s.authorizationFailed(townID, op)
		return nil
	}
	return c
}

func (s *Store) authorizationFailed(townID, op string) {
	s.log.Debug("town authorization failed", logging.Town(townID), "op", op)
	s.observer.AuthorizationFailed(townID, op)
}
