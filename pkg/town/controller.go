package town

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/NicolasHaas/townhall/pkg/crypto"
	"github.com/NicolasHaas/townhall/pkg/logging"
	"github.com/NicolasHaas/townhall/pkg/model"
)

// faultFunc is told about a listener that panicked during fanout.
type faultFunc func(townID, event string, recovered any)

// Controller is one live town: its identity, display attributes, roster and
// listener fanout.
type Controller struct {
	id             string
	updatePassword string
	capacity       int
	log            *slog.Logger
	onFault        faultFunc

	mu           sync.RWMutex
	friendlyName string
	isPublic     bool
	listeners    []Listener
	players      map[string]*model.Player
	playerOrder  []string
}

// NewController creates a town with a fresh id and update password.
func NewController(friendlyName string, isPubliclyListed bool) *Controller {
	return &Controller{
		id:             uuid.NewString(),
		updatePassword: crypto.MustGeneratePassword(),
		capacity:       model.TownDefaultCapacity,
		log:            logging.For("town"),
		friendlyName:   friendlyName,
		isPublic:       isPubliclyListed,
		players:        make(map[string]*model.Player),
	}
}

// ID returns the immutable town id.
func (c *Controller) ID() string { return c.id }

// UpdatePassword returns the secret required to update, delete or announce.
func (c *Controller) UpdatePassword() string { return c.updatePassword }

// Capacity returns the maximum occupancy reported in listings.
func (c *Controller) Capacity() int { return c.capacity }

func (c *Controller) FriendlyName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.friendlyName
}

func (c *Controller) IsPubliclyListed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isPublic
}

// Occupancy returns the number of players currently in the town.
func (c *Controller) Occupancy() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.players)
}

// ListenerCount returns how many listeners are registered.
func (c *Controller) ListenerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners)
}

// Listing returns the public list entry for this town.
func (c *Controller) Listing() model.TownListing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return model.TownListing{
		CoveyTownID:      c.id,
		FriendlyName:     c.friendlyName,
		CurrentOccupancy: len(c.players),
		MaximumOccupancy: c.capacity,
	}
}

// AddListener registers l. Listeners are never removed; fanout follows
// registration order.
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Notify delivers req to every listener's OnMessageNotify.
func (c *Controller) Notify(req model.NotificationRequest) {
	c.fanout("message_notify", func(l Listener) { l.OnMessageNotify(req) })
}

// DisconnectAll tells every listener the town is being destroyed. It does
// not remove the town from any store and may be called more than once.
func (c *Controller) DisconnectAll() {
	c.fanout("town_destroyed", func(l Listener) { l.OnTownDestroyed() })
}

// AddPlayer puts a new player in the roster and announces it.
func (c *Controller) AddPlayer(userName string) model.Player {
	p := &model.Player{ID: uuid.NewString(), UserName: userName}
	c.mu.Lock()
	c.players[p.ID] = p
	c.playerOrder = append(c.playerOrder, p.ID)
	snapshot := *p
	c.mu.Unlock()

	c.fanout("player_joined", func(l Listener) { l.OnPlayerJoined(snapshot) })
	return snapshot
}

// UpdatePlayerLocation moves a player and announces the move. Returns false
// if the player is not in this town.
func (c *Controller) UpdatePlayerLocation(playerID string, loc model.Location) bool {
	c.mu.Lock()
	p, ok := c.players[playerID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	p.Location = loc
	snapshot := *p
	c.mu.Unlock()

	c.fanout("player_moved", func(l Listener) { l.OnPlayerMoved(snapshot) })
	return true
}

// RemovePlayer drops a player from the roster and announces the disconnect.
func (c *Controller) RemovePlayer(playerID string) bool {
	c.mu.Lock()
	p, ok := c.players[playerID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.players, playerID)
	c.playerOrder = lo.Without(c.playerOrder, playerID)
	snapshot := *p
	c.mu.Unlock()

	c.fanout("player_disconnected", func(l Listener) { l.OnPlayerDisconnected(snapshot) })
	return true
}

// Players returns the roster in join order.
func (c *Controller) Players() []model.Player {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.Map(c.playerOrder, func(id string, _ int) model.Player {
		return *c.players[id]
	})
}

// applyUpdate writes the supplied fields. An empty friendly name rejects the
// whole update before anything is written.
func (c *Controller) applyUpdate(friendlyName *string, makePublic *bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if friendlyName != nil && *friendlyName == "" {
		return false
	}
	if friendlyName != nil {
		c.friendlyName = *friendlyName
	}
	if makePublic != nil {
		c.isPublic = *makePublic
	}
	return true
}

func (c *Controller) snapshotListeners() []Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Listener(nil), c.listeners...)
}

// fanout runs call for each listener registered when fanout started.
func (c *Controller) fanout(event string, call func(Listener)) {
	for _, l := range c.snapshotListeners() {
		c.dispatch(event, l, call)
	}
}

// dispatch isolates one listener: a panic is logged and reported, and the
// remaining listeners still receive the event.
func (c *Controller) dispatch(event string, l Listener, call func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("listener panicked during fanout", logging.Town(c.id), "event", event, "panic", r)
			if c.onFault != nil {
				c.onFault(c.id, event, r)
			}
		}
	}()
	call(l)
}
