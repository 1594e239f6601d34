//go:generate go run go.uber.org/mock/mockgen -source=listener.go -destination=townmock/listener.go -package=townmock

package town

import "github.com/NicolasHaas/townhall/pkg/model"

// Listener observes one town. Every method is called synchronously from the
// goroutine that triggered the event, in registration order.
type Listener interface {
	OnPlayerJoined(newPlayer model.Player)
	OnPlayerMoved(movedPlayer model.Player)
	OnPlayerDisconnected(removedPlayer model.Player)
	OnTownDestroyed()
	OnMessageNotify(req model.NotificationRequest)
}

// ListenerFuncs adapts a set of optional callbacks to Listener.
// Nil fields are skipped.
type ListenerFuncs struct {
	PlayerJoined       func(model.Player)
	PlayerMoved        func(model.Player)
	PlayerDisconnected func(model.Player)
	TownDestroyed      func()
	MessageNotify      func(model.NotificationRequest)
}

var _ Listener = ListenerFuncs{}

func (f ListenerFuncs) OnPlayerJoined(p model.Player) {
	if f.PlayerJoined != nil {
		f.PlayerJoined(p)
	}
}

func (f ListenerFuncs) OnPlayerMoved(p model.Player) {
	if f.PlayerMoved != nil {
		f.PlayerMoved(p)
	}
}

func (f ListenerFuncs) OnPlayerDisconnected(p model.Player) {
	if f.PlayerDisconnected != nil {
		f.PlayerDisconnected(p)
	}
}

func (f ListenerFuncs) OnTownDestroyed() {
	if f.TownDestroyed != nil {
		f.TownDestroyed()
	}
}

func (f ListenerFuncs) OnMessageNotify(req model.NotificationRequest) {
	if f.MessageNotify != nil {
		f.MessageNotify(req)
	}
}
