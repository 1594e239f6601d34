package town

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/NicolasHaas/townhall/pkg/model"
	"github.com/NicolasHaas/townhall/pkg/town/townmock"
)

func TestControllerDisconnectAllNotifiesEveryListener(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := NewController("plaza", true)

	const n = 3
	for range n {
		l := townmock.NewMockListener(ctrl)
		// Given each listener expects exactly one destroy and no messages
		l.EXPECT().OnTownDestroyed().Times(1)
		l.EXPECT().OnMessageNotify(gomock.Any()).Times(0)
		c.AddListener(l)
	}

	// When the town disconnects everyone
	c.DisconnectAll()
}

func TestControllerDisconnectAllTwiceNotifiesTwice(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := NewController("plaza", true)

	l := townmock.NewMockListener(ctrl)
	l.EXPECT().OnTownDestroyed().Times(2)
	c.AddListener(l)

	c.DisconnectAll()
	c.DisconnectAll()
}

func TestControllerNotifyFollowsRegistrationOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := NewController("plaza", true)
	req := model.NotificationRequest{CoveyTownID: c.ID(), Content: "hello", ReceiverID: model.Everyone}

	first := townmock.NewMockListener(ctrl)
	second := townmock.NewMockListener(ctrl)
	third := townmock.NewMockListener(ctrl)
	gomock.InOrder(
		first.EXPECT().OnMessageNotify(req),
		second.EXPECT().OnMessageNotify(req),
		third.EXPECT().OnMessageNotify(req),
	)
	c.AddListener(first)
	c.AddListener(second)
	c.AddListener(third)

	c.Notify(req)
}

func TestControllerIsolatesPanickingListener(t *testing.T) {
	req := require.New(t)
	c := NewController("plaza", true)

	var faults []string
	c.onFault = func(townID, event string, recovered any) {
		req.Equal(c.ID(), townID)
		req.Equal("boom", recovered)
		faults = append(faults, event)
	}

	var got []string
	c.AddListener(ListenerFuncs{MessageNotify: func(model.NotificationRequest) { got = append(got, "first") }})
	c.AddListener(ListenerFuncs{MessageNotify: func(model.NotificationRequest) { panic("boom") }})
	c.AddListener(ListenerFuncs{MessageNotify: func(model.NotificationRequest) { got = append(got, "third") }})

	req.NotPanics(func() {
		c.Notify(model.NotificationRequest{Content: "x", ReceiverID: model.Everyone})
	})
	req.Equal([]string{"first", "third"}, got)
	req.Equal([]string{"message_notify"}, faults)
}

func TestControllerListenerAddedDuringFanoutMissesThatFanout(t *testing.T) {
	req := require.New(t)
	c := NewController("plaza", true)

	late := 0
	lateListener := ListenerFuncs{TownDestroyed: func() { late++ }}
	c.AddListener(ListenerFuncs{TownDestroyed: func() { c.AddListener(lateListener) }})

	c.DisconnectAll()
	req.Equal(0, late)
	req.Equal(2, c.ListenerCount())

	c.DisconnectAll()
	req.Equal(1, late)
}

func TestControllerRoster(t *testing.T) {
	req := require.New(t)
	c := NewController("plaza", true)

	var joined, moved, left []string
	c.AddListener(ListenerFuncs{
		PlayerJoined:       func(p model.Player) { joined = append(joined, p.UserName) },
		PlayerMoved:        func(p model.Player) { moved = append(moved, p.UserName) },
		PlayerDisconnected: func(p model.Player) { left = append(left, p.UserName) },
	})

	alice := c.AddPlayer("alice")
	bob := c.AddPlayer("bob")
	req.NotEqual(alice.ID, bob.ID)
	req.Equal(2, c.Occupancy())
	req.Equal(2, c.Listing().CurrentOccupancy)

	loc := model.Location{X: 10, Y: 20, Rotation: "front", Moving: true}
	req.True(c.UpdatePlayerLocation(bob.ID, loc))
	req.False(c.UpdatePlayerLocation("nobody", loc))

	req.True(c.RemovePlayer(alice.ID))
	req.False(c.RemovePlayer(alice.ID))

	players := c.Players()
	req.Len(players, 1)
	req.Equal("bob", players[0].UserName)
	req.Equal(loc, players[0].Location)

	req.Equal([]string{"alice", "bob"}, joined)
	req.Equal([]string{"bob"}, moved)
	req.Equal([]string{"alice"}, left)
}

func TestControllerApplyUpdate(t *testing.T) {
	req := require.New(t)
	c := NewController("plaza", false)

	empty := ""
	public := true
	req.False(c.applyUpdate(&empty, &public))
	req.Equal("plaza", c.FriendlyName())
	req.False(c.IsPubliclyListed())

	req.True(c.applyUpdate(nil, &public))
	req.Equal("plaza", c.FriendlyName())
	req.True(c.IsPubliclyListed())

	req.True(c.applyUpdate(nil, nil))
}

func TestControllerConcurrentFanoutAndRegistration(t *testing.T) {
	c := NewController("plaza", true)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.AddListener(ListenerFuncs{})
		}()
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				c.Notify(model.NotificationRequest{ReceiverID: model.Everyone})
			} else {
				c.AddPlayer("p")
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 50, c.ListenerCount())
	require.Equal(t, 25, c.Occupancy())
}
