package town

import (
	"github.com/NicolasHaas/townhall/pkg/logging"
	"github.com/NicolasHaas/townhall/pkg/model"
)

// NotificationContent is the stub text listeners receive for a chat message.
func NotificationContent(msg model.MessageRequest) string {
	if msg.IsPublic() {
		return msg.SenderName + " sent you a public message"
	}
	return msg.SenderName + " sent you a private message"
}

// CreateNotification turns a chat message into a notification stub and
// fans it out to every listener of msg.RoomID. No password is required.
// Only the sender name and receiver id leave this function.
func (s *Store) CreateNotification(msg model.MessageRequest) bool {
	c := s.GetControllerForTown(msg.RoomID)
	if c == nil {
		s.log.Debug("notification for unknown town", logging.Town(msg.RoomID))
		return false
	}
	c.Notify(model.NotificationRequest{
		CoveyTownID: msg.RoomID,
		Content:     NotificationContent(msg),
		ReceiverID:  msg.ReceiverID,
	})
	return true
}
