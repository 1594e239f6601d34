package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Everyone is the receiver id used for public messages and announcements.
const Everyone = "Everyone"

const MaxNotificationContentLength = 512

var ErrContentEmpty = errors.New("content must not be empty")
var ErrContentTooLong = fmt.Errorf("content exceeds %d characters", MaxNotificationContentLength)

// NotificationRequest is the stub handed to town listeners in place of a
// full chat payload.
type NotificationRequest struct {
	CoveyTownID string `json:"coveyTownID"`
	Content     string `json:"content"`
	ReceiverID  string `json:"receiverID"`
}

// IsPublic reports whether the notification targets every member.
func (n NotificationRequest) IsPublic() bool {
	return n.ReceiverID == Everyone
}

// MessageRequest is a chat message posted to a town. Only the sender name
// and the receiver id survive notification routing.
type MessageRequest struct {
	SenderName   string `json:"senderName" validate:"required"`
	SenderID     string `json:"senderID" validate:"required"`
	ReceiverName string `json:"receiverName"`
	ReceiverID   string `json:"receiverID" validate:"required"`
	RoomName     string `json:"roomName"`
	RoomID       string `json:"roomID"`
	Content      string `json:"content"`
	Time         string `json:"time"`
}

// IsPublic reports whether the message was sent to the whole town.
func (m MessageRequest) IsPublic() bool {
	return m.ReceiverID == Everyone
}

// ValidateContent checks announcement text.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrContentEmpty
	}
	if utf8.RuneCountInString(content) > MaxNotificationContentLength {
		return ErrContentTooLong
	}
	return nil
}
