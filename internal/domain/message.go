package domain

import (
	"time"
)

// MessageType tells whether a message targets a user or a room.
type MessageType string

const (
	MessagePrivate MessageType = "private"
	MessageRoom    MessageType = "room"
)

// ContentKind describes the payload carried in a message body.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
	ContentFile  ContentKind = "file"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	switch k {
	case ContentText, ContentImage, ContentFile:
		return true
	}
	return false
}

// MessageStatus is the delivery lifecycle stage of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses along sent < delivered < read. Unknown values rank 0.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle monotonic.
// Skipping a stage is allowed, staying or going back is not.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.Rank() > s.Rank()
}

// Message is a persisted chat message. Only Status and ReadAt change after creation.
type Message struct {
	MessageID   string        `json:"id"`
	SenderID    string        `json:"senderId"`
	ReceiverID  string        `json:"receiverId,omitempty"`
	RoomID      string        `json:"roomId,omitempty"`
	Body        string        `json:"message"`
	MessageType MessageType   `json:"messageType"`
	ContentKind ContentKind   `json:"contentType"`
	Status      MessageStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	ReadAt      *time.Time    `json:"readAt,omitempty"`

	Sender   *UserSummary `json:"sender,omitempty"`
	Receiver *UserSummary `json:"receiver,omitempty"`
}

// IsPrivate reports whether the message is a direct message.
func (m *Message) IsPrivate() bool {
	return m.MessageType == MessagePrivate
}
