// Package chat implements the connection, presence and routing core of the
// chat gateway.
package chat

import (
	"encoding/json"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
)

// Inbound event names.
const (
	EventGetOnlineUsers     = "getOnlineUsers"
	EventInitialPrivateChat = "initialPrivateChat"
	EventSendPrivateMessage = "sendPrivateMessage"
	EventJoinRoom           = "joinRoom"
	EventSendRoomMessage    = "sendRoomMessage"
	EventTyping             = "typing"
	EventStopTyping         = "stopTyping"
	EventMarkMessageRead    = "markMessageRead"
	EventLeaveRoom          = "leaveRoom"
)

// Outbound event names.
const (
	EventUserOnline           = "userOnline"
	EventUserOffline          = "userOffline"
	EventOnlineUsers          = "onlineUsers"
	EventPrivateChatInitiated = "privateChatInitiated"
	EventNewPrivateMessage    = "newPrivateMessage"
	EventRoomJoined           = "roomJoined"
	EventUserJoinedRoom       = "userJoinedRoom"
	EventNewRoomMessage       = "newRoomMessage"
	EventUserTyping           = "userTyping"
	EventUserStoppedTyping    = "userStoppedTyping"
	EventMessageRead          = "messageRead"
	EventUserLeft             = "userLeft"
	EventUserLeftRoom         = "userLeftRoom"
	EventError                = "Error"
)

// Event is a single named frame exchanged with a client.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// inboundFrame keeps the payload raw so each handler decodes its own shape.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound payloads.

type privateChatRequest struct {
	ReceiverID string `json:"receiverId"`
}

type sendPrivateRequest struct {
	ReceiverID  string             `json:"receiverId"`
	Message     string             `json:"message"`
	MessageType domain.ContentKind `json:"messageType"`
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

type sendRoomRequest struct {
	RoomID      string             `json:"roomId"`
	Message     string             `json:"message"`
	MessageType domain.ContentKind `json:"messageType"`
}

type typingRequest struct {
	RoomID     string `json:"roomId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
}

type markReadRequest struct {
	MessageID string `json:"messageId"`
}

// Outbound payloads.

type userPayload struct {
	UserID string `json:"userId"`
}

type onlineUsersPayload struct {
	Users []*domain.User `json:"users"`
}

type privateChatPayload struct {
	WithUser string            `json:"withUser"`
	Messages []*domain.Message `json:"messages"`
	IsOnline bool              `json:"isOnline"`
}

type messagePayload struct {
	RoomID  string          `json:"roomId,omitempty"`
	Message *domain.Message `json:"message"`
}

type roomJoinedPayload struct {
	Room         *domain.Room      `json:"room"`
	Participants []*domain.User    `json:"participants"`
	Messages     []*domain.Message `json:"messages"`
}

type roomUserPayload struct {
	RoomID string              `json:"roomId"`
	UserID string              `json:"userId"`
	User   *domain.UserSummary `json:"user,omitempty"`
}

type typingPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId,omitempty"`
}

type messageReadPayload struct {
	MessageID string    `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
}

type errorPayload struct {
	Message string `json:"message"`
}
