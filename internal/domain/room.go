package domain

import (
	"slices"
	"time"
)

// Room is a group chat channel with a fixed participant list.
type Room struct {
	RoomID        string    `json:"id"`
	Name          string    `json:"name"`
	Participants  []string  `json:"participants"`
	MessageIDs    []string  `json:"-"`
	LastMessageID string    `json:"lastMessage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is listed on the room.
func (r *Room) HasParticipant(userID string) bool {
	return slices.Contains(r.Participants, userID)
}
