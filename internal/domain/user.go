// Package domain contains core domain types for the chat gateway.
package domain

import (
	"time"
)

// UserStatus is the persisted presence flag of a user.
type UserStatus string

const (
	UserOnline  UserStatus = "online"
	UserOffline UserStatus = "offline"
)

// User represents a registered chat user. Accounts are created by the
// external identity service; the gateway only reads them and updates Status.
type User struct {
	UserID     string     `json:"userId"`
	Username   string     `json:"username"`
	Avatar     string     `json:"avatar"`
	Status     UserStatus `json:"status"`
	LastSeenAt time.Time  `json:"lastSeen"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Summary returns the display fields embedded into messages.
func (u *User) Summary() *UserSummary {
	return &UserSummary{UserID: u.UserID, Username: u.Username, Avatar: u.Avatar}
}

// UserSummary is the display projection of a user attached to messages.
type UserSummary struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Identity is the authenticated principal of a connection. It is trusted for
// the remainder of the session.
type Identity struct {
	UserID      string
	DisplayName string
	Avatar      string
}
