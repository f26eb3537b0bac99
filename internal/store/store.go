// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
)

// Repository defines the persistence operations the chat gateway depends on.
// Lookups return (nil, nil) when the record does not exist.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// FindUsersByIDs returns the users that exist among ids, in no particular order.
	FindUsersByIDs(ctx context.Context, ids []string) ([]*domain.User, error)

	// UpdateUserStatus sets the presence flag and last seen time of a user.
	UpdateUserStatus(ctx context.Context, userID string, status domain.UserStatus, lastSeen time.Time) error

	// ListUsersByStatus returns every user currently stored with status.
	ListUsersByStatus(ctx context.Context, status domain.UserStatus) ([]*domain.User, error)

	// CreateRoom persists a room and assigns its ID when empty.
	CreateRoom(ctx context.Context, room *domain.Room) (*domain.Room, error)

	// FindRoomByID retrieves a room with its participants and message references.
	FindRoomByID(ctx context.Context, roomID string) (*domain.Room, error)

	// AppendMessageToRoom pushes messageID onto the room's message list and
	// sets it as the last message. Both fields change together or not at all.
	AppendMessageToRoom(ctx context.Context, roomID, messageID string) error

	// CreateMessage persists a message, assigning MessageID and CreatedAt.
	CreateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)

	// UpdateMessageStatus advances a message status. Updates that would not
	// move the status forward are ignored. readAt is only written when non-nil.
	UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus, readAt *time.Time) error

	// FindRecentMessages returns up to limit messages matching filter, most recent first.
	FindRecentMessages(ctx context.Context, filter MessageFilter, limit int) ([]*domain.Message, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// MessageFilter selects either a room's messages or the private conversation
// between two users.
type MessageFilter struct {
	RoomID string
	UserA  string
	UserB  string
}

// RoomFilter selects room messages.
func RoomFilter(roomID string) MessageFilter {
	return MessageFilter{RoomID: roomID}
}

// ConversationFilter selects private messages exchanged between a and b in either direction.
func ConversationFilter(a, b string) MessageFilter {
	return MessageFilter{UserA: a, UserB: b}
}

// Validate checks that exactly one selection mode is set.
func (f MessageFilter) Validate() error {
	switch {
	case f.RoomID != "" && (f.UserA != "" || f.UserB != ""):
		return fmt.Errorf("%w: filter selects both a room and a conversation", domain.ErrValidation)
	case f.RoomID != "":
		return nil
	case f.UserA != "" && f.UserB != "":
		return nil
	default:
		return fmt.Errorf("%w: filter needs a room or both conversation users", domain.ErrValidation)
	}
}
