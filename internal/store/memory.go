package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore implements Repository in process memory. It backs
// STORE_DRIVER=memory and the chat package tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	rooms    map[string]*domain.Room
	messages map[string]*domain.Message
	order    []string // message IDs in insertion order
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*domain.User),
		rooms:    make(map[string]*domain.Room),
		messages: make(map[string]*domain.Message),
		now:      time.Now,
	}
}

func copyUser(u *domain.User) *domain.User {
	c := *u
	return &c
}

func copyRoom(r *domain.Room) *domain.Room {
	c := *r
	c.Participants = slices.Clone(r.Participants)
	c.MessageIDs = slices.Clone(r.MessageIDs)
	return &c
}

func copyMessage(m *domain.Message) *domain.Message {
	c := *m
	if m.ReadAt != nil {
		ts := *m.ReadAt
		c.ReadAt = &ts
	}
	c.Sender = nil
	c.Receiver = nil
	return &c
}

// GetUser retrieves a user by their user ID.
func (m *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

// UpsertUser creates or updates a user record.
func (m *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := copyUser(user)
	if u.Status == "" {
		u.Status = domain.UserOffline
	}
	now := m.now()
	if existing, ok := m.users[u.UserID]; ok {
		u.CreatedAt = existing.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	m.users[u.UserID] = u
	return nil
}

// FindUsersByIDs returns the users that exist among ids.
func (m *MemoryStore) FindUsersByIDs(_ context.Context, ids []string) ([]*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []*domain.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			users = append(users, copyUser(u))
		}
	}
	return users, nil
}

// UpdateUserStatus sets the presence flag and last seen time of a user.
func (m *MemoryStore) UpdateUserStatus(_ context.Context, userID string, status domain.UserStatus, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.Status = status
	u.LastSeenAt = lastSeen
	u.UpdatedAt = m.now()
	return nil
}

// ListUsersByStatus returns every user currently stored with status.
func (m *MemoryStore) ListUsersByStatus(_ context.Context, status domain.UserStatus) ([]*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []*domain.User
	for _, u := range m.users {
		if u.Status == status {
			users = append(users, copyUser(u))
		}
	}
	return users, nil
}

// CreateRoom persists a room and assigns its ID when empty.
func (m *MemoryStore) CreateRoom(_ context.Context, room *domain.Room) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := copyRoom(room)
	if r.RoomID == "" {
		r.RoomID = uuid.NewString()
	}
	if _, exists := m.rooms[r.RoomID]; exists {
		return nil, fmt.Errorf("create room %s: already exists", r.RoomID)
	}
	now := m.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.MessageIDs = nil
	r.LastMessageID = ""
	m.rooms[r.RoomID] = r
	return copyRoom(r), nil
}

// FindRoomByID retrieves a room with its participants and message references.
func (m *MemoryStore) FindRoomByID(_ context.Context, roomID string) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return copyRoom(r), nil
}

// AppendMessageToRoom pushes messageID onto the room and sets it as the last message.
func (m *MemoryStore) AppendMessageToRoom(_ context.Context, roomID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: room %s", domain.ErrNotFound, roomID)
	}
	r.MessageIDs = append(r.MessageIDs, messageID)
	r.LastMessageID = messageID
	r.UpdatedAt = m.now()
	return nil
}

// CreateMessage persists a message, assigning MessageID and CreatedAt.
func (m *MemoryStore) CreateMessage(_ context.Context, msg *domain.Message) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := copyMessage(msg)
	c.MessageID = uuid.NewString()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	if c.Status == "" {
		c.Status = domain.StatusSent
	}
	m.messages[c.MessageID] = c
	m.order = append(m.order, c.MessageID)
	return copyMessage(c), nil
}

// GetMessage retrieves a message by ID.
func (m *MemoryStore) GetMessage(_ context.Context, messageID string) (*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[messageID]
	if !ok {
		return nil, nil
	}
	return copyMessage(msg), nil
}

// UpdateMessageStatus advances a message status; backwards or repeated updates are ignored.
func (m *MemoryStore) UpdateMessageStatus(_ context.Context, messageID string, status domain.MessageStatus, readAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageID]
	if !ok || !msg.Status.CanAdvanceTo(status) {
		return nil
	}
	msg.Status = status
	if readAt != nil {
		ts := *readAt
		msg.ReadAt = &ts
	}
	return nil
}

// FindRecentMessages returns up to limit messages matching filter, most recent first.
func (m *MemoryStore) FindRecentMessages(_ context.Context, filter MessageFilter, limit int) ([]*domain.Message, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*domain.Message
	for i := len(m.order) - 1; i >= 0; i-- {
		msg := m.messages[m.order[i]]
		if matchesFilter(msg, filter) {
			matched = append(matched, copyMessage(msg))
		}
	}

	// Stable sort keeps later inserts first among equal timestamps.
	slices.SortStableFunc(matched, func(a, b *domain.Message) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:max(limit, 0)]
	}
	return matched, nil
}

func matchesFilter(msg *domain.Message, f MessageFilter) bool {
	if f.RoomID != "" {
		return msg.MessageType == domain.MessageRoom && msg.RoomID == f.RoomID
	}
	if msg.MessageType != domain.MessagePrivate {
		return false
	}
	return (msg.SenderID == f.UserA && msg.ReceiverID == f.UserB) ||
		(msg.SenderID == f.UserB && msg.ReceiverID == f.UserA)
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
